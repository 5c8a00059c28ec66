package intake

import (
	"context"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"

	"inviqa/mqtt-outbox-relay/newrelic"
	"inviqa/mqtt-outbox-relay/outbox/data"
	"inviqa/mqtt-outbox-relay/transform"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type backlog interface {
	Oldest() (*Entry, error)
	Snapshot() ([]*Entry, error)
	Count() (int, error)
	Delete(logicalTime int64) error
}

type publisher interface {
	PublishAll(logicalTime int64, pubs []transform.Publication) error
	WaitForInflight(ctx context.Context, maxAttempts int, poll time.Duration) error
}

type router interface {
	Route(kind transform.Kind, rec map[string]interface{}) ([]transform.Publication, []error)
}

type Options struct {
	InflightAttempts int
	InflightWait     time.Duration
}

// Drainer consumes the backlog one row at a time. A row is deleted before it
// is published, so a row is never handed over twice even if delivery fails.
type Drainer struct {
	backlog backlog
	router  router
	pub     publisher
	logger  logrus.FieldLogger
	nrApp   *nr.Application
	opts    Options
	drained func()
}

func NewDrainer(b backlog, r router, p publisher, logger logrus.FieldLogger, nrApp *nr.Application, opts Options) *Drainer {
	return &Drainer{
		backlog: b,
		router:  r,
		pub:     p,
		logger:  logger,
		nrApp:   nrApp,
		opts:    opts,
		drained: func() {},
	}
}

// OnDrained registers a callback run for every row taken off the backlog.
func (d *Drainer) OnDrained(fn func()) {
	d.drained = fn
}

// DrainOne publishes the oldest backlog row. It reports whether a row was
// consumed. A locked backlog is left for the next call.
func (d *Drainer) DrainOne() (bool, error) {
	e, err := d.backlog.Oldest()
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}

	return d.consume(e)
}

// Catchup drains the backlog while it holds more than threshold rows. Each
// round works through the rows present when it started, so rows added
// meanwhile are only seen by the next count.
func (d *Drainer) Catchup(ctx context.Context, threshold int) (int, error) {
	total := 0
	for {
		n, err := d.backlog.Count()
		if err != nil {
			return total, err
		}
		if n <= threshold {
			return total, nil
		}

		d.logger.WithFields(logrus.Fields{"rows": n, "threshold": threshold}).Info("catching up on the backlog")
		consumed, err := d.catchupBatch(ctx)
		total += consumed
		if err != nil {
			return total, err
		}
		if consumed == 0 {
			d.logger.WithField("rows", n).Warn("no backlog rows could be consumed, catchup postponed")
			return total, nil
		}
	}
}

func (d *Drainer) catchupBatch(parent context.Context) (int, error) {
	ctx, txn := newrelic.ContextWithTxn(parent, "intake: Drainer.Catchup()", d.nrApp)
	defer txn.End()

	entries, err := d.backlog.Snapshot()
	if err != nil {
		txn.NoticeError(err)
		return 0, err
	}

	consumed := 0
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return consumed, err
		}

		ok, err := d.consume(e)
		if err != nil {
			txn.NoticeError(err)
			return consumed, err
		}
		if ok {
			consumed++
		}
		d.logger.WithFields(logrus.Fields{"row": i + 1, "of": len(entries)}).Debug("catchup progress")
	}

	return consumed, d.pub.WaitForInflight(ctx, d.opts.InflightAttempts, d.opts.InflightWait)
}

func (d *Drainer) consume(e *Entry) (bool, error) {
	logger := d.logger.WithFields(logrus.Fields{"logical_time": e.LogicalTime, "kind": e.Kind})

	if err := d.backlog.Delete(e.LogicalTime); err != nil {
		if data.IsLocked(err) {
			logger.WithError(err).Warn("backlog is locked, row left for the next cycle")
			return false, nil
		}
		return false, err
	}
	d.drained()

	if e.Kind != transform.Loop && e.Kind != transform.Archive {
		logger.Error("unknown backlog record kind, row dropped")
		return true, nil
	}

	var rec map[string]interface{}
	if err := json.Unmarshal(e.Data, &rec); err != nil {
		logger.WithError(err).Error("unable to decode backlog row, row dropped")
		return true, nil
	}

	pubs, errs := d.router.Route(e.Kind, rec)
	for _, err := range errs {
		logger.WithError(err).Error("error rendering backlog row")
	}

	if err := d.pub.PublishAll(e.LogicalTime, pubs); err != nil {
		return true, errors.Wrapf(err, "intake: error publishing backlog row %d", e.LogicalTime)
	}
	logger.WithField("publications", len(pubs)).Debug("published backlog row")

	return true, nil
}
