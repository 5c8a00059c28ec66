package supervisor

import (
	"context"
	"io"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"inviqa/mqtt-outbox-relay/transform"
)

type router interface {
	Route(kind transform.Kind, rec map[string]interface{}) ([]transform.Publication, []error)
}

type LiveOptions struct {
	Options
	// IdleWait is how long to wait for new events before looking after the
	// session again.
	IdleWait time.Duration
}

// Live publishes the records pushed by the in-process producer through a
// handoff queue.
type Live struct {
	base
	handoff *Handoff
	router  router
	lopts   LiveOptions
}

func NewLive(e engine, r router, ledger io.Closer, logger logrus.FieldLogger, nrApp *nr.Application, opts LiveOptions) *Live {
	return &Live{
		base:    newBase("live", e, ledger, logger, nrApp, opts.Options),
		handoff: NewHandoff(),
		router:  r,
		lopts:   opts,
	}
}

// Submit hands an event to the supervisor without blocking. Events submitted
// after shutdown began are dropped.
func (l *Live) Submit(ev Event) {
	if !l.handoff.Put(ev) {
		l.logger.WithField("logical_time", ev.LogicalTime).Warn("publisher is shutting down, event dropped")
	}
}

// Run drives the supervisor until ctx is done or an unrecoverable error
// occurs. Events already queued at shutdown are still published.
func (l *Live) Run(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		l.handoff.Close()
		return err
	}

	l.setState(Running)
	err := l.run(ctx)
	l.handoff.Close()
	if err == nil {
		err = l.publishQueued()
	}
	if drainErr := l.drain(); err == nil {
		err = drainErr
	}

	return err
}

func (l *Live) run(ctx context.Context) error {
	if err := l.republish(ctx); err != nil {
		return err
	}

	ready := func() bool { return l.handoff.Len() > 0 }
	for ctx.Err() == nil {
		if err := l.maintain(ctx); err != nil {
			return err
		}

		if ev, ok := l.handoff.Take(); ok {
			if err := l.publish(ev); err != nil {
				return err
			}
			if err := l.engine.PumpUntil(ctx, 0, nil); err != nil && ctx.Err() == nil {
				if err := l.tolerateLock(err); err != nil {
					return err
				}
			}
			continue
		}

		if err := l.idle(ctx, l.lopts.IdleWait, l.handoff.Wake(), ready); err != nil {
			return err
		}
	}

	return nil
}

func (l *Live) publishQueued() error {
	for {
		ev, ok := l.handoff.Take()
		if !ok {
			return nil
		}
		if err := l.publish(ev); err != nil {
			return err
		}
	}
}

func (l *Live) publish(ev Event) error {
	logger := l.logger.WithFields(logrus.Fields{"logical_time": ev.LogicalTime, "kind": ev.Kind})

	pubs, errs := l.router.Route(ev.Kind, ev.Record)
	for _, err := range errs {
		logger.WithError(err).Error("error rendering live record")
	}

	if err := l.engine.PublishAll(ev.LogicalTime, pubs); err != nil {
		return l.tolerateLock(err)
	}
	logger.WithField("publications", len(pubs)).Debug("published live record")

	return nil
}
