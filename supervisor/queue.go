package supervisor

import (
	"context"
	"io"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

type drainer interface {
	DrainOne() (bool, error)
	Catchup(ctx context.Context, threshold int) (int, error)
}

type QueueOptions struct {
	Options
	CatchupCount    int
	WaitBeforeRetry time.Duration
	PublishInterval time.Duration
	PublishDelay    time.Duration
}

// Queue publishes the backlog written by an external producer, one row at a
// time, sleeping between polls when the backlog is empty.
type Queue struct {
	base
	drainer drainer
	qopts   QueueOptions
}

func NewQueue(e engine, d drainer, ledger io.Closer, logger logrus.FieldLogger, nrApp *nr.Application, opts QueueOptions) *Queue {
	return &Queue{
		base:    newBase("queue", e, ledger, logger, nrApp, opts.Options),
		drainer: d,
		qopts:   opts,
	}
}

// Run drives the supervisor until ctx is done or an unrecoverable error
// occurs. It always leaves the supervisor Stopped.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.connect(ctx); err != nil {
		return err
	}

	q.setState(Running)
	err := q.run(ctx)
	if drainErr := q.drain(); err == nil {
		err = drainErr
	}

	return err
}

func (q *Queue) run(ctx context.Context) error {
	if _, err := q.drainer.Catchup(ctx, q.qopts.CatchupCount); err != nil && ctx.Err() == nil {
		if err := q.tolerateLock(err); err != nil {
			return err
		}
	}
	if err := q.republish(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		if err := q.maintain(ctx); err != nil {
			return err
		}

		ok, err := q.drainer.DrainOne()
		if err != nil {
			if err := q.tolerateLock(err); err != nil {
				return err
			}
		}
		if ok {
			if err := q.engine.PumpUntil(ctx, 0, nil); err != nil && ctx.Err() == nil {
				if err := q.tolerateLock(err); err != nil {
					return err
				}
			}
			continue
		}

		if err := q.idle(ctx, q.idleWait(q.now()), nil, nil); err != nil {
			return err
		}
	}

	return nil
}

// idleWait sleeps to the end of the current publish interval plus the delay,
// or for wait_before_retry when no interval is set.
func (q *Queue) idleWait(now time.Time) time.Duration {
	if q.qopts.PublishInterval <= 0 {
		return q.qopts.WaitBeforeRetry
	}

	end := now.Truncate(q.qopts.PublishInterval).Add(q.qopts.PublishInterval)

	return end.Sub(now) + q.qopts.PublishDelay
}
