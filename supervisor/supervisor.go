package supervisor

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	nr "github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"inviqa/mqtt-outbox-relay/delivery"
	"inviqa/mqtt-outbox-relay/newrelic"
	"inviqa/mqtt-outbox-relay/outbox/data"
	"inviqa/mqtt-outbox-relay/transform"
)

type engine interface {
	Connect(ctx context.Context) error
	Connected() bool
	PumpUntil(ctx context.Context, timeout time.Duration, wake <-chan struct{}) error
	PublishAll(logicalTime int64, pubs []transform.Publication) error
	NeedsRepublish() bool
	RepublishUnconfirmed(ctx context.Context) (int, error)
	Cleanup() (int64, error)
	CancelStale(maxAge time.Duration) (int64, error)
	Shutdown(ctx context.Context) error
}

// Options are the timings shared by both supervisors.
type Options struct {
	Keepalive       time.Duration
	CleanupInterval time.Duration
	StaleAfter      time.Duration
}

// base holds the lifecycle every supervisor goes through. It is driven by a
// single goroutine, apart from State which may be read from anywhere.
type base struct {
	name   string
	engine engine
	ledger io.Closer
	logger logrus.FieldLogger
	nrApp  *nr.Application
	opts   Options
	now    func() time.Time

	state       int32
	lastCleanup time.Time
}

func newBase(name string, e engine, ledger io.Closer, logger logrus.FieldLogger, nrApp *nr.Application, opts Options) base {
	return base{
		name:   name,
		engine: e,
		ledger: ledger,
		logger: logger,
		nrApp:  nrApp,
		opts:   opts,
		now:    time.Now,
		state:  int32(Starting),
	}
}

func (b *base) State() State {
	return State(atomic.LoadInt32(&b.state))
}

func (b *base) setState(s State) {
	atomic.StoreInt32(&b.state, int32(s))
	b.logger.WithField("state", s).Debug("supervisor state changed")
}

// connect opens the session. A failure stops the supervisor.
func (b *base) connect(ctx context.Context) error {
	b.setState(Connecting)
	if err := b.engine.Connect(ctx); err != nil {
		b.logger.WithError(err).Error("unable to connect to the broker")
		b.close()
		return err
	}
	b.lastCleanup = b.now()

	return nil
}

// maintain republishes after a lost session and runs the periodic ledger
// cleanup when it is due.
func (b *base) maintain(ctx context.Context) error {
	if b.engine.Connected() && b.engine.NeedsRepublish() {
		if err := b.republish(ctx); err != nil {
			return err
		}
	}

	if b.opts.CleanupInterval <= 0 || b.now().Sub(b.lastCleanup) < b.opts.CleanupInterval {
		return nil
	}
	b.lastCleanup = b.now()

	if _, err := b.engine.Cleanup(); err != nil {
		return b.tolerateLock(err)
	}
	if b.opts.StaleAfter > 0 {
		if _, err := b.engine.CancelStale(b.opts.StaleAfter); err != nil {
			return b.tolerateLock(err)
		}
	}

	return nil
}

// republish resends unconfirmed rows. A lost session defers it to maintain,
// which runs it again once the engine has reconnected.
func (b *base) republish(parent context.Context) error {
	ctx, txn := newrelic.ContextWithTxn(parent, "supervisor: republish", b.nrApp, newrelic.Publisher(b.name))
	defer txn.End()

	if _, err := b.engine.RepublishUnconfirmed(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, delivery.ErrNotConnected) {
			b.logger.Warn("broker session is down, republishing after the reconnect")
			return nil
		}
		txn.NoticeError(err)
		return b.tolerateLock(err)
	}

	return nil
}

// idle waits for up to d, applying broker events meanwhile. A signal on wake
// ends the wait early once ready reports new work.
func (b *base) idle(ctx context.Context, d time.Duration, wake <-chan struct{}, ready func() bool) error {
	d = clampIdle(d, b.opts.Keepalive)
	b.logger.WithField("wait", d.String()).Debug("idle")

	deadline := b.now().Add(d)
	for {
		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return nil
		}

		err := b.engine.PumpUntil(ctx, remaining, wake)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return b.tolerateLock(err)
		}
		if ready != nil && ready() {
			return nil
		}
	}
}

// drain waits a bounded time for outstanding acknowledgments, then closes the
// session and the ledger.
func (b *base) drain() error {
	b.setState(Draining)
	err := b.engine.Shutdown(context.Background())
	if err != nil {
		b.logger.WithError(err).Error("error waiting for in-flight messages")
	}
	b.close()

	return err
}

func (b *base) close() {
	if err := b.ledger.Close(); err != nil {
		b.logger.WithError(err).Error("error closing the outbox ledger")
	}
	b.setState(Stopped)
	b.logger.Info("supervisor stopped")
}

// tolerateLock swallows lock contention, which clears by the next cycle.
func (b *base) tolerateLock(err error) error {
	if data.IsLocked(err) {
		b.logger.WithError(err).Warn("database is locked, retrying on the next cycle")
		return nil
	}

	b.logger.WithError(err).Error("unexpected ledger error, stopping")
	return err
}

// clampIdle keeps idle periods short enough for keepalive traffic to flow.
func clampIdle(d, keepalive time.Duration) time.Duration {
	if keepalive > 0 && d > keepalive/4 {
		return keepalive / 4
	}
	if d < 0 {
		return 0
	}

	return d
}
