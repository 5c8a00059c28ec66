package delivery

import (
	"context"
	"time"

	"inviqa/mqtt-outbox-relay/broker"
	"inviqa/mqtt-outbox-relay/outbox"
	"inviqa/mqtt-outbox-relay/outbox/data"
	"inviqa/mqtt-outbox-relay/transform"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrNotConnected = errors.New("delivery: broker session is not connected")

const (
	insertAttempts = 3
	insertBackoff  = time.Millisecond * 50
)

type ledger interface {
	Insert(rec *outbox.Record) error
	Confirm(logicalTime int64, messageId int, at int64) (int64, error)
	Supersede(id uint) error
	Unconfirmed() ([]*outbox.Record, error)
	DeleteConfirmedFirstAttempt() (int64, error)
	DeleteConfirmed() (int64, error)
	DeleteStaleUnconfirmed(processedBefore int64) (int64, error)
}

// Message is a single send handed to the engine.
type Message struct {
	LogicalTime       int64
	PreviousMessageId int
	GuaranteeDelivery bool
	Qos               byte
	Retain            bool
	Topic             string
	Payload           []byte
}

type Options struct {
	ConnectAttempts  int
	ConnectWait      time.Duration
	InflightAttempts int
	InflightWait     time.Duration
	RepublishPasses  int
}

// attempt is a sent guaranteed message waiting for the ledger. supersedes is
// the row it replaces, if any.
type attempt struct {
	rec        *outbox.Record
	supersedes uint
}

type inflight struct {
	logicalTime       int64
	qos               byte
	guaranteeDelivery bool
}

// Engine owns one broker session and the ledger that backs it. It is not safe
// for concurrent use: the supervisor that owns it is the only caller, and
// broker events are applied only while that caller runs Pump.
type Engine struct {
	client   broker.Client
	ledger   ledger
	logger   logrus.FieldLogger
	observer Observer
	opts     Options
	now      func() time.Time

	inflight       map[int]inflight
	unrecorded     []attempt
	insertBackoff  time.Duration
	connected      bool
	established    bool
	reconnecting   bool
	closing        bool
	needsRepublish bool
	refused        error
}

func New(c broker.Client, l ledger, logger logrus.FieldLogger, o Observer, opts Options) *Engine {
	if o == nil {
		o = NopObserver{}
	}

	return &Engine{
		client:   c,
		ledger:   l,
		logger:   logger,
		observer: o,
		opts:     opts,
		now:      time.Now,
		inflight: map[int]inflight{},

		insertBackoff: insertBackoff,
	}
}

// Connect opens the session and pumps events until the broker accepts it. It
// gives up after the configured number of attempts.
func (e *Engine) Connect(ctx context.Context) error {
	e.refused = nil
	if err := e.client.Connect(); err != nil {
		return errors.Wrap(err, "delivery: error connecting to the broker")
	}

	for i := 0; i < e.opts.ConnectAttempts; i++ {
		if err := e.Pump(ctx, e.opts.ConnectWait); err != nil {
			return err
		}
		if e.connected {
			return nil
		}
		if e.refused != nil {
			return e.refused
		}
	}

	return errors.Errorf("delivery: not connected after %d attempts", e.opts.ConnectAttempts)
}

func (e *Engine) Connected() bool {
	return e.connected
}

func (e *Engine) Inflight() int {
	return len(e.inflight)
}

// Unrecorded is the number of sent attempts waiting for a locked ledger.
func (e *Engine) Unrecorded() int {
	return len(e.unrecorded)
}

// NeedsRepublish reports whether the session was lost since the last
// republish, leaving ledger rows that will never be acknowledged.
func (e *Engine) NeedsRepublish() bool {
	return e.needsRepublish
}

// Publish sends a message. A guaranteed message is recorded in the ledger
// under the id the client returned. Send failures are only logged: they
// surface later as a missing acknowledgment. An insert that stays locked is
// kept in memory and recorded by a later pump.
func (e *Engine) Publish(m Message) (int, error) {
	return e.publish(m, 0)
}

// PublishAll publishes every rendered publication of one record. An error
// does not stop the remaining publications, the first one is returned.
func (e *Engine) PublishAll(logicalTime int64, pubs []transform.Publication) error {
	var first error
	for _, p := range pubs {
		_, err := e.Publish(Message{
			LogicalTime:       logicalTime,
			GuaranteeDelivery: p.GuaranteeDelivery,
			Qos:               p.Qos,
			Retain:            p.Retain,
			Topic:             p.Topic,
			Payload:           p.Payload,
		})
		if err != nil && first == nil {
			first = err
		}
	}

	return first
}

func (e *Engine) publish(m Message, supersedes uint) (int, error) {
	id, err := e.client.Publish(m.Topic, m.Payload, m.Qos, m.Retain)
	logger := e.logger.WithFields(logrus.Fields{
		"topic":        m.Topic,
		"logical_time": m.LogicalTime,
		"message_id":   id,
	})
	if err != nil {
		logger.WithError(err).Warn("error handing message to the broker client")
	} else {
		e.inflight[id] = inflight{logicalTime: m.LogicalTime, qos: m.Qos, guaranteeDelivery: m.GuaranteeDelivery}
		e.observer.Published(m.Topic)
		logger.Debug("published message")
	}

	if !m.GuaranteeDelivery {
		return id, nil
	}

	rec := &outbox.Record{
		LogicalTime:       m.LogicalTime,
		MessageId:         id,
		PreviousMessageId: m.PreviousMessageId,
		Qos:               m.Qos,
		Topic:             m.Topic,
		Payload:           m.Payload,
		ProcessedAt:       e.now().Unix(),
	}
	err = e.record(rec)
	if data.IsLocked(err) {
		e.unrecorded = append(e.unrecorded, attempt{rec: rec, supersedes: supersedes})
		logger.WithError(err).Warn("outbox is locked, the attempt will be recorded later")
		return id, nil
	}
	if err != nil {
		return id, err
	}

	return id, e.supersede(supersedes)
}

// record inserts rec, backing off while the ledger is locked.
func (e *Engine) record(rec *outbox.Record) error {
	wait := e.insertBackoff
	var err error
	for i := 0; i < insertAttempts; i++ {
		if err = e.ledger.Insert(rec); !data.IsLocked(err) {
			return err
		}
		if i < insertAttempts-1 {
			time.Sleep(wait)
			wait *= 2
		}
	}

	return err
}

// flushUnrecorded inserts the attempts a locked ledger refused earlier, in
// send order. It stops at the first attempt that is still locked out.
func (e *Engine) flushUnrecorded() error {
	for len(e.unrecorded) > 0 {
		a := e.unrecorded[0]
		err := e.ledger.Insert(a.rec)
		if data.IsLocked(err) {
			return nil
		}
		if err != nil {
			return err
		}
		e.unrecorded = e.unrecorded[1:]
		if err := e.supersede(a.supersedes); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) supersede(id uint) error {
	if id == 0 {
		return nil
	}

	return e.ledger.Supersede(id)
}

// Pump applies the broker events already queued. When there are none it waits
// up to timeout for the next one. A zero timeout never waits.
func (e *Engine) Pump(ctx context.Context, timeout time.Duration) error {
	return e.PumpUntil(ctx, timeout, nil)
}

// PumpUntil is Pump with an extra channel that ends the wait early, used to
// wake the owner when new work arrives.
func (e *Engine) PumpUntil(ctx context.Context, timeout time.Duration, wake <-chan struct{}) error {
	e.reconnectIfLost()
	if err := e.flushUnrecorded(); err != nil {
		return err
	}

	applied, err := e.applyQueued()
	if err != nil || applied > 0 || timeout <= 0 {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-e.client.Events():
		if err := e.apply(ev); err != nil {
			return err
		}
	case <-timer.C:
		return nil
	case <-wake:
	case <-ctx.Done():
		return ctx.Err()
	}

	_, err = e.applyQueued()
	return err
}

func (e *Engine) applyQueued() (int, error) {
	n := 0
	for {
		select {
		case ev := <-e.client.Events():
			n++
			if err := e.apply(ev); err != nil {
				return n, err
			}
		default:
			return n, nil
		}
	}
}

// WaitForInflight pumps events until nothing is in flight or maxAttempts
// polls have passed. Running out of attempts is not an error, the ledger
// still holds every guaranteed message.
func (e *Engine) WaitForInflight(ctx context.Context, maxAttempts int, poll time.Duration) error {
	for i := 0; i < maxAttempts && len(e.inflight) > 0; i++ {
		if err := e.Pump(ctx, poll); err != nil {
			return err
		}
	}

	if n := len(e.inflight); n > 0 {
		e.logger.WithField("inflight", n).Warn("gave up waiting for broker acknowledgments")
	}

	return nil
}

// RepublishUnconfirmed resends every unconfirmed ledger row that is not in
// flight on the current session, oldest first and never retained. Each
// resend is recorded as a new row pointing at the id it replaces. Passes
// repeat until nothing is left or a pass makes no progress. A disconnect or
// failed delivery during the passes leaves NeedsRepublish set.
func (e *Engine) RepublishUnconfirmed(ctx context.Context) (total int, err error) {
	if !e.connected {
		e.needsRepublish = true
		return 0, ErrNotConnected
	}
	if err := e.flushUnrecorded(); err != nil {
		return 0, err
	}

	e.needsRepublish = false
	defer func() {
		if err != nil {
			e.needsRepublish = true
		}
	}()

	prev := -1
	for pass := 0; pass < e.opts.RepublishPasses; pass++ {
		recs, err := e.ledger.Unconfirmed()
		if err != nil {
			return total, err
		}

		pending := e.pending(recs)
		if len(pending) == 0 {
			break
		}
		if prev >= 0 && len(pending) >= prev {
			e.logger.WithField("pending", len(pending)).Warn("republish made no progress")
			break
		}
		prev = len(pending)

		for _, rec := range pending {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := e.resend(rec); err != nil {
				return total, err
			}
			total++
		}

		if err := e.WaitForInflight(ctx, e.opts.InflightAttempts, e.opts.InflightWait); err != nil {
			return total, err
		}
		if !e.connected {
			break
		}
	}

	if total > 0 {
		e.observer.Republished(total)
		e.logger.WithField("count", total).Info("republished unconfirmed outbox records")
	}

	return total, nil
}

// Cleanup removes rows confirmed on their first attempt. Rows that needed a
// retry are kept for inspection.
func (e *Engine) Cleanup() (int64, error) {
	n, err := e.ledger.DeleteConfirmedFirstAttempt()
	if err != nil {
		return 0, errors.Wrap(err, "delivery: error cleaning up the outbox")
	}
	e.logger.WithField("count", n).Debug("removed confirmed first attempt outbox records")

	return n, nil
}

func (e *Engine) DeepClean() (int64, error) {
	n, err := e.ledger.DeleteConfirmed()
	if err != nil {
		return 0, errors.Wrap(err, "delivery: error deep cleaning the outbox")
	}
	e.logger.WithField("count", n).Info("removed all confirmed outbox records")

	return n, nil
}

// CancelStale deletes unconfirmed rows processed more than maxAge ago. Those
// messages are dropped for good.
func (e *Engine) CancelStale(maxAge time.Duration) (int64, error) {
	cutoff := e.now().Add(-maxAge).Unix()
	n, err := e.ledger.DeleteStaleUnconfirmed(cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "delivery: error cancelling stale outbox records")
	}

	if n > 0 {
		e.observer.Cancelled(n)
		e.logger.WithFields(logrus.Fields{
			"count":            n,
			"processed_before": cutoff,
		}).Warn("cancelled stale unconfirmed outbox records, they will not be delivered")
	}

	return n, nil
}

// Shutdown waits a bounded time for acknowledgments and closes the session.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.WaitForInflight(ctx, e.opts.InflightAttempts, e.opts.InflightWait)
	if err == nil {
		err = e.flushUnrecorded()
	}
	if n := len(e.unrecorded); n > 0 {
		e.logger.WithField("count", n).Error("outbox is still locked, sent attempts were not recorded")
	}
	e.closing = true
	e.client.Disconnect()
	e.connected = false

	return err
}

func (e *Engine) apply(ev broker.Event) error {
	switch ev.Kind {
	case broker.Connected:
		e.connected = true
		e.reconnecting = false
		if e.established {
			e.logger.Info("reconnected to the broker")
		}
		e.established = true
	case broker.ConnectFailed:
		e.reconnecting = false
		err := errors.Errorf("delivery: broker refused the connection with code %d", ev.Code)
		if ev.Err != nil {
			err = errors.Wrapf(ev.Err, "delivery: broker refused the connection with code %d", ev.Code)
		}
		if !e.established {
			e.refused = err
		}
		e.logger.WithError(err).Error("error connecting to the broker")
	case broker.Disconnected:
		e.onDisconnect(ev)
	case broker.Published:
		return e.onPublished(ev)
	}

	return nil
}

// onDisconnect drops the session state. Messages that were in flight are
// resent from the ledger by the next republish, never from here.
func (e *Engine) onDisconnect(ev broker.Event) {
	e.connected = false
	if e.closing {
		return
	}

	e.logger.WithError(ev.Err).WithFields(logrus.Fields{
		"code":     ev.Code,
		"inflight": len(e.inflight),
	}).Warn("unexpectedly disconnected from the broker")

	e.inflight = map[int]inflight{}
	e.needsRepublish = true
	e.reconnect()
}

func (e *Engine) onPublished(ev broker.Event) error {
	m, ok := e.inflight[ev.MessageId]
	if !ok {
		e.logger.WithField("message_id", ev.MessageId).Debug("acknowledgment for an unknown message")
		return nil
	}
	delete(e.inflight, ev.MessageId)

	if ev.Err != nil {
		e.needsRepublish = e.needsRepublish || m.guaranteeDelivery
		e.logger.WithError(ev.Err).WithField("message_id", ev.MessageId).Warn("message was not delivered to the broker")
		return nil
	}
	if !m.guaranteeDelivery {
		return nil
	}

	n, err := e.ledger.Confirm(m.logicalTime, ev.MessageId, e.now().Unix())
	if data.IsLocked(err) {
		e.logger.WithError(err).Warn("outbox is locked, acknowledgment will be retried by republishing")
		return nil
	}
	if err != nil {
		return err
	}
	if n == 0 && e.dropUnrecorded(m.logicalTime, ev.MessageId) {
		e.logger.WithField("message_id", ev.MessageId).Debug("acknowledged before the outbox recorded it")
		return nil
	}
	if n == 0 {
		e.logger.WithFields(logrus.Fields{
			"logical_time": m.logicalTime,
			"message_id":   ev.MessageId,
		}).Warn("no outbox record found for acknowledgment")
		return nil
	}
	e.observer.Confirmed()

	return nil
}

func (e *Engine) reconnectIfLost() {
	if e.established && !e.connected && !e.reconnecting && !e.closing {
		e.reconnect()
	}
}

func (e *Engine) reconnect() {
	e.reconnecting = true
	if err := e.client.Reconnect(); err != nil {
		e.reconnecting = false
		e.logger.WithError(err).Error("error reconnecting to the broker")
	}
}

func (e *Engine) pending(recs []*outbox.Record) []*outbox.Record {
	replaced := map[uint]bool{}
	for _, a := range e.unrecorded {
		replaced[a.supersedes] = true
	}

	var pending []*outbox.Record
	for _, rec := range recs {
		if replaced[rec.Id] {
			continue
		}
		if m, ok := e.inflight[rec.MessageId]; ok && rec.MessageId != 0 && m.logicalTime == rec.LogicalTime {
			continue
		}
		pending = append(pending, rec)
	}

	return pending
}

// dropUnrecorded forgets an attempt the broker acknowledged before the ledger
// recorded it.
func (e *Engine) dropUnrecorded(logicalTime int64, messageId int) bool {
	for i, a := range e.unrecorded {
		if a.rec.LogicalTime == logicalTime && a.rec.MessageId == messageId {
			e.unrecorded = append(e.unrecorded[:i], e.unrecorded[i+1:]...)
			return true
		}
	}

	return false
}

// resend publishes rec again. The old row is superseded once the new attempt
// is in the ledger.
func (e *Engine) resend(rec *outbox.Record) error {
	prev := rec.MessageId
	if prev == 0 {
		prev = rec.PreviousMessageId
	}

	_, err := e.publish(Message{
		LogicalTime:       rec.LogicalTime,
		PreviousMessageId: prev,
		GuaranteeDelivery: true,
		Qos:               rec.Qos,
		Topic:             rec.Topic,
		Payload:           rec.Payload,
	}, rec.Id)

	return err
}
