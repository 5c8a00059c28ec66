package supervisor

import (
	"sync"

	"github.com/eapache/queue"

	"inviqa/mqtt-outbox-relay/transform"
)

// Event is a record delivered by the live producer.
type Event struct {
	LogicalTime int64
	Kind        transform.Kind
	Record      map[string]interface{}
}

// Handoff is an unbounded queue between the live producer and its supervisor.
// Put never blocks the producer, and every Put raises the wake signal.
type Handoff struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	wake   chan struct{}
}

func NewHandoff() *Handoff {
	return &Handoff{
		q:    queue.New(),
		wake: make(chan struct{}, 1),
	}
}

// Put queues an event. It reports false once the handoff is closed.
func (h *Handoff) Put(ev Event) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.q.Add(ev)
	h.mu.Unlock()

	h.Signal()

	return true
}

func (h *Handoff) Take() (Event, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.q.Length() == 0 {
		return Event{}, false
	}

	return h.q.Remove().(Event), true
}

func (h *Handoff) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.q.Length()
}

// Close stops accepting events. Events already queued can still be taken.
func (h *Handoff) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.Signal()
}

// Signal raises the wake signal without queuing anything.
func (h *Handoff) Signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *Handoff) Wake() <-chan struct{} {
	return h.wake
}
