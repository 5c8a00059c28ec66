package broker

import "github.com/pkg/errors"

type EventKind int

const (
	Connected EventKind = iota + 1
	ConnectFailed
	Disconnected
	Published
)

var ErrNotConnected = errors.New("broker: client is not connected")

// Event is produced by a client when something happens on its session. Events
// are delivered on a channel and applied by the owner of the session, never
// from inside the client's own goroutines.
type Event struct {
	Kind EventKind
	// Code is the connect or disconnect result code, 0 meaning success or a
	// client initiated disconnect.
	Code      int
	MessageId int
	Err       error
}

// Client is a broker session.
type Client interface {
	// Connect starts opening the session. The outcome is reported as a
	// Connected or ConnectFailed event.
	Connect() error
	Reconnect() error
	Disconnect()
	// Publish hands a message to the client and returns the id the broker
	// acknowledgment will carry. Delivery failures are reported as events.
	Publish(topic string, payload []byte, qos byte, retain bool) (int, error)
	Events() <-chan Event
}

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case ConnectFailed:
		return "connect_failed"
	case Disconnected:
		return "disconnected"
	case Published:
		return "published"
	}

	return "unknown"
}
