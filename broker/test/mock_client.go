package test

import (
	"sync"

	"inviqa/mqtt-outbox-relay/broker"
)

type Sent struct {
	MessageId int
	Topic     string
	Payload   []byte
	Qos       byte
	Retain    bool
}

// MockClient is a scripted broker session. By default Connect queues a
// Connected event and published messages stay unacknowledged until Ack is
// called.
type MockClient struct {
	sync.Mutex
	events          chan broker.Event
	nextId          int
	Sent            []Sent
	ConnectCalls    int
	ReconnectCalls  int
	DisconnectCalls int
	FailConnect     bool
	AutoAck         bool
	PublishErr      error
}

func NewMockClient() *MockClient {
	return &MockClient{
		events: make(chan broker.Event, 1024),
	}
}

func (m *MockClient) Connect() error {
	m.Lock()
	defer m.Unlock()
	m.ConnectCalls++
	m.emitConnect()

	return nil
}

func (m *MockClient) Reconnect() error {
	m.Lock()
	defer m.Unlock()
	m.ReconnectCalls++
	m.emitConnect()

	return nil
}

func (m *MockClient) Disconnect() {
	m.Lock()
	defer m.Unlock()
	m.DisconnectCalls++
}

func (m *MockClient) Publish(topic string, payload []byte, qos byte, retain bool) (int, error) {
	m.Lock()
	defer m.Unlock()

	m.nextId++
	id := m.nextId
	m.Sent = append(m.Sent, Sent{MessageId: id, Topic: topic, Payload: payload, Qos: qos, Retain: retain})

	if m.PublishErr != nil {
		return id, m.PublishErr
	}
	if m.AutoAck {
		m.events <- broker.Event{Kind: broker.Published, MessageId: id}
	}

	return id, nil
}

func (m *MockClient) Events() <-chan broker.Event {
	return m.events
}

// Ack delivers the broker acknowledgment for a message id.
func (m *MockClient) Ack(id int) {
	m.events <- broker.Event{Kind: broker.Published, MessageId: id}
}

// Drop simulates an unexpected loss of the connection.
func (m *MockClient) Drop() {
	m.events <- broker.Event{Kind: broker.Disconnected, Code: 1}
}

func (m *MockClient) Emit(ev broker.Event) {
	m.events <- ev
}

func (m *MockClient) SentMessages() []Sent {
	m.Lock()
	defer m.Unlock()

	return append([]Sent(nil), m.Sent...)
}

func (m *MockClient) emitConnect() {
	if m.FailConnect {
		m.events <- broker.Event{Kind: broker.ConnectFailed, Code: 5}
		return
	}
	m.events <- broker.Event{Kind: broker.Connected}
}
