package kafka

import (
	"math"
	"strconv"
	"sync"
	"time"

	"inviqa/mqtt-outbox-relay/broker"
	"inviqa/mqtt-outbox-relay/config"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	eventBufferSize = 1024
	// reported with ConnectFailed, matching the MQTT "server unavailable" code
	codeUnavailable = 3
	codeLost        = 1
	sendTimeout     = time.Second * 5
)

var (
	errProducerClosed = errors.New("kafka: producer closed")
	errSendTimeout    = errors.New("kafka: producer input is stalled")
)

type ProducerFactory func() (sarama.AsyncProducer, error)

// Client adapts a sarama AsyncProducer to broker.Client. Every produced
// message carries its id as metadata so that the success or error coming back
// from the producer can be reported against it.
type Client struct {
	newProducer ProducerFactory
	// sendMu serialises sends on the producer input with closing it
	sendMu    sync.Mutex
	mu        sync.Mutex
	producer  sarama.AsyncProducer
	lost      bool
	lastId    int
	events    chan broker.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    logrus.FieldLogger

	sendTimeout time.Duration
}

func NewClient(cfg config.Broker, logger logrus.FieldLogger) (*Client, error) {
	sc, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	addrs := []string{cfg.Address()}
	return NewClientWithProducerFactory(func() (sarama.AsyncProducer, error) {
		return sarama.NewAsyncProducer(addrs, sc)
	}, logger), nil
}

func NewClientWithProducerFactory(f ProducerFactory, logger logrus.FieldLogger) *Client {
	return &Client{
		newProducer: f,
		events:      make(chan broker.Event, eventBufferSize),
		done:        make(chan struct{}),
		logger:      logger,
		sendTimeout: sendTimeout,
	}
}

func (c *Client) Connect() error {
	c.logger.Debug("connecting to Kafka")
	go c.open()

	return nil
}

func (c *Client) Reconnect() error {
	c.logger.Info("reconnecting to Kafka")
	c.closeProducer()
	go c.open()

	return nil
}

func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.closeProducer()
}

func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	p, lost := c.producer, c.lost
	c.mu.Unlock()
	if p == nil || lost {
		return 0, broker.ErrNotConnected
	}

	c.lastId++
	if c.lastId > math.MaxInt32 {
		c.lastId = 1
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()

	select {
	case p.Input() <- newProducerMessage(c.lastId, topic, payload, qos, retain):
		return c.lastId, nil
	case <-c.done:
		return 0, broker.ErrNotConnected
	case <-timer.C:
		// a producer that stopped taking input is treated as a lost session
		if c.markLost(p) {
			c.emit(broker.Event{Kind: broker.Disconnected, Code: codeLost, Err: errSendTimeout})
		}
		return 0, errSendTimeout
	}
}

func (c *Client) Events() <-chan broker.Event {
	return c.events
}

func (c *Client) open() {
	p, err := c.newProducer()
	if err != nil {
		c.emit(broker.Event{Kind: broker.ConnectFailed, Code: codeUnavailable, Err: errors.Wrap(err, "kafka: could not start producer")})
		return
	}

	c.mu.Lock()
	c.producer = p
	c.lost = false
	c.mu.Unlock()

	go c.forward(p)
	c.emit(broker.Event{Kind: broker.Connected})
}

// forward turns the producer's results into Published events until the
// producer is closed. Losing every broker also reports a disconnect, once.
func (c *Client) forward(p sarama.AsyncProducer) {
	successes, errs := p.Successes(), p.Errors()
	for successes != nil || errs != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			c.emit(broker.Event{Kind: broker.Published, MessageId: messageId(msg)})
		case perr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.emit(broker.Event{Kind: broker.Published, MessageId: messageId(perr.Msg), Err: perr.Err})
			if isConnectionError(perr.Err) && c.markLost(p) {
				c.emit(broker.Event{Kind: broker.Disconnected, Code: codeLost, Err: perr.Err})
			}
		case <-c.done:
			return
		}
	}

	if c.markLost(p) {
		c.emit(broker.Event{Kind: broker.Disconnected, Code: codeLost, Err: errProducerClosed})
	}
}

// markLost flags p as lost if it is still the current producer and was not
// flagged before.
func (c *Client) markLost(p sarama.AsyncProducer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.producer != p || c.lost {
		return false
	}
	c.lost = true

	return true
}

func (c *Client) closeProducer() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	p := c.producer
	c.producer = nil
	c.mu.Unlock()

	if p != nil {
		p.AsyncClose()
	}
}

func (c *Client) emit(ev broker.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func newProducerMessage(id int, topic string, payload []byte, qos byte, retain bool) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: kafkaTopic(topic),
		Key:   newMessageKey(topic),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("mqtt-topic"), Value: []byte(topic)},
			{Key: []byte("mqtt-qos"), Value: []byte(strconv.Itoa(int(qos)))},
			{Key: []byte("mqtt-retain"), Value: []byte(strconv.FormatBool(retain))},
		},
		Metadata: id,
	}
}

func messageId(msg *sarama.ProducerMessage) int {
	if msg == nil {
		return 0
	}
	id, _ := msg.Metadata.(int)

	return id
}

func isConnectionError(err error) bool {
	return errors.Is(err, sarama.ErrOutOfBrokers) ||
		errors.Is(err, sarama.ErrNotConnected) ||
		errors.Is(err, sarama.ErrClosedClient) ||
		errors.Is(err, sarama.ErrBrokerNotAvailable)
}
