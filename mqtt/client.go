package mqtt

import (
	"fmt"
	"sync"

	"inviqa/mqtt-outbox-relay/broker"
	"inviqa/mqtt-outbox-relay/config"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	maxMessageId    = 65535
	eventBufferSize = 1024
	quiesceMs       = 250
)

// Client adapts a paho session to broker.Client. Paho runs its callbacks and
// token completions on its own goroutines, so every outcome is turned into a
// broker.Event and queued for the session owner.
type Client struct {
	paho      paho.Client
	events    chan broker.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
	lastId    int
	logger    logrus.FieldLogger
}

func NewClient(cfg config.Broker, logger logrus.FieldLogger) (*Client, error) {
	c := newClient(logger)

	opts := paho.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS != nil {
		tlsCfg, err := cfg.TLS.Build()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
		scheme = "ssl"
	}

	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetKeepAlive(cfg.KeepaliveDuration())
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(c.OnConnectionLost)

	if cfg.Log {
		EnableLogging(logger)
	}

	c.paho = paho.NewClient(opts)

	return c, nil
}

// NewClientWithPaho wraps an existing paho client. The connection lost
// handler of that client must call OnConnectionLost.
func NewClientWithPaho(p paho.Client, logger logrus.FieldLogger) *Client {
	c := newClient(logger)
	c.paho = p

	return c
}

func newClient(logger logrus.FieldLogger) *Client {
	return &Client{
		events: make(chan broker.Event, eventBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

func (c *Client) Connect() error {
	c.logger.Debug("connecting to the MQTT broker")
	go c.awaitConnect(c.paho.Connect())

	return nil
}

func (c *Client) Reconnect() error {
	c.logger.Info("reconnecting to the MQTT broker")
	go c.awaitConnect(c.paho.Connect())

	return nil
}

func (c *Client) Disconnect() {
	c.paho.Disconnect(quiesceMs)
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) Publish(topic string, payload []byte, qos byte, retain bool) (int, error) {
	id := c.nextId()
	tok := c.paho.Publish(topic, qos, retain, payload)
	go c.awaitPublish(id, tok)

	return id, nil
}

func (c *Client) Events() <-chan broker.Event {
	return c.events
}

// OnConnectionLost is the paho connection lost handler. Paho does not call it
// for a client initiated Disconnect.
func (c *Client) OnConnectionLost(_ paho.Client, err error) {
	c.emit(broker.Event{Kind: broker.Disconnected, Code: 1, Err: err})
}

func (c *Client) awaitConnect(tok paho.Token) {
	<-tok.Done()
	if err := tok.Error(); err != nil {
		code := 0
		if ct, ok := tok.(*paho.ConnectToken); ok {
			code = int(ct.ReturnCode())
		}
		c.emit(broker.Event{Kind: broker.ConnectFailed, Code: code, Err: err})
		return
	}

	c.emit(broker.Event{Kind: broker.Connected})
}

func (c *Client) awaitPublish(id int, tok paho.Token) {
	<-tok.Done()
	c.emit(broker.Event{Kind: broker.Published, MessageId: id, Err: tok.Error()})
}

// nextId hands out ids in 1..65535, wrapping around.
func (c *Client) nextId() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastId++
	if c.lastId > maxMessageId {
		c.lastId = 1
	}

	return c.lastId
}

func (c *Client) emit(ev broker.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}
