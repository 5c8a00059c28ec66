package source

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"inviqa/mqtt-outbox-relay/supervisor"
	"inviqa/mqtt-outbox-relay/transform"
)

type submitter interface {
	Submit(ev supervisor.Event)
}

// message is the wire format of a live record.
type message struct {
	DateTime int64                  `json:"dateTime"`
	Kind     transform.Kind         `json:"kind"`
	Record   map[string]interface{} `json:"record"`
}

// NATS feeds records published on a NATS subject to the live publisher.
type NATS struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	target submitter
	logger logrus.FieldLogger
}

func NewNATS(url, subject string, target submitter, logger logrus.FieldLogger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("mqtt-outbox-relay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, errors.Wrap(err, "source: failed to connect to NATS")
	}

	s := &NATS{nc: nc, target: target, logger: logger}
	s.sub, err = nc.Subscribe(subject, s.handle)
	if err != nil {
		nc.Close()
		return nil, errors.Wrapf(err, "source: failed to subscribe to %s", subject)
	}
	logger.WithField("subject", subject).Info("subscribed to live records")

	return s, nil
}

func (s *NATS) Close() error {
	if err := s.sub.Unsubscribe(); err != nil {
		s.logger.WithError(err).Warn("error unsubscribing from NATS")
	}
	s.nc.Close()

	return nil
}

func (s *NATS) handle(m *nats.Msg) {
	ev, err := Decode(m.Data)
	if err != nil {
		s.logger.WithError(err).WithField("subject", m.Subject).Error("unable to decode live record, dropped")
		return
	}

	s.target.Submit(ev)
}

// Decode parses a live record. The timestamp falls back to the record's own
// dateTime field and the kind defaults to loop.
func Decode(data []byte) (supervisor.Event, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return supervisor.Event{}, errors.Wrap(err, "source: invalid live record")
	}
	if m.Record == nil {
		return supervisor.Event{}, errors.New("source: live record has no record field")
	}

	if m.DateTime == 0 {
		if f, ok := m.Record["dateTime"].(float64); ok {
			m.DateTime = int64(f)
		}
	}
	if m.DateTime == 0 {
		return supervisor.Event{}, errors.New("source: live record has no dateTime")
	}

	switch m.Kind {
	case "":
		m.Kind = transform.Loop
	case transform.Loop, transform.Archive:
	default:
		return supervisor.Event{}, errors.Errorf("source: unknown record kind %q", m.Kind)
	}

	return supervisor.Event{LogicalTime: m.DateTime, Kind: m.Kind, Record: m.Record}, nil
}
