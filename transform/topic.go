package transform

import (
	"sort"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/units"

	"github.com/pkg/errors"
)

// Kind is the type of record a topic is bound to.
type Kind string

const (
	Loop    Kind = "loop"
	Archive Kind = "archive"
)

var ErrQosRequired = errors.New("transform: qos must be greater than 0 to guarantee delivery")

type Field struct {
	Name            string
	Unit            string
	Ignore          bool
	AppendUnitLabel bool
	Conversion      Conversion
	Format          string
}

// Topic is the resolved, immutable configuration of one topic. Every option
// has already been cascaded from the publisher defaults.
type Topic struct {
	Name              string
	Qos               byte
	Retain            bool
	GuaranteeDelivery bool
	UnitSystem        units.System
	Bindings          map[Kind]bool
	Shape             Shape

	defaults Field
	fields   map[string]Field
}

// Publication is one message produced by rendering a record for a topic.
type Publication struct {
	Topic             string
	Qos               byte
	Retain            bool
	GuaranteeDelivery bool
	Payload           []byte
}

type Topics []*Topic

// Load resolves the configured topics against the publisher level defaults.
// Topics with publish disabled are dropped.
func Load(defaults config.TopicConfig, topics []config.TopicConfig) (Topics, error) {
	base := topicDefaults()
	if err := merge(&base, defaults); err != nil {
		return nil, errors.Wrap(err, "defaults")
	}

	var resolved Topics
	for _, tc := range topics {
		opts := base
		opts.fields = nil
		if err := merge(&opts, tc); err != nil {
			return nil, errors.Wrapf(err, "topic %s", tc.Name)
		}
		if !opts.publish {
			continue
		}

		t, err := opts.build(tc)
		if err != nil {
			return nil, errors.Wrapf(err, "topic %s", tc.Name)
		}
		resolved = append(resolved, t)
	}

	return resolved, nil
}

// For returns the topics bound to records of the given kind.
func (ts Topics) For(kind Kind) Topics {
	var out Topics
	for _, t := range ts {
		if t.Bindings[kind] {
			out = append(out, t)
		}
	}

	return out
}

// Render turns a record into the publications for this topic.
func (t *Topic) Render(rec map[string]interface{}) ([]Publication, error) {
	values, err := t.resolve(rec)
	if err != nil {
		return nil, err
	}

	payloads, err := t.Shape.Serialize(t.Name, values)
	if err != nil {
		return nil, err
	}

	pubs := make([]Publication, 0, len(payloads))
	for _, p := range payloads {
		pubs = append(pubs, Publication{
			Topic:             p.Topic,
			Qos:               t.Qos,
			Retain:            t.Retain,
			GuaranteeDelivery: t.GuaranteeDelivery,
			Payload:           p.Body,
		})
	}

	return pubs, nil
}

func (t *Topic) resolve(rec map[string]interface{}) ([]Value, error) {
	var err error
	if t.UnitSystem != 0 {
		rec, err = units.ToSystem(rec, t.UnitSystem)
		if err != nil {
			return nil, err
		}
	}

	sys, _ := units.RecordSystem(rec)

	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)

	values := make([]Value, 0, len(names))
	for _, name := range names {
		raw := rec[name]
		if raw == nil {
			continue
		}

		f := t.field(name)
		if f.Ignore {
			continue
		}

		v, err := f.render(name, raw, sys)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", name)
		}
		values = append(values, v)
	}

	return values, nil
}

func (t *Topic) field(name string) Field {
	if f, ok := t.fields[name]; ok {
		return f
	}

	return t.defaults
}
