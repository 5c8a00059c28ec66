package transform

import (
	"strings"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/units"

	"github.com/pkg/errors"
)

type options struct {
	publish         bool
	qos             int
	retain          bool
	shape           string
	unitSystem      string
	guarantee       bool
	ignore          bool
	appendUnitLabel bool
	conversion      string
	format          string
	binding         []string
	fields          map[string]config.FieldConfig
}

func topicDefaults() options {
	return options{
		publish:         true,
		shape:           "json",
		appendUnitLabel: true,
		conversion:      "string",
		format:          "%s",
		binding:         []string{string(Archive), string(Loop)},
	}
}

func merge(o *options, tc config.TopicConfig) error {
	if tc.Publish != nil {
		o.publish = *tc.Publish
	}
	if tc.Qos != nil {
		o.qos = *tc.Qos
	}
	if tc.Retain != nil {
		o.retain = *tc.Retain
	}
	if tc.Type != "" {
		o.shape = tc.Type
	}
	if tc.UnitSystem != "" {
		o.unitSystem = tc.UnitSystem
	}
	if tc.GuaranteeDelivery != nil {
		o.guarantee = *tc.GuaranteeDelivery
	}
	if tc.Ignore != nil {
		o.ignore = *tc.Ignore
	}
	if tc.AppendUnitLabel != nil {
		o.appendUnitLabel = *tc.AppendUnitLabel
	}
	if tc.ConversionType != "" {
		o.conversion = tc.ConversionType
	}
	if tc.Format != "" {
		o.format = tc.Format
	}
	if len(tc.Binding) > 0 {
		o.binding = tc.Binding
	}
	if tc.Fields != nil {
		o.fields = tc.Fields
	}

	if o.qos < 0 || o.qos > 2 {
		return errors.Errorf("transform: invalid qos %d", o.qos)
	}

	return nil
}

func (o options) build(tc config.TopicConfig) (*Topic, error) {
	if o.guarantee && o.qos == 0 {
		return nil, ErrQosRequired
	}

	shape, err := ShapeFor(o.shape)
	if err != nil {
		return nil, err
	}

	t := &Topic{
		Name:              tc.Name,
		Qos:               byte(o.qos),
		Retain:            o.retain,
		GuaranteeDelivery: o.guarantee,
		Shape:             shape,
		Bindings:          map[Kind]bool{},
		fields:            map[string]Field{},
	}

	if o.unitSystem != "" {
		if t.UnitSystem, err = units.ParseSystem(o.unitSystem); err != nil {
			return nil, err
		}
	}

	for _, b := range o.binding {
		switch k := Kind(strings.ToLower(strings.TrimSpace(b))); k {
		case Loop, Archive:
			t.Bindings[k] = true
		default:
			return nil, errors.Errorf("transform: unknown binding %q", b)
		}
	}

	conv, err := ParseConversion(o.conversion)
	if err != nil {
		return nil, err
	}
	t.defaults = Field{
		Ignore:          o.ignore,
		AppendUnitLabel: o.appendUnitLabel,
		Conversion:      conv,
		Format:          o.format,
	}

	for name, fc := range o.fields {
		f := t.defaults
		f.Name = fc.Name
		f.Unit = fc.Unit
		if fc.Ignore != nil {
			f.Ignore = *fc.Ignore
		}
		if fc.AppendUnitLabel != nil {
			f.AppendUnitLabel = *fc.AppendUnitLabel
		}
		if fc.ConversionType != "" {
			if f.Conversion, err = ParseConversion(fc.ConversionType); err != nil {
				return nil, errors.Wrapf(err, "field %s", name)
			}
		}
		if fc.Format != "" {
			f.Format = fc.Format
		}
		if f.Unit != "" && !units.Known(f.Unit) {
			return nil, errors.Errorf("transform: field %s has unknown unit %q", name, f.Unit)
		}
		t.fields[name] = f
	}

	return t, nil
}
