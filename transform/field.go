package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"inviqa/mqtt-outbox-relay/units"

	"github.com/pkg/errors"
)

type Conversion int

const (
	ConvertString Conversion = iota
	ConvertInteger
	ConvertFloat
)

var formatVerb = regexp.MustCompile(`%[-+ #0]*[0-9]*(?:\.[0-9]+)?([a-zA-Z])`)

// Value is a rendered field: its output name and scalar value (string,
// int64 or float64).
type Value struct {
	Name  string
	Value interface{}
}

func ParseConversion(s string) (Conversion, error) {
	switch strings.ToLower(s) {
	case "", "string":
		return ConvertString, nil
	case "integer", "int":
		return ConvertInteger, nil
	case "float":
		return ConvertFloat, nil
	}

	return 0, errors.Errorf("transform: unknown conversion type %q", s)
}

func (f Field) render(key string, raw interface{}, sys units.System) (Value, error) {
	name := key
	if f.Name != "" {
		name = f.Name
	}

	value := raw
	unit, _, known := units.StandardUnit(sys, key)
	if f.Unit != "" && known {
		n, ok := units.ToFloat(raw)
		if !ok {
			return Value{}, errors.Errorf("transform: cannot convert non numeric value %v", raw)
		}
		converted, err := units.Convert(n, unit, f.Unit)
		if err != nil {
			return Value{}, err
		}
		value = converted
		unit = f.Unit
	}

	if f.AppendUnitLabel && known {
		name = name + "_" + units.Label(unit)
	}

	out, err := f.convert(value)
	if err != nil {
		return Value{}, err
	}

	return Value{Name: name, Value: out}, nil
}

func (f Field) convert(v interface{}) (interface{}, error) {
	switch f.Conversion {
	case ConvertInteger:
		n, ok := units.ToFloat(v)
		if !ok {
			s, isString := v.(string)
			if !isString {
				return nil, errors.Errorf("transform: cannot convert %v to an integer", v)
			}
			i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, errors.Errorf("transform: cannot convert %q to an integer", s)
			}
			return i, nil
		}
		return int64(n), nil
	case ConvertFloat:
		s := format(f.Format, v)
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.Errorf("transform: cannot convert %q to a float", s)
		}
		return n, nil
	}

	return format(f.Format, v), nil
}

// format applies a printf style template. %s renders the natural value and
// integer verbs truncate floating point input.
func format(tmpl string, v interface{}) string {
	m := formatVerb.FindStringSubmatchIndex(tmpl)
	if m == nil {
		return tmpl
	}

	switch tmpl[m[2]:m[3]] {
	case "s":
		return fmt.Sprintf(tmpl[:m[2]]+"v"+tmpl[m[3]:], v)
	case "d", "x", "X", "o", "b":
		if n, ok := units.ToFloat(v); ok {
			return fmt.Sprintf(tmpl, int64(n))
		}
	case "f", "F", "e", "E", "g", "G":
		if n, ok := units.ToFloat(v); ok {
			return fmt.Sprintf(tmpl, n)
		}
	}

	return fmt.Sprintf(tmpl, v)
}
