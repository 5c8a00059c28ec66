package units

import (
	"strings"

	"github.com/pkg/errors"
)

// System identifies a unit system by the same constants the weather station
// software writes into the usUnits field of a record.
type System int

const (
	US       System = 1
	Metric   System = 16
	MetricWX System = 17

	UnitSystemKey = "usUnits"
)

type Group string

const (
	Temperature Group = "group_temperature"
	Pressure    Group = "group_pressure"
	Speed       Group = "group_speed"
	Rain        Group = "group_rain"
	RainRate    Group = "group_rainrate"
	Distance    Group = "group_distance"
	Altitude    Group = "group_altitude"
	Percent     Group = "group_percent"
	Direction   Group = "group_direction"
	Radiation   Group = "group_radiation"
	UV          Group = "group_uv"
	Volt        Group = "group_volt"
	Count       Group = "group_count"
	Interval    Group = "group_interval"
	Time        Group = "group_time"
)

var systems = map[string]System{
	"US":       US,
	"METRIC":   Metric,
	"METRICWX": MetricWX,
}

var systemUnits = map[System]map[Group]string{
	US: {
		Temperature: "degree_F",
		Pressure:    "inHg",
		Speed:       "mile_per_hour",
		Rain:        "inch",
		RainRate:    "inch_per_hour",
		Distance:    "mile",
		Altitude:    "foot",
	},
	Metric: {
		Temperature: "degree_C",
		Pressure:    "mbar",
		Speed:       "km_per_hour",
		Rain:        "cm",
		RainRate:    "cm_per_hour",
		Distance:    "km",
		Altitude:    "meter",
	},
	MetricWX: {
		Temperature: "degree_C",
		Pressure:    "mbar",
		Speed:       "meter_per_second",
		Rain:        "mm",
		RainRate:    "mm_per_hour",
		Distance:    "km",
		Altitude:    "meter",
	},
}

// units that are the same in every system
var commonUnits = map[Group]string{
	Percent:   "percent",
	Direction: "degree_compass",
	Radiation: "watt_per_meter_squared",
	UV:        "uv_index",
	Volt:      "volt",
	Count:     "count",
	Interval:  "minute",
	Time:      "unix_epoch",
}

func ParseSystem(name string) (System, error) {
	s, ok := systems[strings.ToUpper(name)]
	if !ok {
		return 0, errors.Errorf("units: unknown unit system %q", name)
	}

	return s, nil
}

func (s System) Valid() bool {
	_, ok := systemUnits[s]
	return ok
}

func (s System) String() string {
	for name, sys := range systems {
		if sys == s {
			return name
		}
	}

	return "UNKNOWN"
}

// StandardUnit returns the unit and group of an observation type in the given
// unit system. ok is false for observation types with no known group.
func StandardUnit(sys System, obs string) (unit string, group Group, ok bool) {
	group, ok = obsGroups[obs]
	if !ok {
		return "", "", false
	}

	if u, found := commonUnits[group]; found {
		return u, group, true
	}

	u, found := systemUnits[sys][group]
	if !found {
		return "", group, false
	}

	return u, group, true
}

// ToSystem returns a copy of the record with every known observation
// converted to the target unit system. The record's own system is read from
// its usUnits field.
func ToSystem(rec map[string]interface{}, target System) (map[string]interface{}, error) {
	from, err := recordSystem(rec)
	if err != nil {
		return nil, err
	}

	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	if from == target {
		return out, nil
	}
	if !target.Valid() {
		return nil, errors.Errorf("units: unknown target unit system %d", target)
	}

	for k, v := range rec {
		if k == UnitSystemKey || v == nil {
			continue
		}
		f, ok := ToFloat(v)
		if !ok {
			continue
		}
		fromUnit, _, ok := StandardUnit(from, k)
		if !ok {
			continue
		}
		toUnit, _, _ := StandardUnit(target, k)

		converted, err := Convert(f, fromUnit, toUnit)
		if err != nil {
			return nil, err
		}
		out[k] = converted
	}
	out[UnitSystemKey] = int(target)

	return out, nil
}

// RecordSystem reads the unit system of a record.
func RecordSystem(rec map[string]interface{}) (System, error) {
	return recordSystem(rec)
}

func recordSystem(rec map[string]interface{}) (System, error) {
	v, ok := rec[UnitSystemKey]
	if !ok {
		return 0, errors.New("units: record has no usUnits field")
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, errors.Errorf("units: invalid usUnits value %v", v)
	}

	s := System(int(f))
	if !s.Valid() {
		return 0, errors.Errorf("units: unknown unit system %d", s)
	}

	return s, nil
}

// ToFloat converts the numeric types a decoded record can hold.
func ToFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}

	return 0, false
}
