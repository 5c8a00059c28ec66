package units

import "github.com/pkg/errors"

// linear maps a unit onto the base unit of its group: base = v*scale + offset
type linear struct {
	group  Group
	scale  float64
	offset float64
}

var conversions = map[string]linear{
	"degree_C": {Temperature, 1, 0},
	"degree_F": {Temperature, 5.0 / 9.0, -32 * 5.0 / 9.0},
	"degree_K": {Temperature, 1, -273.15},

	"mbar": {Pressure, 1, 0},
	"hPa":  {Pressure, 1, 0},
	"kPa":  {Pressure, 10, 0},
	"inHg": {Pressure, 33.86389, 0},
	"mmHg": {Pressure, 1.333224, 0},

	"meter_per_second": {Speed, 1, 0},
	"km_per_hour":      {Speed, 1 / 3.6, 0},
	"mile_per_hour":    {Speed, 0.44704, 0},
	"knot":             {Speed, 0.5144444, 0},

	"mm":   {Rain, 1, 0},
	"cm":   {Rain, 10, 0},
	"inch": {Rain, 25.4, 0},

	"mm_per_hour":   {RainRate, 1, 0},
	"cm_per_hour":   {RainRate, 10, 0},
	"inch_per_hour": {RainRate, 25.4, 0},

	"km":   {Distance, 1, 0},
	"mile": {Distance, 1.609344, 0},

	"meter": {Altitude, 1, 0},
	"foot":  {Altitude, 0.3048, 0},

	"percent":                {Percent, 1, 0},
	"degree_compass":         {Direction, 1, 0},
	"watt_per_meter_squared": {Radiation, 1, 0},
	"uv_index":               {UV, 1, 0},
	"volt":                   {Volt, 1, 0},
	"count":                  {Count, 1, 0},
	"minute":                 {Interval, 1, 0},
	"second":                 {Interval, 1.0 / 60.0, 0},
	"unix_epoch":             {Time, 1, 0},
}

var labels = map[string]string{
	"degree_C":               "C",
	"degree_F":               "F",
	"degree_K":               "K",
	"mbar":                   "mbar",
	"hPa":                    "hPa",
	"kPa":                    "kPa",
	"inHg":                   "inHg",
	"mmHg":                   "mmHg",
	"meter_per_second":       "mps",
	"km_per_hour":            "kph",
	"mile_per_hour":          "mph",
	"knot":                   "knot",
	"mm":                     "mm",
	"cm":                     "cm",
	"inch":                   "in",
	"mm_per_hour":            "mm_per_hour",
	"cm_per_hour":            "cm_per_hour",
	"inch_per_hour":          "in_per_hour",
	"km":                     "km",
	"mile":                   "mile",
	"meter":                  "meter",
	"foot":                   "foot",
	"percent":                "percent",
	"degree_compass":         "compass",
	"watt_per_meter_squared": "Wpm2",
	"uv_index":               "uv",
	"volt":                   "volt",
	"count":                  "count",
	"minute":                 "minute",
	"second":                 "second",
	"unix_epoch":             "epoch",
}

// Convert converts a value between two units of the same group.
func Convert(v float64, from, to string) (float64, error) {
	if from == to {
		return v, nil
	}

	f, ok := conversions[from]
	if !ok {
		return 0, errors.Errorf("units: unknown unit %q", from)
	}
	t, ok := conversions[to]
	if !ok {
		return 0, errors.Errorf("units: unknown unit %q", to)
	}
	if f.group != t.group {
		return 0, errors.Errorf("units: cannot convert %s (%s) to %s (%s)", from, f.group, to, t.group)
	}

	base := v*f.scale + f.offset

	return (base - t.offset) / t.scale, nil
}

// Known reports whether the unit can be converted.
func Known(unit string) bool {
	_, ok := conversions[unit]
	return ok
}

// GroupOf returns the group a unit belongs to.
func GroupOf(unit string) (Group, bool) {
	c, ok := conversions[unit]
	return c.group, ok
}

// Label is the short suffix appended to field names carrying the unit.
func Label(unit string) string {
	if l, ok := labels[unit]; ok {
		return l
	}

	return unit
}
