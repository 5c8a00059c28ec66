package units

var obsGroups = map[string]Group{
	"temp":                   Temperature,
	"outTemp":                Temperature,
	"inTemp":                 Temperature,
	"dewpoint":               Temperature,
	"inDewpoint":             Temperature,
	"windchill":              Temperature,
	"heatindex":              Temperature,
	"appTemp":                Temperature,
	"humidex":                Temperature,
	"extraTemp1":             Temperature,
	"extraTemp2":             Temperature,
	"extraTemp3":             Temperature,
	"soilTemp1":              Temperature,
	"soilTemp2":              Temperature,
	"soilTemp3":              Temperature,
	"soilTemp4":              Temperature,
	"leafTemp1":              Temperature,
	"leafTemp2":              Temperature,
	"barometer":              Pressure,
	"pressure":               Pressure,
	"altimeter":              Pressure,
	"windSpeed":              Speed,
	"windGust":               Speed,
	"windSpeed10":            Speed,
	"rain":                   Rain,
	"hail":                   Rain,
	"ET":                     Rain,
	"dayRain":                Rain,
	"rainRate":               RainRate,
	"hailRate":               RainRate,
	"cloudbase":              Altitude,
	"altitude":               Altitude,
	"visibility":             Distance,
	"outHumidity":            Percent,
	"inHumidity":             Percent,
	"extraHumid1":            Percent,
	"extraHumid2":            Percent,
	"rxCheckPercent":         Percent,
	"windDir":                Direction,
	"windGustDir":            Direction,
	"radiation":              Radiation,
	"maxSolarRad":            Radiation,
	"UV":                     UV,
	"consBatteryVoltage":     Volt,
	"supplyVoltage":          Volt,
	"heatingVoltage":         Volt,
	"referenceVoltage":       Volt,
	"lightning_strike_count": Count,
	"interval":               Interval,
	"dateTime":               Time,
}
