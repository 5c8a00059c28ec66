package transform

import (
	"testing"

	"inviqa/mqtt-outbox-relay/config"
	"inviqa/mqtt-outbox-relay/units"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func intPtr(i int) *int {
	return &i
}

func loadOne(t *testing.T, defaults config.TopicConfig, tc config.TopicConfig) *Topic {
	t.Helper()
	ts, err := Load(defaults, []config.TopicConfig{tc})
	require.NoError(t, err)
	require.Len(t, ts, 1)

	return ts[0]
}

func TestLoad_Defaults(t *testing.T) {
	topic := loadOne(t, config.TopicConfig{}, config.TopicConfig{Name: "weather"})

	assert.Equal(t, "weather", topic.Name)
	assert.Equal(t, byte(0), topic.Qos)
	assert.False(t, topic.Retain)
	assert.False(t, topic.GuaranteeDelivery)
	assert.Equal(t, "json", topic.Shape.Name())
	assert.True(t, topic.Bindings[Loop])
	assert.True(t, topic.Bindings[Archive])
	assert.Equal(t, units.System(0), topic.UnitSystem)
}

func TestLoad_CascadesPublisherDefaults(t *testing.T) {
	defaults := config.TopicConfig{
		Qos:        intPtr(1),
		Retain:     boolPtr(true),
		Type:       "keyword",
		UnitSystem: "METRIC",
		Binding:    []string{"loop"},
	}
	topic := loadOne(t, defaults, config.TopicConfig{Name: "weather", Type: "individual"})

	assert.Equal(t, byte(1), topic.Qos)
	assert.True(t, topic.Retain)
	assert.Equal(t, "individual", topic.Shape.Name())
	assert.Equal(t, units.Metric, topic.UnitSystem)
	assert.True(t, topic.Bindings[Loop])
	assert.False(t, topic.Bindings[Archive])
}

func TestLoad_GuaranteeDeliveryRequiresQos(t *testing.T) {
	_, err := Load(config.TopicConfig{}, []config.TopicConfig{
		{Name: "weather", GuaranteeDelivery: boolPtr(true), Qos: intPtr(0)},
	})

	require.Error(t, err)
	assert.Equal(t, ErrQosRequired, errors.Cause(err))

	_, err = Load(config.TopicConfig{Qos: intPtr(1)}, []config.TopicConfig{
		{Name: "weather", GuaranteeDelivery: boolPtr(true)},
	})
	assert.NoError(t, err)
}

func TestLoad_DropsUnpublishedTopics(t *testing.T) {
	ts, err := Load(config.TopicConfig{}, []config.TopicConfig{
		{Name: "weather"},
		{Name: "weather/hidden", Publish: boolPtr(false)},
	})

	require.NoError(t, err)
	require.Len(t, ts, 1)
	assert.Equal(t, "weather", ts[0].Name)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		tc   config.TopicConfig
	}{
		{"unknown type", config.TopicConfig{Name: "a", Type: "xml"}},
		{"unknown unit system", config.TopicConfig{Name: "a", UnitSystem: "IMPERIAL"}},
		{"unknown binding", config.TopicConfig{Name: "a", Binding: []string{"report"}}},
		{"invalid qos", config.TopicConfig{Name: "a", Qos: intPtr(3)}},
		{"unknown conversion", config.TopicConfig{Name: "a", ConversionType: "decimal"}},
		{"unknown field unit", config.TopicConfig{Name: "a", Fields: map[string]config.FieldConfig{"outTemp": {Unit: "degree_R"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(config.TopicConfig{}, []config.TopicConfig{tt.tc})
			assert.Error(t, err)
		})
	}
}

func TestTopic_RenderConvertsUnitSystem(t *testing.T) {
	topic := loadOne(t, config.TopicConfig{}, config.TopicConfig{
		Name:           "weather",
		UnitSystem:     "US",
		ConversionType: "float",
	})

	pubs, err := topic.Render(map[string]interface{}{"temp": 20.0, "usUnits": 16})
	require.NoError(t, err)
	require.Len(t, pubs, 1)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(pubs[0].Payload, &got))
	assert.InDelta(t, 68.0, got["temp_F"], 0.0001)
	assert.NotContains(t, got, "temp")
}

func TestTopic_RenderKeyword(t *testing.T) {
	topic := loadOne(t, config.TopicConfig{}, config.TopicConfig{Name: "weather", Type: "keyword"})

	pubs, err := topic.Render(map[string]interface{}{"b": 2, "a": 1})
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "weather", pubs[0].Topic)
	assert.Equal(t, "a=1, b=2", string(pubs[0].Payload))
}

func TestTopic_RenderIndividual(t *testing.T) {
	topic := loadOne(t, config.TopicConfig{}, config.TopicConfig{
		Name:   "weather",
		Type:   "individual",
		Qos:    intPtr(1),
		Retain: boolPtr(true),
	})

	pubs, err := topic.Render(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Len(t, pubs, 2)

	assert.Equal(t, Publication{Topic: "weather/a", Qos: 1, Retain: true, Payload: []byte("1")}, pubs[0])
	assert.Equal(t, Publication{Topic: "weather/b", Qos: 1, Retain: true, Payload: []byte("2")}, pubs[1])
}

func TestTopic_RenderFieldOptions(t *testing.T) {
	topic := loadOne(t, config.TopicConfig{}, config.TopicConfig{
		Name:   "weather",
		Format: "%.1f",
		Fields: map[string]config.FieldConfig{
			"outTemp":     {Name: "temperature", Unit: "degree_C", ConversionType: "float"},
			"outHumidity": {ConversionType: "integer", AppendUnitLabel: boolPtr(false)},
			"windDir":     {Ignore: boolPtr(true)},
			"usUnits":     {Ignore: boolPtr(true)},
			"dateTime":    {ConversionType: "integer", AppendUnitLabel: boolPtr(false)},
		},
	})

	rec := map[string]interface{}{
		"usUnits":     1,
		"dateTime":    1700000000.0,
		"outTemp":     212.0,
		"outHumidity": 45.7,
		"windDir":     270.0,
		"barometer":   30.01,
		"windGust":    nil,
	}

	pubs, err := topic.Render(rec)
	require.NoError(t, err)
	require.Len(t, pubs, 1)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(pubs[0].Payload, &got))

	assert.Equal(t, map[string]interface{}{
		"temperature_C":  100.0,
		"outHumidity":    45.0,
		"dateTime":       1700000000.0,
		"barometer_inHg": "30.0",
	}, got)
}

func TestTopic_RenderErrors(t *testing.T) {
	topic := loadOne(t, config.TopicConfig{}, config.TopicConfig{
		Name:           "weather",
		ConversionType: "integer",
	})

	_, err := topic.Render(map[string]interface{}{"station": "garden"})
	assert.Error(t, err)
}

func TestRouter_Route(t *testing.T) {
	ts, err := Load(config.TopicConfig{}, []config.TopicConfig{
		{Name: "loop", Binding: []string{"loop"}, Type: "keyword"},
		{Name: "archive", Binding: []string{"archive"}, Type: "keyword"},
		{Name: "broken", Binding: []string{"loop"}, ConversionType: "integer"},
	})
	require.NoError(t, err)

	r := NewRouter(ts)
	pubs, errs := r.Route(Loop, map[string]interface{}{"a": "x"})

	require.Len(t, pubs, 1)
	assert.Equal(t, "loop", pubs[0].Topic)
	assert.Equal(t, "a=x", string(pubs[0].Payload))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "topic broken")

	pubs, errs = r.Route(Archive, map[string]interface{}{"a": "x"})
	assert.Len(t, pubs, 1)
	assert.Empty(t, errs)
	assert.Len(t, r.Topics(Loop), 2)
}
