package transform

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Payload is one serialized message and the topic it is published to.
type Payload struct {
	Topic string
	Body  []byte
}

// Shape serializes the rendered fields of a record. It is chosen once per
// topic when the configuration is loaded.
type Shape interface {
	Name() string
	Serialize(topic string, values []Value) ([]Payload, error)
}

func ShapeFor(name string) (Shape, error) {
	switch strings.ToLower(name) {
	case "json":
		return JSONShape{}, nil
	case "keyword":
		return KeywordShape{}, nil
	case "individual":
		return IndividualShape{}, nil
	}

	return nil, errors.Errorf("transform: unknown topic type %q", name)
}

// JSONShape publishes all fields as one JSON object.
type JSONShape struct{}

func (JSONShape) Name() string {
	return "json"
}

func (JSONShape) Serialize(topic string, values []Value) ([]Payload, error) {
	obj := make(map[string]interface{}, len(values))
	for _, v := range values {
		obj[v.Name] = v.Value
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return nil, errors.Wrap(err, "transform: unable to encode json payload")
	}

	return []Payload{{Topic: topic, Body: b}}, nil
}

// KeywordShape publishes all fields as one "name=value, name=value" string.
type KeywordShape struct{}

func (KeywordShape) Name() string {
	return "keyword"
}

func (KeywordShape) Serialize(topic string, values []Value) ([]Payload, error) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, v.Name+"="+scalar(v.Value))
	}

	return []Payload{{Topic: topic, Body: []byte(strings.Join(parts, ", "))}}, nil
}

// IndividualShape publishes every field on its own sub topic.
type IndividualShape struct{}

func (IndividualShape) Name() string {
	return "individual"
}

func (IndividualShape) Serialize(topic string, values []Value) ([]Payload, error) {
	payloads := make([]Payload, 0, len(values))
	for _, v := range values {
		payloads = append(payloads, Payload{
			Topic: topic + "/" + v.Name,
			Body:  []byte(scalar(v.Value)),
		})
	}

	return payloads, nil
}

func scalar(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}

	b, _ := json.Marshal(v)
	return string(b)
}
