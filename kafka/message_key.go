package kafka

import (
	"strings"

	"github.com/Shopify/sarama"
)

// MessageKey keys a record by its MQTT topic and partitions it by the topic
// root, so that every field of one observation lands on the same partition.
type MessageKey struct {
	Topic string
	Root  string
	sarama.StringEncoder
}

func newMessageKey(topic string) MessageKey {
	root := topic
	if i := strings.Index(topic, "/"); i > 0 {
		root = topic[:i]
	}

	return MessageKey{
		Topic:         topic,
		Root:          root,
		StringEncoder: sarama.StringEncoder(topic),
	}
}

func (mk MessageKey) KeyForPartitioning() string {
	if mk.Root == "" {
		return mk.Topic
	}

	return mk.Root
}

// kafkaTopic maps an MQTT topic onto the characters Kafka accepts in a topic
// name: levels become dots, anything else outside [a-zA-Z0-9._-] an underscore.
func kafkaTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/':
			return '.'
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, topic)
}
