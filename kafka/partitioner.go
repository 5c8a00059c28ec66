package kafka

import (
	"github.com/Shopify/sarama"
)

// TopicPartitioner hashes the topic root of a MessageKey instead of the full
// key. Messages without a MessageKey fall through to the hash partitioner.
type TopicPartitioner struct {
	topic string
	hash  sarama.Partitioner
}

func NewTopicPartitioner(topic string) sarama.Partitioner {
	return NewTopicPartitionerWithHash(topic, sarama.NewHashPartitioner(topic))
}

func NewTopicPartitionerWithHash(topic string, p sarama.Partitioner) sarama.Partitioner {
	return TopicPartitioner{
		topic: topic,
		hash:  p,
	}
}

func (tp TopicPartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	mk, ok := message.Key.(MessageKey)
	if !ok {
		return tp.hash.Partition(message, numPartitions)
	}

	// the hash partitioner only sees the encoded key, so swap it for the
	// duration of the call
	message.Key = sarama.StringEncoder(mk.KeyForPartitioning())
	ptn, err := tp.hash.Partition(message, numPartitions)
	message.Key = mk

	return ptn, err
}

func (tp TopicPartitioner) RequiresConsistency() bool {
	return true
}
