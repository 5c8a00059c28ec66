package kafka

import (
	"time"

	"inviqa/mqtt-outbox-relay/config"

	"github.com/Shopify/sarama"
)

// NewSaramaConfig builds the producer configuration for a broker section.
// The keepalive doubles as the metadata refresh cadence.
func NewSaramaConfig(cfg config.Broker) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_4_0_0
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Compression = sarama.CompressionGZIP
	sc.Producer.Partitioner = NewTopicPartitioner
	sc.Metadata.Retry.Max = 10
	sc.Metadata.Retry.Backoff = 2 * time.Second
	if ka := cfg.KeepaliveDuration(); ka > 0 {
		sc.Net.KeepAlive = ka
		sc.Metadata.RefreshFrequency = ka
	}

	if cfg.Username != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User = cfg.Username
		sc.Net.SASL.Password = cfg.Password
	}

	if cfg.TLS != nil {
		tlsCfg, err := cfg.TLS.Build()
		if err != nil {
			return nil, err
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsCfg
	}

	return sc, nil
}
