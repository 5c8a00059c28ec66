package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	MQTT  BrokerDriver = "mqtt"
	Kafka BrokerDriver = "kafka"

	// LedgerTable is the table created by the ledger migrations.
	LedgerTable = "mqtt_outbox"

	defaultStaleAfter = 24 * 60 * 60
	clientIDPrefix    = "MQTTPublish"
)

type BrokerDriver string

// Settings is the content of the settings file: one section per publisher.
type Settings struct {
	Live  PublisherConfig `toml:"live" yaml:"live"`
	Queue PublisherConfig `toml:"queue" yaml:"queue"`
}

type PublisherConfig struct {
	Name    string   `toml:"-" yaml:"-"`
	Enable  bool     `toml:"enable" yaml:"enable"`
	Broker  Broker   `toml:"broker" yaml:"broker"`
	Ledger  Database `toml:"ledger" yaml:"ledger"`
	Backlog Database `toml:"backlog" yaml:"backlog"`

	NatsURL     string `toml:"nats_url" yaml:"nats_url"`
	NatsSubject string `toml:"nats_subject" yaml:"nats_subject"`

	ConnectAttempts  int     `toml:"connect_attempts" yaml:"connect_attempts"`
	ConnectWait      float64 `toml:"connect_wait" yaml:"connect_wait"`
	InflightAttempts int     `toml:"inflight_attempts" yaml:"inflight_attempts"`
	InflightWait     float64 `toml:"inflight_wait" yaml:"inflight_wait"`
	RepublishPasses  int     `toml:"republish_passes" yaml:"republish_passes"`
	WaitBeforeRetry  float64 `toml:"wait_before_retry" yaml:"wait_before_retry"`
	CatchupCount     int     `toml:"catchup_count" yaml:"catchup_count"`
	PublishInterval  int     `toml:"publish_interval" yaml:"publish_interval"`
	PublishDelay     int     `toml:"publish_delay" yaml:"publish_delay"`
	CleanupInterval  int     `toml:"cleanup_interval" yaml:"cleanup_interval"`
	StaleAfter       int     `toml:"stale_after" yaml:"stale_after"`
	LiveQueueTimeout float64 `toml:"live_queue_timeout" yaml:"live_queue_timeout"`

	Defaults TopicConfig   `toml:"defaults" yaml:"defaults"`
	Topics   []TopicConfig `toml:"topics" yaml:"topics"`
}

type Broker struct {
	Driver    BrokerDriver `toml:"driver" yaml:"driver"`
	Host      string       `toml:"host" yaml:"host"`
	Port      int          `toml:"port" yaml:"port"`
	Keepalive int          `toml:"keepalive" yaml:"keepalive"`
	Username  string       `toml:"username" yaml:"username"`
	Password  string       `toml:"password" yaml:"password"`
	ClientID  string       `toml:"client_id" yaml:"client_id"`
	Log       bool         `toml:"log" yaml:"log"`
	TLS       *TLS         `toml:"tls" yaml:"tls"`
}

// TopicConfig holds the per topic options. Unset pointer and empty string
// fields inherit from the publisher level defaults.
type TopicConfig struct {
	Name              string                 `toml:"name" yaml:"name"`
	Publish           *bool                  `toml:"publish" yaml:"publish"`
	Qos               *int                   `toml:"qos" yaml:"qos"`
	Retain            *bool                  `toml:"retain" yaml:"retain"`
	Type              string                 `toml:"type" yaml:"type"`
	UnitSystem        string                 `toml:"unit_system" yaml:"unit_system"`
	GuaranteeDelivery *bool                  `toml:"guarantee_delivery" yaml:"guarantee_delivery"`
	Ignore            *bool                  `toml:"ignore" yaml:"ignore"`
	AppendUnitLabel   *bool                  `toml:"append_unit_label" yaml:"append_unit_label"`
	ConversionType    string                 `toml:"conversion_type" yaml:"conversion_type"`
	Format            string                 `toml:"format" yaml:"format"`
	Binding           []string               `toml:"binding" yaml:"binding"`
	Fields            map[string]FieldConfig `toml:"fields" yaml:"fields"`
}

type FieldConfig struct {
	Name            string `toml:"name" yaml:"name"`
	Unit            string `toml:"unit" yaml:"unit"`
	Ignore          *bool  `toml:"ignore" yaml:"ignore"`
	AppendUnitLabel *bool  `toml:"append_unit_label" yaml:"append_unit_label"`
	ConversionType  string `toml:"conversion_type" yaml:"conversion_type"`
	Format          string `toml:"format" yaml:"format"`
}

// LoadSettings reads the settings file, choosing the decoder by extension,
// applies defaults and validates the result. Unknown keys are rejected.
func LoadSettings(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("config: unable to read settings file %s: %s", path, err)
	}

	return ParseSettings(b, filepath.Ext(path))
}

func ParseSettings(b []byte, ext string) (*Settings, error) {
	s := &Settings{}

	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(b), s)
		if err != nil {
			return nil, errors.Errorf("config: unable to parse TOML settings: %s", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Errorf("config: unknown settings %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil {
			return nil, errors.Errorf("config: unable to parse YAML settings: %s", err)
		}
	default:
		return nil, errors.Errorf("config: unsupported settings file extension %q", ext)
	}

	s.Live.Name = LivePublisher
	s.Queue.Name = QueuePublisher

	for _, p := range []*PublisherConfig{&s.Live, &s.Queue} {
		p.applyDefaults()
		if !p.Enable {
			continue
		}
		if err := p.validate(); err != nil {
			return nil, err
		}
	}

	if s.Live.Enable && s.Queue.Enable && s.Live.Ledger.sameTable(s.Queue.Ledger) {
		return nil, errors.New("config: the live and queue publishers cannot share a ledger")
	}

	return s, nil
}

// Publishers returns the enabled publisher sections.
func (s *Settings) Publishers() []*PublisherConfig {
	var ps []*PublisherConfig
	for _, p := range []*PublisherConfig{&s.Live, &s.Queue} {
		if p.Enable {
			ps = append(ps, p)
		}
	}

	return ps
}

func (p *PublisherConfig) applyDefaults() {
	b := &p.Broker
	if b.Driver == "" {
		b.Driver = MQTT
	}
	if b.Host == "" {
		b.Host = "localhost"
	}
	if b.Port == 0 {
		b.Port = 1883
		if b.Driver == Kafka {
			b.Port = 9092
		}
	}
	if b.Keepalive == 0 {
		b.Keepalive = 60
	}
	if b.ClientID == "" {
		b.ClientID = fmt.Sprintf("%s-%s-%s", clientIDPrefix, p.Name, uuid.New().String()[:8])
	}

	if p.Ledger.Driver == "" {
		p.Ledger.Driver = SQLite
	}
	if p.Ledger.Table == "" {
		p.Ledger.Table = LedgerTable
	}
	if p.Backlog.Driver == "" {
		p.Backlog.Driver = SQLite
	}
	if p.Backlog.Table == "" {
		p.Backlog.Table = "archive"
	}

	setInt(&p.ConnectAttempts, 100)
	setFloat(&p.ConnectWait, 0.1)
	setInt(&p.InflightAttempts, 5)
	setFloat(&p.InflightWait, 2)
	setInt(&p.RepublishPasses, 10)
	setFloat(&p.WaitBeforeRetry, 2)
	setInt(&p.CatchupCount, 10)
	setInt(&p.StaleAfter, defaultStaleAfter)
	setFloat(&p.LiveQueueTimeout, 150)
}

func (p *PublisherConfig) validate() error {
	if len(p.Topics) == 0 {
		return errors.Errorf("config: the %s publisher requires at least one topic", p.Name)
	}
	for _, t := range p.Topics {
		if t.Name == "" {
			return errors.Errorf("config: the %s publisher has a topic without a name", p.Name)
		}
	}

	switch p.Broker.Driver {
	case MQTT, Kafka:
	default:
		return errors.Errorf("config: the %s publisher broker driver (%s) is not supported", p.Name, p.Broker.Driver)
	}

	if p.Broker.TLS != nil {
		if _, err := p.Broker.TLS.Build(); err != nil {
			return err
		}
	}

	if err := p.Ledger.validate(p.Name + " ledger"); err != nil {
		return err
	}

	if p.Name == QueuePublisher {
		return p.Backlog.validate(p.Name + " backlog")
	}

	return nil
}

func (p *PublisherConfig) ConnectWaitDuration() time.Duration {
	return seconds(p.ConnectWait)
}

func (p *PublisherConfig) InflightWaitDuration() time.Duration {
	return seconds(p.InflightWait)
}

func (p *PublisherConfig) WaitBeforeRetryDuration() time.Duration {
	return seconds(p.WaitBeforeRetry)
}

func (p *PublisherConfig) LiveQueueTimeoutDuration() time.Duration {
	return seconds(p.LiveQueueTimeout)
}

func (p *PublisherConfig) CleanupIntervalDuration() time.Duration {
	return time.Duration(p.CleanupInterval) * time.Second
}

func (p *PublisherConfig) StaleAfterDuration() time.Duration {
	return time.Duration(p.StaleAfter) * time.Second
}

func (b Broker) Address() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

func (b Broker) KeepaliveDuration() time.Duration {
	return time.Duration(b.Keepalive) * time.Second
}

func (b Broker) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"Driver":    b.Driver,
		"Host":      b.Host,
		"Port":      b.Port,
		"Keepalive": b.Keepalive,
		"Username":  b.Username,
		"Password":  "xxxxx",
		"ClientID":  b.ClientID,
		"Log":       b.Log,
		"TLS":       b.TLS,
	})
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
