package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validToml = `
[live]
enable = true
nats_url = "nats://localhost:4222"
nats_subject = "weather.loop"

[live.broker]
host = "broker.local"
username = "weewx"
password = "s3cret"

[live.ledger]
name = "/tmp/live.sdb"

[[live.topics]]
name = "weather/loop"
qos = 1
guarantee_delivery = true

[queue]
enable = true
catchup_count = 25

[queue.broker]
client_id = "fixed-id"

[queue.ledger]
name = "/tmp/queue.sdb"

[queue.backlog]
name = "/tmp/archive.sdb"

[queue.defaults]
type = "keyword"

[[queue.topics]]
name = "weather"
binding = ["archive"]

[queue.topics.fields.outTemp]
name = "temperature"
unit = "degree_C"
`

func TestNewConfig(t *testing.T) {
	path := writeFile(t, "settings.toml", validToml)
	os.Args = []string{"mqtt-outbox-relay"}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("PUBLISHER", "live")
	os.Setenv("RUN_CLEAN", "true")
	defer func() {
		os.Unsetenv("CONFIG_FILE")
		os.Unsetenv("PUBLISHER")
		os.Unsetenv("RUN_CLEAN")
	}()

	got, err := NewConfig()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if got.ConfigFile != path {
		t.Errorf("expected config file %s, but got %s", path, got.ConfigFile)
	}
	if got.MetricsAddr != ":9090" {
		t.Errorf("expected default metrics address, but got %s", got.MetricsAddr)
	}
	if !got.RunJob() {
		t.Error("expected a maintenance job to be requested")
	}

	p, err := got.PublisherByName(got.Publisher)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if p.Name != LivePublisher {
		t.Errorf("expected the live publisher, but got %s", p.Name)
	}

	addrs := got.GetDependencySystemAddresses()
	if len(addrs) != 2 || addrs[0] != "broker.local:1883" || addrs[1] != "localhost:1883" {
		t.Errorf("unexpected dependency addresses %v", addrs)
	}
}

func TestNewConfig_UnknownPublisher(t *testing.T) {
	path := writeFile(t, "settings.toml", validToml)
	os.Args = []string{"mqtt-outbox-relay"}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("PUBLISHER", "archive")
	defer func() {
		os.Unsetenv("CONFIG_FILE")
		os.Unsetenv("PUBLISHER")
	}()

	if _, err := NewConfig(); err == nil {
		t.Error("expected an error, but got nil")
	}
}

func TestNewConfig_CustomLedgerTableRequiresSkippingMigrations(t *testing.T) {
	doc := strings.Replace(validToml, "[live.ledger]\n", "[live.ledger]\ntable = \"relay_outbox\"\n", 1)
	path := writeFile(t, "settings.toml", doc)
	os.Setenv("CONFIG_FILE", path)
	defer os.Unsetenv("CONFIG_FILE")

	os.Args = []string{"mqtt-outbox-relay"}
	if _, err := NewConfig(); err == nil {
		t.Error("expected an error, but got nil")
	}

	os.Args = []string{"mqtt-outbox-relay", "--skip-migrations"}
	got, err := NewConfig()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got.Live.Ledger.Table != "relay_outbox" {
		t.Errorf("expected the custom ledger table, but got %s", got.Live.Ledger.Table)
	}
}

func TestParseSettings_Toml(t *testing.T) {
	s, err := ParseSettings([]byte(validToml), ".toml")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if s.Queue.CatchupCount != 25 {
		t.Errorf("expected catchup count 25, but got %d", s.Queue.CatchupCount)
	}
	if s.Live.CatchupCount != 10 {
		t.Errorf("expected default catchup count 10, but got %d", s.Live.CatchupCount)
	}
	if s.Queue.Broker.ClientID != "fixed-id" {
		t.Errorf("expected configured client id to be kept, but got %s", s.Queue.Broker.ClientID)
	}
	if !strings.HasPrefix(s.Live.Broker.ClientID, "MQTTPublish-live-") {
		t.Errorf("expected a generated client id, but got %s", s.Live.Broker.ClientID)
	}
	if s.Live.Broker.Keepalive != 60 || s.Live.Broker.Port != 1883 {
		t.Errorf("expected broker defaults, but got %+v", s.Live.Broker)
	}
	if s.Queue.Ledger.Driver != SQLite || s.Queue.Ledger.Table != "mqtt_outbox" {
		t.Errorf("expected ledger defaults, but got %+v", s.Queue.Ledger)
	}
	if s.Queue.Backlog.Table != "archive" {
		t.Errorf("expected backlog table archive, but got %s", s.Queue.Backlog.Table)
	}
	if s.Queue.Defaults.Type != "keyword" {
		t.Errorf("expected keyword defaults, but got %s", s.Queue.Defaults.Type)
	}
	f := s.Queue.Topics[0].Fields["outTemp"]
	if f.Name != "temperature" || f.Unit != "degree_C" {
		t.Errorf("unexpected field config %+v", f)
	}
	if len(s.Publishers()) != 2 {
		t.Errorf("expected 2 enabled publishers, but got %d", len(s.Publishers()))
	}
}

func TestParseSettings_Yaml(t *testing.T) {
	doc := `
queue:
  enable: true
  broker:
    driver: kafka
    host: kafka
  ledger:
    driver: postgres
    name: relay
  backlog:
    name: /tmp/archive.sdb
  topics:
    - name: weather
      qos: 1
`
	s, err := ParseSettings([]byte(doc), ".yml")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if s.Queue.Broker.Driver != Kafka || s.Queue.Broker.Port != 9092 {
		t.Errorf("expected kafka broker defaults, but got %+v", s.Queue.Broker)
	}
	if *s.Queue.Topics[0].Qos != 1 {
		t.Errorf("expected qos 1, but got %d", *s.Queue.Topics[0].Qos)
	}
	if s.Live.Enable {
		t.Error("expected the live publisher to be disabled")
	}
}

func TestParseSettings_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		ext  string
	}{
		{
			name: "unknown extension",
			doc:  "",
			ext:  ".ini",
		},
		{
			name: "unknown toml key",
			doc:  "[queue]\nenable = true\nfoo = 1\n",
			ext:  ".toml",
		},
		{
			name: "unknown tls parameter",
			doc:  "[live.broker.tls]\nca_certs = \"/tmp/ca.pem\"\nverify = true\n",
			ext:  ".toml",
		},
		{
			name: "unknown yaml key",
			doc:  "queue:\n  enable: true\n  bar: 2\n",
			ext:  ".yaml",
		},
		{
			name: "no topics",
			doc:  "[queue]\nenable = true\n[queue.ledger]\nname = \"a\"\n[queue.backlog]\nname = \"b\"\n",
			ext:  ".toml",
		},
		{
			name: "unsupported ledger driver",
			doc:  "[live]\nenable = true\n[live.ledger]\ndriver = \"oracle\"\nname = \"a\"\n[[live.topics]]\nname = \"t\"\n",
			ext:  ".toml",
		},
		{
			name: "missing backlog",
			doc:  "[queue]\nenable = true\n[queue.ledger]\nname = \"a\"\n[[queue.topics]]\nname = \"t\"\n",
			ext:  ".toml",
		},
		{
			name: "shared ledger",
			doc:  "[live]\nenable = true\n[live.ledger]\nname = \"a\"\n[[live.topics]]\nname = \"t\"\n[queue]\nenable = true\n[queue.ledger]\nname = \"a\"\n[queue.backlog]\nname = \"b\"\n[[queue.topics]]\nname = \"t\"\n",
			ext:  ".toml",
		},
		{
			name: "tls without ca_certs",
			doc:  "[live]\nenable = true\n[live.broker.tls]\ntls_version = \"tlsv12\"\n[live.ledger]\nname = \"a\"\n[[live.topics]]\nname = \"t\"\n",
			ext:  ".toml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSettings([]byte(tt.doc), tt.ext); err == nil {
				t.Error("expected an error, but got nil")
			}
		})
	}
}

func TestConfig_MarshalJSONMasksPasswords(t *testing.T) {
	s, err := ParseSettings([]byte(validToml), ".toml")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	c := Config{Settings: *s}

	b, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if strings.Contains(string(b), "s3cret") {
		t.Errorf("expected the broker password to be masked, but got %s", b)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("unable to write %s: %s", path, err)
	}

	return path
}
