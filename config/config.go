package config

import (
	"encoding/json"

	"github.com/alexflint/go-arg"
	"github.com/pkg/errors"
)

const (
	LivePublisher  = "live"
	QueuePublisher = "queue"
)

type Config struct {
	ConfigFile      string `arg:"--config,env:CONFIG_FILE,required"`
	SkipMigrations  bool   `arg:"--skip-migrations,env:SKIP_MIGRATIONS"`
	Publisher       string `arg:"--publisher,env:PUBLISHER" help:"publisher targeted by maintenance jobs (live or queue)"`
	RunClean        bool   `arg:"--clean,env:RUN_CLEAN"`
	RunDeepClean    bool   `arg:"--deep-clean,env:RUN_DEEP_CLEAN"`
	RunCancel       bool   `arg:"--cancel,env:RUN_CANCEL"`
	RunRepublish    bool   `arg:"--republish,env:RUN_REPUBLISH"`
	RunOptimize     bool   `arg:"--optimize,env:RUN_OPTIMIZE"`
	MetricsAddr     string `arg:"--metrics-addr,env:METRICS_ADDR"`
	SidecarProxyUrl string `arg:"--sidecar-proxy-url,env:SIDECAR_PROXY_URL"`

	Settings `arg:"-"`
}

func NewConfig() (*Config, error) {
	c := &Config{
		Publisher:   QueuePublisher,
		MetricsAddr: ":9090",
	}
	arg.MustParse(c)

	s, err := LoadSettings(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	c.Settings = *s

	if _, err := c.PublisherByName(c.Publisher); err != nil {
		return nil, err
	}

	if !c.SkipMigrations {
		for _, p := range c.Publishers() {
			if p.Ledger.Table != LedgerTable {
				return nil, errors.Errorf("config: the %s ledger table %q requires --skip-migrations, migrations only create %q", p.Name, p.Ledger.Table, LedgerTable)
			}
		}
	}

	return c, nil
}

// RunJob reports whether a one-shot maintenance job was requested instead of
// the long running publishers.
func (c *Config) RunJob() bool {
	return c.RunClean || c.RunDeepClean || c.RunCancel || c.RunRepublish || c.RunOptimize
}

func (c *Config) PublisherByName(name string) (*PublisherConfig, error) {
	switch name {
	case LivePublisher:
		return &c.Live, nil
	case QueuePublisher:
		return &c.Queue, nil
	}

	return nil, errors.Errorf("config: unknown publisher %q, expected %q or %q", name, LivePublisher, QueuePublisher)
}

// GetDependencySystemAddresses lists the broker addresses of every enabled
// publisher, used for readiness checks.
func (c *Config) GetDependencySystemAddresses() []string {
	var addrs []string
	for _, p := range c.Publishers() {
		addrs = append(addrs, p.Broker.Address())
	}

	return addrs
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"ConfigFile":      c.ConfigFile,
		"SkipMigrations":  c.SkipMigrations,
		"Publisher":       c.Publisher,
		"RunClean":        c.RunClean,
		"RunDeepClean":    c.RunDeepClean,
		"RunCancel":       c.RunCancel,
		"RunRepublish":    c.RunRepublish,
		"RunOptimize":     c.RunOptimize,
		"MetricsAddr":     c.MetricsAddr,
		"SidecarProxyUrl": c.SidecarProxyUrl,
		"Live":            c.Live,
		"Queue":           c.Queue,
	})
}
