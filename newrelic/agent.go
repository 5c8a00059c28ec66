package newrelic

import (
	"io"
	"os"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"

	"inviqa/mqtt-outbox-relay/log"
)

const (
	appName           = "mqtt-outbox-relay"
	shutdownTimeout   = time.Second * 10
	envKeyLicense     = "NEW_RELIC_LICENSE_KEY"
	envKeyNewRelicEnv = "NEW_RELIC_ENV"
	envKeyLogLevel    = "NEW_RELIC_LOG_LEVEL"
)

// StartAgent starts the APM agent. Without a license key no agent is started
// and a nil application is returned, which every caller accepts.
func StartAgent() (*newrelic.Application, func()) {
	if os.Getenv(envKeyLicense) == "" {
		log.Logger.Debug("no New Relic license key configured, agent disabled")
		return nil, func() {}
	}

	app, err := newrelic.NewApplication(agentOptions()...)
	if err != nil {
		log.Logger.WithError(err).Fatal("error starting New Relic agent")
	}

	return app, func() {
		log.Logger.Info("shutting down newrelic agent")
		app.Shutdown(shutdownTimeout)
	}
}

// agentOptions lists the agent settings. The environment is applied after the
// defaults so NEW_RELIC_APP_NAME and friends take precedence.
func agentOptions() []newrelic.ConfigOption {
	logger := newrelic.ConfigInfoLogger(logWriter())
	if os.Getenv(envKeyLogLevel) == "debug" {
		logger = newrelic.ConfigDebugLogger(logWriter())
	}

	return []newrelic.ConfigOption{
		newrelic.ConfigAppName(appName),
		newrelic.ConfigFromEnvironment(),
		logger,
		func(cfg *newrelic.Config) {
			cfg.Labels = map[string]string{
				"env":     os.Getenv(envKeyNewRelicEnv),
				"service": appName,
			}
		},
	}
}

func logWriter() io.Writer {
	if l, ok := log.Logger.(*logrus.Logger); ok {
		return l.Writer()
	}

	return os.Stdout
}
