package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	defaultLevel = logrus.ErrorLevel
	publisherKey = "publisher"
)

var Logger logrus.FieldLogger

func init() {
	Logger = newLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// ForPublisher returns a logger whose entries are tagged with the name of the
// publisher instance (live or queue) that emitted them.
func ForPublisher(name string) logrus.FieldLogger {
	return Logger.WithField(publisherKey, name)
}

func newLogger(level, format string) *logrus.Logger {
	l := logrus.New()
	l.Formatter = resolveFormatter(format)
	l.Out = os.Stdout

	lvl, err := resolveLogLevel(level)
	l.Level = lvl

	if err != nil {
		l.Errorf("an error occurred resolving the log level: %s", err)
	}

	return l
}

// resolveFormatter picks JSON unless plain text is asked for, which is easier
// on the eye when running on a terminal.
func resolveFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}
	}

	return &logrus.JSONFormatter{}
}

func resolveLogLevel(envLvl string) (logrus.Level, error) {
	if envLvl == "" {
		return defaultLevel, nil
	}

	lvl, err := logrus.ParseLevel(envLvl)
	if err != nil {
		return defaultLevel, err
	}

	return lvl, nil
}
