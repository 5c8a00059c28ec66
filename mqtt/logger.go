package mqtt

import (
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type pahoLogger struct {
	println func(args ...interface{})
	printf  func(format string, args ...interface{})
}

func (l pahoLogger) Println(v ...interface{}) {
	l.println(v...)
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.printf(format, v...)
}

// EnableLogging routes paho's internal loggers into logrus. Paho's loggers are
// process wide.
func EnableLogging(logger logrus.FieldLogger) {
	l := logger.WithField("component", "paho")

	paho.ERROR = pahoLogger{println: l.Errorln, printf: l.Errorf}
	paho.CRITICAL = pahoLogger{println: l.Errorln, printf: l.Errorf}
	paho.WARN = pahoLogger{println: l.Warnln, printf: l.Warnf}
	paho.DEBUG = pahoLogger{println: l.Debugln, printf: l.Debugf}
}
