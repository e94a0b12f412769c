package nrf24

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger used by the driver.
// Both *logrus.Logger and *logrus.Entry satisfy it.
type Logger = logrus.FieldLogger

var globalLogger Logger = newDefaultLogger()

// SetLogger sets the logger used by devices created without
// RadioConfig.Logger. A nil logger silences the driver.
func SetLogger(l Logger) {
	if l == nil {
		globalLogger = NopLogger()
		return
	}
	globalLogger = l
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newDefaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}
