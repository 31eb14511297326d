package observ

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the global log level ("debug", "info", "warning", "error").
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logger.WithField("level", level).Warn("unknown log level, keeping info")
		return
	}
	logger.SetLevel(parsed)
}

// Log emits a structured info event with arbitrary key/value fields.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	logger.WithFields(logrus.Fields(kv)).Info(event)
}

// Warn emits a structured warning event.
func Warn(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	logger.WithFields(logrus.Fields(kv)).Warn(event)
}

// Error emits a structured error event.
func Error(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	logger.WithFields(logrus.Fields(kv)).Error(event)
}

// Debug emits a structured debug event.
func Debug(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	logger.WithFields(logrus.Fields(kv)).Debug(event)
}
