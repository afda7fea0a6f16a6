package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry so packages can carry their own fields.
type Logger struct {
	entry *logrus.Entry
}

func NewLogger(level string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &Logger{entry: logrus.NewEntry(l)}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

var DefaultLogger = NewLogger("info")
