// Package logging provides the structured logger used by every component.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface components depend on.
// Components receive a Logger at construction instead of using package state.
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New creates a logrus-backed Logger writing to stderr.
// Unknown levels fall back to info; format is "text" or "json".
func New(level, format string) Logger {
	return NewWithOutput(level, format, os.Stderr)
}

// NewWithOutput creates a logrus-backed Logger writing to out.
func NewWithOutput(level, format string, out io.Writer) Logger {
	l := logrus.New()
	l.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

// Nop discards everything. Used by tests.
type Nop struct{}

func (Nop) Debug(args ...interface{})                         {}
func (Nop) Info(args ...interface{})                          {}
func (Nop) Warn(args ...interface{})                          {}
func (Nop) Error(args ...interface{})                         {}
func (Nop) Debugf(format string, args ...interface{})         {}
func (Nop) Infof(format string, args ...interface{})          {}
func (Nop) Warnf(format string, args ...interface{})          {}
func (Nop) Errorf(format string, args ...interface{})         {}
func (n Nop) WithField(key string, value interface{}) Logger  { return n }
func (n Nop) WithFields(fields map[string]interface{}) Logger { return n }
func (n Nop) WithError(err error) Logger                      { return n }

// NewNop returns a Logger that discards all output.
func NewNop() Logger {
	return Nop{}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New("info", "text")
)

// Default returns the process-wide logger set by SetDefault.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}
