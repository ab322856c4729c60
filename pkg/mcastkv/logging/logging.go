// Package logging provides the default Logger implementation, backed by
// logrus instead of the bare standard library logger.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/jabolina/mcastkv/pkg/mcastkv/types"
)

// DefaultLogger wraps a logrus.Logger to satisfy types.Logger.
type DefaultLogger struct {
	entry *logrus.Logger
}

// NewDefaultLogger builds a logger writing to stderr at info level, with
// debug logging available through ToggleDebug.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{entry: l}
}

// ToggleDebug raises or lowers the logger's level.
func (d *DefaultLogger) ToggleDebug(enabled bool) {
	if enabled {
		d.entry.SetLevel(logrus.DebugLevel)
	} else {
		d.entry.SetLevel(logrus.InfoLevel)
	}
}

func (d *DefaultLogger) Debugf(format string, args ...interface{}) {
	d.entry.Debugf(format, args...)
}

func (d *DefaultLogger) Infof(format string, args ...interface{}) {
	d.entry.Infof(format, args...)
}

func (d *DefaultLogger) Warnf(format string, args ...interface{}) {
	d.entry.Warnf(format, args...)
}

func (d *DefaultLogger) Errorf(format string, args ...interface{}) {
	d.entry.Errorf(format, args...)
}

var _ types.Logger = (*DefaultLogger)(nil)
