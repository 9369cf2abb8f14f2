// Package logging provides the leveled logger used throughout the harness.
//
// It generalizes the teacher's fmt-based logger/logger.go package to a
// structured logger backed by logrus, so that every component can attach
// fields (run id, agent id, worker id) instead of hand-formatting strings.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the interface the rest of the harness depends on. It is
// satisfied by *logrus.Entry, which lets components attach fields with
// WithField/WithFields without this package needing to know about them.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) *logrus.Entry
	WithFields(fields logrus.Fields) *logrus.Entry
}

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel sets the global log level, mirroring logger.SetLevel in the
// teacher package.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// Named returns a Logger scoped to a component name, analogous to the
// teacher's per-type log prefixes (e.g. "[worker %v]").
func Named(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Root returns the base logger, for callers that don't need a component
// scope (e.g. main packages before anything else is constructed).
func Root() *logrus.Logger {
	return base
}
