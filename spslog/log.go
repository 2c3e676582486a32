// Package spslog is the logging collaborator spec.md keeps out of the
// core, "specified only by interface." Logger is the interface every
// reactor/dispatcher/protocol-engine component depends on; New
// wraps logrus the way chaitanyaphalak-go-mcast wires sirupsen/logrus
// behind its own types.Logger interface.
package spslog

import "github.com/sirupsen/logrus"

// Logger is the narrow surface the core needs. Nothing in internal/
// imports logrus directly; everything takes a Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

// Nop discards every log line. Used as the zero-value default so a
// Session never crashes for want of a configured logger.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}
func (n Nop) WithField(string, interface{}) Logger { return n }

// logrusLogger adapts *logrus.Entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// New builds the default logrus-backed Logger, with fields for
// "component" carried on every line.
func New(component string) Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: base.WithField("component", component)}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
