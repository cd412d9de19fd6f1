// Package logger is the logging facade used by the peer and utp actor
// packages (dht takes no logger). It wraps op/go-logging the same way
// the teacher's internal/logger package does, so call sites read
// identically regardless of which backend is configured.
package logger

import (
	"fmt"

	logging "github.com/op/go-logging"
)

// Logger is the small subset of the teacher's logging API that call
// sites in this module use: the plain and formatted forms op/go-logging
// gives natively, plus "ln" forms (space-joined, newline-terminated,
// fmt.Sprintln style) that it doesn't.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugln(args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infoln(args ...interface{})
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
	Warningln(args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorln(args ...interface{})
}

type wrapper struct {
	l *logging.Logger
}

// New returns a Logger for the named module, e.g. "peer", "utp", "dht".
func New(module string) Logger {
	return &wrapper{l: logging.MustGetLogger(module)}
}

func (w *wrapper) Debug(args ...interface{})                 { w.l.Debug(args...) }
func (w *wrapper) Debugf(format string, args ...interface{}) { w.l.Debugf(format, args...) }
func (w *wrapper) Debugln(args ...interface{})                { w.l.Debug(fmt.Sprintln(args...)) }
func (w *wrapper) Info(args ...interface{})                   { w.l.Info(args...) }
func (w *wrapper) Infof(format string, args ...interface{})  { w.l.Infof(format, args...) }
func (w *wrapper) Infoln(args ...interface{})                 { w.l.Info(fmt.Sprintln(args...)) }
func (w *wrapper) Warning(args ...interface{})                { w.l.Warning(args...) }
func (w *wrapper) Warningf(format string, args ...interface{}) {
	w.l.Warningf(format, args...)
}
func (w *wrapper) Warningln(args ...interface{}) { w.l.Warning(fmt.Sprintln(args...)) }
func (w *wrapper) Error(args ...interface{})     { w.l.Error(args...) }
func (w *wrapper) Errorf(format string, args ...interface{}) {
	w.l.Errorf(format, args...)
}
func (w *wrapper) Errorln(args ...interface{}) { w.l.Error(fmt.Sprintln(args...)) }
