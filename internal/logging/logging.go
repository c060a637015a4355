// Package logging centralizes the leveled log.Printf call sites the
// teacher scattered across its device/host packages into a single
// facility per concern, while keeping the underlying stdlib log.Logger
// the teacher used rather than adopting a third-party structured logger
// (see DESIGN.md).
package logging

import (
	"log"
	"os"
)

// Level orders the four verbosity tiers a device transaction reports
// through.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger wraps *log.Logger with a minimum level filter and a fixed
// component prefix, replacing the teacher's bare `log.Printf("...")`
// call sites with one shared, filterable facility per package.
type Logger struct {
	base *log.Logger
	min  Level
}

// New creates a Logger prefixed with component, writing to stderr.
func New(component string) *Logger {
	return &Logger{
		base: log.New(os.Stderr, "["+component+"] ", log.LstdFlags),
		min:  LevelInfo,
	}
}

// SetLevel changes the minimum level that is actually emitted.
func (l *Logger) SetLevel(lvl Level) { l.min = lvl }

func (l *Logger) logf(lvl Level, tag, format string, args ...interface{}) {
	if lvl < l.min {
		return
	}
	l.base.Printf(tag+" "+format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, "DEBUG", format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.logf(LevelInfo, "INFO", format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.logf(LevelWarn, "WARN", format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, "ERROR", format, args...) }
