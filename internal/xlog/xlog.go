// Package xlog is a thin component-tagging wrapper over the standard
// library logger, matching the teacher's direct log.Printf usage rather
// than pulling in a structured logging framework.
package xlog

import (
	"log"
	"os"
)

// debugMode mirrors the teacher's package-level DebugMode flag, set once
// at startup from the -debug CLI flag.
var debugMode bool

// SetDebug toggles whether Debugf lines are emitted.
func SetDebug(enabled bool) {
	debugMode = enabled
}

// Logger prefixes every line with a component tag, the same shape as
// original_source's logger.bind(object_id=...) idiom.
type Logger struct {
	tag string
	std *log.Logger
}

// New returns a Logger tagged with component, writing to stderr with the
// standard date/time prefix.
func New(component string) *Logger {
	return &Logger{
		tag: "[" + component + "] ",
		std: log.New(os.Stderr, "", log.LstdFlags),
	}
}

// With returns a Logger tagged with an additional identifier appended to
// component, e.g. xlog.New("container").With(chanID) -> "[container
// chanID] ...".
func (l *Logger) With(id string) *Logger {
	return &Logger{
		tag: l.tag[:len(l.tag)-2] + " " + id + "] ",
		std: l.std,
	}
}

func (l *Logger) Printf(format string, args ...any) {
	l.std.Printf(l.tag+format, args...)
}

func (l *Logger) Println(args ...any) {
	l.std.Println(append([]any{l.tag}, args...)...)
}

// Debugf logs only when SetDebug(true) has been called.
func (l *Logger) Debugf(format string, args ...any) {
	if !debugMode {
		return
	}
	l.std.Printf(l.tag+"DEBUG: "+format, args...)
}
