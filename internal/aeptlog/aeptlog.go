// Package aeptlog is aept's leveled logging wrapper around the stdlib
// *log.Logger: io.Discard by default, a visible destination only once the
// caller asks for it.
package aeptlog

import (
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/term"
)

// Level selects which messages reach the underlying writer.
type Level int

const (
	LevelWarn Level = iota
	LevelInfo
	LevelDebug
)

// Logger is aept's logging handle. The zero value discards everything.
type Logger struct {
	level Level
	out   *log.Logger
}

// New builds a Logger writing to w at the given level. Debug level adds
// file:line origin via log.Lshortfile.
func New(w io.Writer, level Level) *Logger {
	flags := log.LstdFlags
	if level >= LevelDebug {
		flags |= log.Lshortfile
	}
	return &Logger{level: level, out: log.New(w, "", flags)}
}

// Default returns the silent logger aept starts with absent -v.
func Default() *Logger {
	return New(io.Discard, LevelWarn)
}

// IsColorTTY reports whether both stdout and stderr are terminals. The
// Logger never colors its output and cmd/aept does not call this, so no
// aept output is colored.
func IsColorTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil || l.out == nil || level > l.level {
		return
	}
	l.out.Output(3, fmt.Sprintf(format, args...))
}

// Warnf logs at warn level, aept's default visible level once logging is
// enabled at all.
func (l *Logger) Warnf(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Debugf logs at debug level, only reached with -v or equivalent.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
