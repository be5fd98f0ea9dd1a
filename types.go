package connect

import (
	"fmt"
	"strings"
	"time"
)

// Logger is the structured logging contract used by every package in the module.
// Arguments after msg are key/value pairs, matching slog and go-logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Scheduler runs f once after d and returns a function that cancels the
// pending call. The returned stop reports whether the call was prevented.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

// AfterFunc is the default Scheduler backed by time.AfterFunc.
func AfterFunc(d time.Duration, f func()) func() bool {
	t := time.AfterFunc(d, f)
	return t.Stop
}

// DefaultLogger returns the fallback logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

// NormalizeLogger returns logger or the default logger when nil.
func NormalizeLogger(logger Logger) Logger {
	if logger == nil {
		return defLogger{}
	}
	return logger
}

// ShortState truncates an OAuth state value so it can be logged without
// exposing the full secret.
func ShortState(state string) string {
	if len(state) <= 8 {
		return state
	}
	return state[:8] + "..."
}

type defLogger struct{}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Print("[ERR] CONNECT " + line(msg, args))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Print("[WRN] CONNECT " + line(msg, args))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Print("[INF] CONNECT " + line(msg, args))
}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Print("[DBG] CONNECT " + line(msg, args))
}

func line(msg string, args []any) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(args) {
			fmt.Fprintf(&b, "%v=%v", args[i], args[i+1])
			continue
		}
		fmt.Fprintf(&b, "%v", args[i])
	}
	if !strings.HasSuffix(msg, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}
