// Package log provides the structured, per-component logger used across
// the storage core. It never stashes state behind a package-level
// registry: every component receives its own *zerolog.Logger from New,
// so there is no process-wide logging singleton to configure or race on.
package log

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.CallerSkipFrameCount = 3
}

type traceKey struct{}

// WithTrace attaches a request trace id to ctx, picked up by any
// subsequent log call made with that context.
func WithTrace(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func traceFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// New returns a logger scoped to component, writing to w. mode "dev" or
// "" prints a human-readable console format; any other mode (such as
// "prod") prints structured JSON.
func New(component string, w io.Writer, mode string) *zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	out := w
	if mode == "" || mode == "dev" {
		out = zerolog.ConsoleWriter{Out: w}
	}
	l := zerolog.New(out).With().
		Str("component", component).
		Int("pid", os.Getpid()).
		Timestamp().
		Caller().
		Logger()
	return &l
}

// Event starts a log event for ctx at level, attaching the trace id if
// one was stashed with WithTrace. Components call this instead of the
// zerolog.Logger methods directly so every line carries the trace.
func Event(ctx context.Context, l *zerolog.Logger, level zerolog.Level) *zerolog.Event {
	ev := l.WithLevel(level)
	if t := traceFrom(ctx); t != "" {
		ev = ev.Str("trace", t)
	}
	return ev
}
