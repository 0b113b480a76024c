// Package logging sets up the relay's structured logger: an slog.Logger
// with an extra TRACE level below DEBUG for per-frame tracing, and a
// handler that stamps sessionId/role onto every record when present in
// the log call's context.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/mk6i/stomp-relay/config"
)

// LevelTrace is one level below slog.LevelDebug, used for per-frame
// send/receive tracing that would otherwise drown out DEBUG.
const LevelTrace = slog.Level(-8)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
}

type sessionCtxKey struct{}

// WithSession returns a context carrying sessionId/role so any log call
// made with it picks up those attributes automatically.
func WithSession(ctx context.Context, sessionID, role string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, [2]string{sessionID, role})
}

// NewLogger builds the relay's logger from cfg.LogLevel, writing
// text-formatted records to stdout.
func NewLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "trace":
		level = LevelTrace
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "info":
		fallthrough
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				label, ok := levelNames[lvl]
				if !ok {
					label = lvl.String()
				}
				a.Value = slog.StringValue(label)
			}
			return a
		},
	}
	return slog.New(handler{slog.NewTextHandler(os.Stdout, opts)})
}

type handler struct {
	slog.Handler
}

func (h handler) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(sessionCtxKey{}).([2]string); ok {
		r.AddAttrs(
			slog.String("sessionId", v[0]),
			slog.String("role", v[1]),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handler{h.Handler.WithAttrs(attrs)}
}

func (h handler) WithGroup(name string) slog.Handler {
	return handler{h.Handler.WithGroup(name)}
}
