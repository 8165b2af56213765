package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns the process logger: JSON in deployed environments, text when
// running locally. LOG_LEVEL overrides the environment's default level.
func New(appEnv string) *slog.Logger {
	return NewWithWriter(appEnv, os.Getenv("LOG_LEVEL"), os.Stdout)
}

func NewWithWriter(appEnv, levelName string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	local := appEnv == "local" || appEnv == "dev" || appEnv == ""
	if local {
		level = slog.LevelDebug
	}
	if levelName != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(strings.ToUpper(levelName))); err == nil {
			level = l
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if local {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts)).With("env", appEnv)
}

// Component tags every record of l with the emitting subsystem.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", name)
}

type ctxKey struct{}

// With stores a logger in context.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From gets a logger from context, falling back to slog.Default().
func From(ctx context.Context) *slog.Logger {
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
