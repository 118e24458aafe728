package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Level orders severities. The zero value turns logging off.
type Level int

const (
	LevelDisabled Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps LOG_LEVEL values; unknown values fall back to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "off", "disabled", "none":
		return LevelDisabled
	default:
		return LevelInfo
	}
}

// Fields are structured key/value pairs attached to entries.
type Fields map[string]any

// attrs returns the fields sorted by key so entries are stable.
func (f Fields) attrs() []slog.Attr {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]slog.Attr, 0, len(keys))
	for _, key := range keys {
		out = append(out, slog.Any(key, f[key]))
	}
	return out
}

type Logger interface {
	With(fields Fields) Logger
	WithField(name string, value any) Logger
	WithError(err error) Logger
	// WithContext returns ctx carrying fields that every entry logged with
	// it will include, e.g. the request id.
	WithContext(ctx context.Context, fields Fields) context.Context
	Debug(ctx context.Context, msg string)
	Info(ctx context.Context, msg string)
	Warn(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

type ctxFieldsKey struct{}

func contextAttrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(ctxFieldsKey{}).([]slog.Attr)
	return attrs
}

type jsonLogger struct {
	impl  *slog.Logger
	attrs []slog.Attr
}

// New writes JSON entries to stdout.
func New(level Level) Logger {
	return NewWithWriter(os.Stdout, level)
}

func NewWithWriter(w io.Writer, level Level) Logger {
	if level == LevelDisabled {
		return Nop()
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level.slog(),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	})
	return jsonLogger{impl: slog.New(handler).With("service", "visitrack")}
}

func (l jsonLogger) with(attrs ...slog.Attr) jsonLogger {
	merged := make([]slog.Attr, 0, len(l.attrs)+len(attrs))
	merged = append(merged, l.attrs...)
	l.attrs = append(merged, attrs...)
	return l
}

func (l jsonLogger) With(fields Fields) Logger {
	if len(fields) == 0 {
		return l
	}
	return l.with(fields.attrs()...)
}

func (l jsonLogger) WithField(name string, value any) Logger {
	return l.with(slog.Any(name, value))
}

func (l jsonLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

func (l jsonLogger) WithContext(ctx context.Context, fields Fields) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	existing := contextAttrs(ctx)
	attrs := make([]slog.Attr, 0, len(existing)+len(fields))
	attrs = append(attrs, existing...)
	attrs = append(attrs, fields.attrs()...)
	return context.WithValue(ctx, ctxFieldsKey{}, attrs)
}

func (l jsonLogger) Debug(ctx context.Context, msg string) { l.log(ctx, LevelDebug, msg) }

func (l jsonLogger) Info(ctx context.Context, msg string) { l.log(ctx, LevelInfo, msg) }

func (l jsonLogger) Warn(ctx context.Context, msg string) { l.log(ctx, LevelWarn, msg) }

func (l jsonLogger) Error(ctx context.Context, msg string) { l.log(ctx, LevelError, msg) }

func (l jsonLogger) log(ctx context.Context, level Level, msg string) {
	fromCtx := contextAttrs(ctx)
	attrs := make([]slog.Attr, 0, len(fromCtx)+len(l.attrs))
	attrs = append(attrs, fromCtx...)
	attrs = append(attrs, l.attrs...)
	l.impl.LogAttrs(ctx, level.slog(), msg, attrs...)
}
