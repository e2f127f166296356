package logger

import (
	"context"
	"io"
	"log/slog"
)

// Logger writes JSON lines. Every line carries the component that emitted it and meta is nested under "meta".
type Logger struct {
	log *slog.Logger
}

func (l Logger) Debug(ctx context.Context, msg string, meta map[string]string) {
	l.log.DebugContext(ctx, msg, metaAttr(meta)...)
}

// Error logs msg at error level. The kind is the classification of the underlying error.
func (l Logger) Error(ctx context.Context, msg string, kind string) {
	l.log.ErrorContext(ctx, msg, "error_kind", kind)
}

// With returns a Logger that adds the key value pair to every line.
func (l Logger) With(key, value string) Logger {
	return Logger{log: l.log.With(key, value)}
}

func metaAttr(meta map[string]string) []any {
	if len(meta) == 0 {
		return nil
	}

	return []any{"meta", meta}
}

func New(w io.Writer, component string) Logger {
	// LevelDebug is set as filtering of debug logs happens before they reach the handler.
	opts := slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	return Logger{
		log: slog.New(slog.NewJSONHandler(w, &opts)).With("component", component),
	}
}
