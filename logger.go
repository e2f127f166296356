package profilesync

import (
	"context"
	"io"

	internallogger "github.com/Dipanshu-verma/profilesync/internal/logger"
)

type Logger interface {
	// Debug is only called when debug mode is enabled.
	Debug(ctx context.Context, msg string, meta MKV)
	// Error is used when writing errors to the logs.
	Error(ctx context.Context, err error)
}

// MKV is a multiple key value store for the logger to format into its output.
type MKV map[string]string

// logger wraps the configured Logger so that debug logs can be switched off without the caller checking.
type logger struct {
	debugMode bool
	inner     Logger
}

func (l *logger) Debug(ctx context.Context, msg string, meta MKV) {
	if !l.debugMode {
		return
	}

	l.inner.Debug(ctx, msg, meta)
}

func (l *logger) Error(ctx context.Context, err error) {
	l.inner.Error(ctx, err)
}

// slogAdapter satisfies Logger with the JSON logger from internal/logger.
type slogAdapter struct {
	l internallogger.Logger
}

func (s slogAdapter) Debug(ctx context.Context, msg string, meta MKV) {
	s.l.Debug(ctx, msg, meta)
}

func (s slogAdapter) Error(ctx context.Context, err error) {
	s.l.Error(ctx, err.Error(), string(Classify(err)))
}

// NewJSONLogger returns the default Logger, writing JSON lines to w.
func NewJSONLogger(w io.Writer) Logger {
	return slogAdapter{l: internallogger.New(w, "profilesync")}
}
