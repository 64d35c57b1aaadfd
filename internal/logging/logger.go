// Package logging defines the structured-logging interface shared by the
// server, the store and the HTTP layer, together with slog and logrus
// adapters.
package logging

import (
	"context"
	"io"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key/value pairs, e.g.:
//
//	log.Info(ctx, "token rotated", "user_id", id, "ip", ip)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key/value pairs.
	With(args ...any) Logger
}

// Supported output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// New builds a Logger writing to w. "text" selects the logrus adapter,
// anything else falls back to slog's JSON handler.
func New(format string, w io.Writer, debug bool) Logger {
	if format == FormatText {
		l := logrus.New()
		l.SetOutput(w)
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if debug {
			l.SetLevel(logrus.DebugLevel)
		}
		return NewLogrusLogger(logrus.NewEntry(l))
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return NewJSONSlogLogger(w, level)
}
