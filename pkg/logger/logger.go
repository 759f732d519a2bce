package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options controls how the logger is built.
type Options struct {
	Level       string
	AddSource   bool
	Environment string
	// File, when set, receives a copy of every record.
	File string
}

// New returns a logger writing to stdout.
func New(lvl string, addSource bool, environment string) *slog.Logger {
	return build(os.Stdout, lvl, addSource, environment)
}

// NewWithOptions returns a logger writing to stdout and, if configured, to a
// log file opened in append mode. The returned closer releases the file.
func NewWithOptions(opts Options) (*slog.Logger, io.Closer, error) {
	if opts.File == "" {
		return build(os.Stdout, opts.Level, opts.AddSource, opts.Environment), nopCloser{}, nil
	}

	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %q: %w", opts.File, err)
	}

	w := io.MultiWriter(os.Stdout, f)
	return build(w, opts.Level, opts.AddSource, opts.Environment), f, nil
}

func build(w io.Writer, lvl string, addSource bool, environment string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(lvl),
		AddSource: addSource,
	}

	var handler slog.Handler
	if strings.ToLower(environment) == "prod" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler).With(
		slog.String("environment", environment),
	)
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
