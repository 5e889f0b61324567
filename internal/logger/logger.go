// Package logger builds the structured logger shared by the service.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options describes where and how to log.
type Options struct {
	// Level is one of debug, info, warn (or warning) and error.
	Level string
	// Format is text or json.
	Format string
	// File, when set, receives a copy of every record.
	File string
	// MaxSizeBytes rotates File once it would grow past this size.
	// Zero means DefaultMaxSizeBytes.
	MaxSizeBytes int64
	// MaxBackups is how many rotated files are kept as File.1, File.2 and
	// so on. Zero means DefaultMaxBackups; a negative value keeps none.
	MaxBackups int
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w and, if opts.File is set, appending to
// that size-rotated file as well. The returned LevelVar adjusts the level at runtime and
// the closer releases the file.
func New(w io.Writer, opts Options) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	if w == nil {
		w = os.Stderr
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxBytes := opts.MaxSizeBytes
		if maxBytes <= 0 {
			maxBytes = DefaultMaxSizeBytes
		}
		backups := opts.MaxBackups
		if backups == 0 {
			backups = DefaultMaxBackups
		}
		f, err := openRotating(opts.File, maxBytes, backups)
		if err != nil {
			return nil, nil, nil, err
		}
		w = io.MultiWriter(w, f)
		closer = f
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(ParseLevel(opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: levelVar}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		_ = closer.Close()
		return nil, nil, nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(handler), levelVar, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
