// Package logging builds the process logger. The terminal UI owns stdout, so
// runtime logs go to a file as zerolog JSON lines that internal/logtail can
// read back.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EnvLogLevel overrides the configured level when set to a known level.
const EnvLogLevel = "TETHER_LOG_LEVEL"

// Options configure Configure.
type Options struct {
	App   string
	Level string
	// File receives JSON lines. Empty writes to Console or discards.
	File string
	// Console writes human-readable output to this writer instead of JSON.
	Console io.Writer
}

// Configure builds the logger, installs it as the zerolog global and returns
// it with a close func for the log file.
func Configure(opts Options) (zerolog.Logger, func() error, error) {
	level, ok := ParseLevel(opts.Level)
	if !ok {
		level = zerolog.InfoLevel
	}
	if envLevel, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = envLevel
	}

	closeFn := func() error { return nil }
	var out io.Writer = io.Discard
	switch {
	case opts.Console != nil:
		out = zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.RFC3339}
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = f.Close
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if opts.App != "" {
		ctx = ctx.Str("app", opts.App)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger, closeFn, nil
}

// ParseLevel accepts zerolog level names plus a few aliases. The bool is
// false for empty or unknown input.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
