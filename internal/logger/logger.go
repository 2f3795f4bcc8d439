// Package logger builds the zerolog logger shared by every photolib binary.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05"

// New returns a console logger in development and JSON everywhere else.
// Passing writers overrides the output, which tests use to capture lines.
func New(env, level string, writers ...io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer
	switch {
	case len(writers) > 0:
		out = io.MultiWriter(writers...)
	case isDevelopment(env):
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: timeFormat}
	default:
		out = os.Stdout
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("env", env).Logger(), nil
}

// ParseLevel accepts zerolog level names case-insensitively; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(level)
}

func isDevelopment(env string) bool {
	return strings.EqualFold(env, "development") || strings.EqualFold(env, "dev")
}
