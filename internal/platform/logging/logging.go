// Package logging builds the process zerolog.Logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where and how verbosely the process logs.
type Options struct {
	Level   string
	Console bool
	// File enables an additional JSON log rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a timestamped logger. Console output is human readable; the
// rotating file, when configured, always receives JSON.
func New(stdout io.Writer, opts Options) zerolog.Logger {
	var out io.Writer = stdout
	if opts.Console {
		out = zerolog.ConsoleWriter{Out: stdout}
	}

	if opts.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}

	return zerolog.New(out).Level(ParseLevel(opts.Level)).With().Timestamp().Logger()
}

// NewDefault is used before configuration is available.
func NewDefault() zerolog.Logger {
	return New(os.Stdout, Options{Level: "info", Console: os.Getenv("ENV") == "development"})
}

// ParseLevel falls back to info for empty or unknown names.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
