// Package logging builds the zerolog logger used by one CLI invocation.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"assetflow/pkg/faults"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options selects level and output format
type Options struct {
	Level  string
	Format string
}

// New creates a logger writing to out
func New(out io.Writer, opts Options) (zerolog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var w io.Writer
	switch strings.ToLower(opts.Format) {
	case "", FormatConsole:
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	case FormatJSON:
		w = out
	default:
		return zerolog.Nop(), faults.Configf("unknown log format %q (want %s or %s)", opts.Format, FormatConsole, FormatJSON)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// ParseLevel accepts zerolog level names; empty means info
func ParseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, faults.Configf("unknown log level %q", s)
	}
	return level, nil
}
