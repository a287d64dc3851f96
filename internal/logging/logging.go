// Package logging builds the zerolog loggers of the command line tools and
// of the tests.
package logging

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// Formats.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a logger writing to w in the given format at the given level.
func New(w io.Writer, format, level string, noColor bool) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch format {
	case "", FormatConsole:
		w = NewConsoleWriter(w, noColor)
	case FormatJSON:
	default:
		return zerolog.Nop(), fmt.Errorf("log format %q is not supported", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// NewConsoleWriter returns a human readable writer over w.
func NewConsoleWriter(w io.Writer, noColor bool) *zerolog.ConsoleWriter {
	return &zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    noColor,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			if ll, ok := i.(string); ok {
				return strings.ToUpper(ll)
			}
			return "????"
		},
	}
}

// NewTestLogger returns a debug logger printing through t.Log, so output
// only shows for failed or verbose tests.
func NewTestLogger(t testing.TB) zerolog.Logger {
	w := NewConsoleWriter(testWriter{t}, true)
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(b []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(b), "\n"))
	return len(b), nil
}
