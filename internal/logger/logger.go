// Package logger provides the configured zerolog loggers used by the sync
// engine and its command line tools.
package logger

import (
	"io"
	"os"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
)

// New returns a JSON zerolog.Logger writing to stdout tagged with serviceName.
// Call sites should use .Stack() on error events to include stacks.
func New(serviceName string) zerolog.Logger {
	return NewWithWriter(serviceName, os.Stdout)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(serviceName string, w io.Writer) zerolog.Logger {
	installStackMarshalers()
	return zerolog.New(w).With().
		Str("service", serviceName).
		Timestamp().
		Logger()
}

// InitConsole switches the global logger to plain console output on stderr
// and applies level. Used by the CLI.
func InitConsole(level zerolog.Level) {
	installStackMarshalers()
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	})
	zerolog.SetGlobalLevel(level)
}

// ParseLevel maps a textual level to zerolog. Unknown values map to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// installStackMarshalers makes zerolog render github.com/pkg/errors stacks and
// attach one to plain errors when .Stack() is requested.
func installStackMarshalers() {
	type stackTracer interface{ StackTrace() pkgerrors.StackTrace }
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		if _, ok := err.(stackTracer); ok {
			return err
		}
		return pkgerrors.WithStack(err)
	}
}
