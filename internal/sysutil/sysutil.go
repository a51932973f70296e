// Package sysutil holds process bootstrap helpers shared by cmd/server and
// cmd/worker.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetLogLevel sets the global zerolog level from a case-insensitive name
// (debug, info, warn/warning, error, fatal, panic). Blank or unknown names
// mean info.
func SetLogLevel(name string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || name == "" || lvl == zerolog.NoLevel || lvl < zerolog.DebugLevel || lvl > zerolog.PanicLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// ConfigureLogger replaces the global logger with one tagged with the
// process role and returns it. pretty switches to the console writer.
func ConfigureLogger(level string, pretty bool, role string) zerolog.Logger {
	return configureLogger(os.Stderr, level, pretty, role)
}

func configureLogger(w io.Writer, level string, pretty bool, role string) zerolog.Logger {
	SetLogLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("role", role).Logger()
	return log.Logger
}

// FirstNonEmpty returns the first non-blank candidate unchanged, or "".
func FirstNonEmpty(candidates ...string) string {
	for i := range candidates {
		if strings.TrimSpace(candidates[i]) == "" {
			continue
		}
		return candidates[i]
	}
	return ""
}
