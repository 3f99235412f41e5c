// Package logging wires up the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger. When interactive is true (a TTY
// is attached) output is a human-readable console writer; otherwise it is
// newline-delimited JSON suitable for the external scheduler's log capture.
func Init(level string, interactive bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer = os.Stderr
	if interactive {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ForSession returns a logger scoped to one market session.
func ForSession(sessionID string) zerolog.Logger {
	return log.With().Str("session_id", sessionID).Logger()
}

// ForResource returns a logger scoped to one resource's forecast run.
func ForResource(resourceID string) zerolog.Logger {
	return log.With().Str("resource_id", resourceID).Logger()
}
