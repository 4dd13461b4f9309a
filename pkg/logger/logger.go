package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the service logger. Development environments get pretty console output,
// everything else JSON. A nil w writes to stdout.
func New(env string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if env == "development" || env == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: true}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).With().
		Timestamp().
		Str("service", "jec-go-versioning").
		Logger()
}

// WithTxID returns a logger with session_id field
func WithTxID(log zerolog.Logger, sessionID string) zerolog.Logger {
	return log.With().Str("session_id", sessionID).Logger()
}

// WithActor returns a logger with actor field
func WithActor(log zerolog.Logger, actorID string) zerolog.Logger {
	return log.With().Str("actor", actorID).Logger()
}
