// Package logging constructs the process-wide zerolog.Logger. The teacher
// repo reaches for zerolog in its dependency set but never wires it up
// (its components call stdlib log.Printf instead, see market/api_client.go);
// this package is the one construction point every component is handed its
// logger from explicitly, per the no-singleton design note.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. Pass a non-nil w to duplicate output (e.g. in
// tests); nil writes to stderr in human-readable console form.
func New(level string, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var out io.Writer
	if w != nil {
		out = w
	} else {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
