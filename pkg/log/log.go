package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultPerms = 0o0600

//nolint:gochecknoglobals
var loggerSetTimeFormat sync.Once

// Logger extends zerolog's Logger.
type Logger struct {
	zerolog.Logger
}

// NewLogger returns a json logger writing to output, or to stderr if output is empty.
func NewLogger(level, output string) Logger {
	lvl := parseLevel(level)

	writer, err := openOutput(output)
	if err != nil {
		panic(err)
	}

	log := zerolog.New(writer).Level(lvl)

	return Logger{Logger: log.With().Timestamp().Logger()}
}

// NewConsoleLogger returns a human readable logger, used by the cli when no log file is configured.
func NewConsoleLogger(level string, writer io.Writer) Logger {
	lvl := parseLevel(level)

	console := zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}

	return Logger{Logger: zerolog.New(console).Level(lvl).With().Timestamp().Logger()}
}

// NewAuditLogger returns a logger recording only delete decisions and deletions.
func NewAuditLogger(level, output string) *Logger {
	lvl := parseLevel(level)

	writer, err := openOutput(output)
	if err != nil {
		panic(err)
	}

	auditLog := zerolog.New(writer).Level(lvl)

	return &Logger{Logger: auditLog.With().Timestamp().Logger()}
}

// NewTestLogger discards everything, mostly useful in unit tests.
func NewTestLogger() Logger {
	return Logger{Logger: zerolog.Nop()}
}

func parseLevel(level string) zerolog.Level {
	loggerSetTimeFormat.Do(func() {
		zerolog.TimeFieldFormat = time.RFC3339Nano
	})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		panic(err)
	}

	return lvl
}

func openOutput(output string) (io.Writer, error) {
	if output == "" {
		return os.Stderr, nil
	}

	return os.OpenFile(output, os.O_APPEND|os.O_WRONLY|os.O_CREATE, defaultPerms)
}
