// Package logger provides structured logging utilities for the application.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Until Init runs every event is discarded.
var log = zerolog.Nop()

// Init initializes the global logger. level is a zerolog level name
// ("debug", "info", "warn", ...); unknown names fall back to info.
func Init(level string, logFile string) error {
	var writers []io.Writer

	// Human-readable console output
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	writers = append(writers, consoleWriter)

	// JSON lines appended to the log file, if configured
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	log = newLogger(zerolog.MultiLevelWriter(writers...), ParseLevel(level))
	return nil
}

// SetOutput sends every event at or above level to w as JSON and returns a
// function restoring the previous logger.
func SetOutput(w io.Writer, level string) (restore func()) {
	prev := log
	log = newLogger(w, ParseLevel(level))
	return func() { log = prev }
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	// Every line carries a timestamp and the calling file:line
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a configured level name to a zerolog level.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Debug logs a debug message.
func Debug() *zerolog.Event {
	return log.Debug()
}

// Info logs an info message.
func Info() *zerolog.Event {
	return log.Info()
}

// Warn logs a warning message.
func Warn() *zerolog.Event {
	return log.Warn()
}

// Error logs an error message.
func Error() *zerolog.Event {
	return log.Error()
}

// Fatal logs a fatal message and exits.
func Fatal() *zerolog.Event {
	return log.Fatal()
}

// With returns a child logger carrying the given component name.
func With(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
