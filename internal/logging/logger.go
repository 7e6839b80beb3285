// Package logging builds the structured, leveled logger every component
// receives at construction time.
package logging

import (
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors the subset of zerolog levels the pipeline's configuration
// exposes.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the sink's encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Config configures the root logger.
type Config struct {
	Level  Level
	Format Format
}

// New builds the root logger. JSON output is used in production so log
// shippers can index fields; pretty output is for local development.
func New(cfg Config) zerolog.Logger {
	var output = os.Stdout
	var writer zerolog.ConsoleWriter
	useConsole := cfg.Format == FormatPretty

	level := zerolog.InfoLevel
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	if useConsole {
		writer = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
		return zerolog.New(writer).With().Timestamp().Str("service", "dna-pipeline").Logger()
	}
	return zerolog.New(output).With().Timestamp().Str("service", "dna-pipeline").Logger()
}

// LogError logs err with msg and arbitrary structured fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogPanic logs a recovered panic with a stack trace. Intended for use in
// worker goroutines' deferred recover() blocks.
func LogPanic(logger zerolog.Logger, panicValue any, msg string, fields map[string]any) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
