package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ComponentLogger adapts zerolog.Logger to the narrow Logger interface the
// relay, broadcaster and orchestrator accept.
type ComponentLogger struct {
	logger zerolog.Logger
}

// NewComponentLogger creates a new ComponentLogger wrapping a zerolog.Logger.
func NewComponentLogger(logger zerolog.Logger) *ComponentLogger {
	return &ComponentLogger{logger: logger}
}

// Debug logs a debug message with optional key-value pairs.
func (l *ComponentLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(toFields(keysAndValues)).Msg(msg)
}

// Info logs an info message with optional key-value pairs.
func (l *ComponentLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info().Fields(toFields(keysAndValues)).Msg(msg)
}

// Error logs an error message with optional key-value pairs.
func (l *ComponentLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Error().Fields(toFields(keysAndValues)).Msg(msg)
}

// toFields converts key-value pairs to a map for zerolog.
func toFields(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return fields
}

// ParseZerologLevel converts a config level, defaulting to info.
func ParseZerologLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewZerolog builds a console-formatted zerolog logger writing to all
// outputs. The first output is colored; the rest are plain.
func NewZerolog(level string, component string, outputs ...io.Writer) zerolog.Logger {
	writers := make([]io.Writer, 0, len(outputs))
	for i, out := range outputs {
		if out == nil {
			continue
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    i > 0,
		})
	}
	if len(writers) == 0 {
		return zerolog.Nop()
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseZerologLevel(level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
