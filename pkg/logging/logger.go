// Package logging provides the structured logger used across every component.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names accepted by config and the CLI's --verbose flag.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire shape of emitted log lines.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Config configures a new Logger.
type Config struct {
	Level       Level
	Format      Format
	Output      io.Writer
	ServiceName string
	Environment string
}

// Logger wraps zerolog.Logger with the small convenience surface every
// component in this module is built against.
type Logger struct {
	logger zerolog.Logger
}

// New creates a structured logger per cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}

	var output io.Writer = cfg.Output
	if cfg.Format == FormatText {
		output = zerolog.ConsoleWriter{
			Out:        cfg.Output,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.ServiceName != "" {
		ctx = ctx.Str("service", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		ctx = ctx.Str("env", cfg.Environment)
	}
	zlog := ctx.Logger().Level(levelOf(cfg.Level))

	return &Logger{logger: zlog}
}

func levelOf(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.emit(l.logger.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.emit(l.logger.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.emit(l.logger.Warn(), msg, fields) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.emit(l.logger.Error(), msg, fields) }

// WithField returns a child logger carrying an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With().Interface(key, value).Logger()}
}

// WithFields returns a child logger carrying additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{logger: ctx.Logger()}
}

// WithCorrelation returns a child logger tagging every subsequent line with
// the correlation/trace IDs of an inbound request.
func (l *Logger) WithCorrelation(correlationID, traceID string) *Logger {
	return &Logger{logger: l.logger.With().
		Str("correlation_id", correlationID).
		Str("trace_id", traceID).
		Logger()}
}

// Zerolog returns the underlying zerolog.Logger for callers that need the
// full event builder (e.g. attaching an error with .Err()).
func (l *Logger) Zerolog() zerolog.Logger { return l.logger }

func (l *Logger) emit(event *zerolog.Event, msg string, fields []interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}

// Noop returns a logger that discards everything, useful as a safe default
// for components constructed without an explicit logger.
func Noop() *Logger {
	return &Logger{logger: zerolog.New(io.Discard)}
}
