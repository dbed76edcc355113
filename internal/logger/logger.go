package logger

import (
	"io"
	"os"
	"strings"

	"github.com/funnyzak/mocktap/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger logging interface
type Logger interface {
	// Debug logs a Debug event.
	Debug(msg string, fields ...interface{})
	// Info logs an Info event.
	Info(msg string, fields ...interface{})
	// Warn logs a Warn event.
	Warn(msg string, fields ...interface{})
	// Error logs an Error event.
	Error(msg string, fields ...interface{})
	// Fatal logs a Fatal event and terminates the program.
	Fatal(msg string, fields ...interface{})
	// With returns a child logger that carries the given key/value fields.
	With(fields ...interface{}) Logger
}

// zerologAdapter zerolog adapter
type zerologAdapter struct {
	logger *zerolog.Logger
}

// appendField writes a single key/value onto an event or context
func appendField[T interface {
	Str(string, string) T
	Int(string, int) T
	Int64(string, int64) T
	Float64(string, float64) T
	Bool(string, bool) T
	AnErr(string, error) T
	Strs(string, []string) T
	Interface(string, interface{}) T
}](target T, key string, value interface{}) T {
	switch v := value.(type) {
	case string:
		return target.Str(key, v)
	case int:
		return target.Int(key, v)
	case int64:
		return target.Int64(key, v)
	case int32:
		return target.Int64(key, int64(v))
	case uint:
		return target.Int64(key, int64(v))
	case float64:
		return target.Float64(key, v)
	case float32:
		return target.Float64(key, float64(v))
	case bool:
		return target.Bool(key, v)
	case error:
		return target.AnErr(key, v)
	case []string:
		return target.Strs(key, v)
	default:
		return target.Interface(key, v)
	}
}

// addFields adds fields to zerolog event. Fields are key/value pairs; a
// non-string key is skipped together with its value.
func (z *zerologAdapter) addFields(event *zerolog.Event, fields ...interface{}) *zerolog.Event {
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		event = appendField(event, key, fields[i+1])
	}
	return event
}

// Debug implements Logger
func (z *zerologAdapter) Debug(msg string, fields ...interface{}) {
	z.addFields(z.logger.Debug(), fields...).Msg(msg)
}

// Info implements Logger
func (z *zerologAdapter) Info(msg string, fields ...interface{}) {
	z.addFields(z.logger.Info(), fields...).Msg(msg)
}

// Warn implements Logger
func (z *zerologAdapter) Warn(msg string, fields ...interface{}) {
	z.addFields(z.logger.Warn(), fields...).Msg(msg)
}

// Error implements Logger
func (z *zerologAdapter) Error(msg string, fields ...interface{}) {
	z.addFields(z.logger.Error(), fields...).Msg(msg)
}

// Fatal implements Logger
func (z *zerologAdapter) Fatal(msg string, fields ...interface{}) {
	z.addFields(z.logger.Fatal(), fields...).Msg(msg)
}

// With implements Logger
func (z *zerologAdapter) With(fields ...interface{}) Logger {
	ctx := z.logger.With()
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = appendField(ctx, key, fields[i+1])
	}
	child := ctx.Logger()
	return &zerologAdapter{logger: &child}
}

// NewLogger creates new logger instance
func NewLogger(cfg *config.LogConfig, outputMode string) Logger {
	return newLogger(cfg, outputMode, os.Stdout)
}

// NewWithWriter creates a JSON logger writing to w, mainly for tests
func NewWithWriter(w io.Writer, level string) Logger {
	return newLogger(&config.LogConfig{Level: level}, "json", w)
}

// Nop returns a logger that discards everything
func Nop() Logger {
	l := zerolog.Nop()
	return &zerologAdapter{logger: &l}
}

func newLogger(cfg *config.LogConfig, outputMode string, out io.Writer) Logger {
	logLevel, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		logLevel = zerolog.InfoLevel
	}

	var writers []io.Writer
	if strings.ToLower(outputMode) == "json" {
		writers = append(writers, out)
	} else {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		})
	}

	// File logging always uses JSON lines
	if cfg.FileLogging.Enable {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.FileLogging.Path,
			MaxSize:    cfg.FileLogging.MaxSizeMB,
			MaxBackups: cfg.FileLogging.MaxBackups,
			MaxAge:     cfg.FileLogging.MaxAgeDays,
			Compress:   cfg.FileLogging.Compress,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).Level(logLevel).With().Timestamp().Logger()
	return &zerologAdapter{logger: &logger}
}
