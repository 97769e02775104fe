// Package logger wraps zerolog behind a small key/value interface.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
)

// Logger is the logging surface used across the service.
// Fields are alternating key/value pairs; an "error" key holding an error is
// attached as the event's error.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type zlogger struct {
	zl zerolog.Logger
}

// Config selects level and outputs
type Config struct {
	Level   string
	Console bool
	File    string
}

// New creates a logger writing to every writer given
func New(level zerolog.Level, writers ...io.Writer) Logger {
	if len(writers) == 0 {
		writers = []io.Writer{os.Stderr}
	}
	zl := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zlogger{zl: zl}
}

// FromConfig builds a logger from Config. An unknown level falls back to info.
func FromConfig(cfg Config) Logger {
	var writers []io.Writer
	if cfg.Console || cfg.File == "" {
		writers = append(writers, ConsoleWriter())
	}
	if cfg.File != "" {
		writers = append(writers, FileWriter(cfg.File))
	}
	return New(ParseLevel(cfg.Level), writers...)
}

// Nop discards everything
func Nop() Logger {
	return &zlogger{zl: zerolog.Nop()}
}

// ParseLevel maps a level name to a zerolog level
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// ConsoleWriter returns a human readable writer on stdout
func ConsoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
}

// FileWriter returns a rotating file writer
func FileWriter(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
}

func (l *zlogger) Debug(msg string, fields ...interface{}) {
	logWithFields(l.zl.Debug(), msg, fields...)
}

func (l *zlogger) Info(msg string, fields ...interface{}) {
	logWithFields(l.zl.Info(), msg, fields...)
}

func (l *zlogger) Warn(msg string, fields ...interface{}) {
	logWithFields(l.zl.Warn(), msg, fields...)
}

func (l *zlogger) Error(msg string, fields ...interface{}) {
	logWithFields(l.zl.Error(), msg, fields...)
}

// Fatal logs and exits the process
func (l *zlogger) Fatal(msg string, fields ...interface{}) {
	logWithFields(l.zl.Fatal(), msg, fields...)
}

// With returns a child logger carrying fields on every event
func (l *zlogger) With(fields ...interface{}) Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &zlogger{zl: ctx.Logger()}
}

func logWithFields(event *zerolog.Event, msg string, fields ...interface{}) {
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if key == "error" {
			if err, ok := fields[i+1].(error); ok {
				event = event.Err(err)
				continue
			}
		}
		event = event.Interface(key, fields[i+1])
	}
	event.Msg(msg)
}
