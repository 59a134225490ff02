// Package log provides the structured logger used throughout the node.
//
// The interface is intentionally narrow (Debug/Info/Error/With) so that
// every package takes a log.Logger rather than a concrete zerolog type.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log formats accepted by NewDefaultLogger.
const (
	LogFormatPlain = "plain"
	LogFormatJSON  = "json"
)

// Log levels accepted by NewDefaultLogger.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelError = "error"
	LogLevelNone  = "none"
)

// Logger is what any package in this module should take.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})

	With(keyvals ...interface{}) Logger
}

type zeroLogger struct {
	l zerolog.Logger
}

// NewDefaultLogger constructs a Logger backed by zerolog, writing to
// os.Stdout in either "plain" (human-readable console output) or "json"
// format, at the given minimum level.
func NewDefaultLogger(format, level string) (Logger, error) {
	return NewDefaultLoggerWithWriter(os.Stdout, format, level)
}

// NewDefaultLoggerWithWriter is NewDefaultLogger with an explicit writer,
// useful for tests that want to capture output.
func NewDefaultLoggerWithWriter(w io.Writer, format, level string) (Logger, error) {
	var out io.Writer
	switch format {
	case LogFormatPlain, "":
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case LogFormatJSON:
		out = w
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	zl := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return zeroLogger{l: zl}, nil
}

func parseLevel(level string) (zerolog.Level, error) {
	switch level {
	case LogLevelDebug:
		return zerolog.DebugLevel, nil
	case LogLevelInfo, "":
		return zerolog.InfoLevel, nil
	case LogLevelError:
		return zerolog.ErrorLevel, nil
	case LogLevelNone:
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger {
	return zeroLogger{l: zerolog.Nop()}
}

func (z zeroLogger) Debug(msg string, keyvals ...interface{}) { z.event(z.l.Debug(), msg, keyvals) }
func (z zeroLogger) Info(msg string, keyvals ...interface{})  { z.event(z.l.Info(), msg, keyvals) }
func (z zeroLogger) Error(msg string, keyvals ...interface{}) { z.event(z.l.Error(), msg, keyvals) }

func (z zeroLogger) With(keyvals ...interface{}) Logger {
	ctx := z.l.With()
	ctx = appendFields(ctx, keyvals)
	return zeroLogger{l: ctx.Logger()}
}

func (z zeroLogger) event(ev *zerolog.Event, msg string, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		ev = ev.Interface(key, keyvals[i+1])
	}
	ev.Msg(msg)
}

func appendFields(ctx zerolog.Context, keyvals []interface{}) zerolog.Context {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		ctx = ctx.Interface(key, keyvals[i+1])
	}
	return ctx
}
