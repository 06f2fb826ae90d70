// Package dvlog sets up structured logging and carries a Logger through a
// context.Context, grounded directly on the teacher's context/logger.go
// (Logger interface, WithLogger/GetLogger helpers) and
// cmd/registry/main.go's configureLogging (level/formatter selection).
//
// The host annex protocol owns stdout for its own wire format, so unlike
// the teacher this always logs to stderr.
package dvlog

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow logging surface the rest of the module depends on,
// copied from the teacher's context.Logger so call sites never import
// logrus directly.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})
	Println(args ...interface{})

	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatalln(args ...interface{})

	Panic(args ...interface{})
	Panicf(format string, args ...interface{})
	Panicln(args ...interface{})

	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugln(args ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorln(args ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infoln(args ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnln(args ...interface{})
}

type contextKey struct{}

// entry adapts *logrus.Entry to Logger.
type entry struct {
	*logrus.Entry
}

// New builds the root Logger, writing to stderr at the given level
// ("debug", "info", "warn", "error"; unrecognized values fall back to
// "info"). jsonFormat selects logrus's JSON formatter over its default
// text formatter, mirroring configureLogging's format switch.
func New(level string, jsonFormat bool) Logger {
	l := logrus.New()
	l.Out = os.Stderr

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.Level = lvl

	if jsonFormat {
		l.Formatter = &logrus.JSONFormatter{}
	} else {
		l.Formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	}

	return &entry{Entry: logrus.NewEntry(l)}
}

// Discard returns a Logger that writes nowhere, for tests.
func Discard() Logger {
	l := logrus.New()
	l.Out = io.Discard
	return &entry{Entry: logrus.NewEntry(l)}
}

// WithLogger attaches logger to ctx.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// GetLogger returns the Logger attached to ctx, or Discard() if none.
func GetLogger(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return Discard()
}

// GetLoggerWithField returns a Logger derived from ctx's logger with one
// extra structured field attached.
func GetLoggerWithField(ctx context.Context, key string, value interface{}) Logger {
	base := GetLogger(ctx)
	e, ok := base.(*entry)
	if !ok {
		return base
	}
	return &entry{Entry: e.WithField(key, value)}
}

// GetLoggerWithFields returns a Logger derived from ctx's logger with
// several extra structured fields attached.
func GetLoggerWithFields(ctx context.Context, fields map[string]interface{}) Logger {
	base := GetLogger(ctx)
	e, ok := base.(*entry)
	if !ok {
		return base
	}
	return &entry{Entry: e.WithFields(logrus.Fields(fields))}
}
