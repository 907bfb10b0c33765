// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package logger holds the process-wide zerolog logger. Request and task
// scoped loggers travel in the context; everything else logs through the
// package functions.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

// Format selects the output encoding
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

var current atomic.Pointer[zerolog.Logger]

func init() {
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}

	raw := os.Getenv("LOG_LEVEL")
	level, err := ParseLevel(raw)
	Setup(os.Stderr, Format(os.Getenv("LOG_FORMAT")), level)
	if err != nil {
		Warn().Err(err).Str("value", raw).Msg("invalid LOG_LEVEL, using info")
	}
}

// ParseLevel reads a level name. Empty means info; so does an error.
func ParseLevel(raw string) (zerolog.Level, error) {
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	l, err := zerolog.ParseLevel(raw)
	if err != nil {
		return zerolog.InfoLevel, err
	}
	if l == zerolog.NoLevel {
		return zerolog.InfoLevel, fmt.Errorf("unknown level %q", raw)
	}
	return l, nil
}

// Setup replaces the global logger. Every line carries the host and the
// executable name.
func Setup(w io.Writer, format Format, level zerolog.Level) {
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	exe := "zapmap"
	if path, err := os.Executable(); err == nil {
		exe = filepath.Base(path)
	}

	l := zerolog.New(w).Level(level).With().
		Timestamp().
		Str("hostname", host).
		Str("executable", exe).
		Stack().
		Caller().
		Logger()
	current.Store(&l)
	log.Logger = l
}

// Get returns the global logger
func Get() *zerolog.Logger {
	return current.Load()
}

// SetLevel changes the level of the global logger
func SetLevel(level zerolog.Level) {
	l := Get().Level(level)
	current.Store(&l)
	log.Logger = l
}

// Ctx returns the logger stored in ctx by WithLogger, else the global one
func Ctx(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok && l != nil {
			return l
		}
	}
	return Get()
}

func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With starts a child of the global logger
func With() zerolog.Context { return Get().With() }

func Fatal() *zerolog.Event { return Get().Fatal() }
func Error() *zerolog.Event { return Get().Error() }
func Warn() *zerolog.Event  { return Get().Warn() }
func Info() *zerolog.Event  { return Get().Info() }
func Debug() *zerolog.Event { return Get().Debug() }
func Trace() *zerolog.Event { return Get().Trace() }
