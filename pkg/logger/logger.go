/*
 * Copyright 2026 GridSense Labs.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging interface injected into services. It mirrors the
// zerolog event API so call sites keep the fluent style.
type Logger interface {
	Trace() *zerolog.Event
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	Fatal() *zerolog.Event
	With() zerolog.Context
	WithComponent(component string) zerolog.Logger
	SetLevel(level zerolog.Level)
}

type loggerImpl struct {
	logger zerolog.Logger
}

// New builds a Logger from the given configuration. A nil config uses
// DefaultConfig.
func New(ctx context.Context, config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	var output io.Writer = os.Stdout
	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return nil, err
		}
	}

	timeFormat := time.RFC3339
	if config.TimeFormat != "" {
		timeFormat = config.TimeFormat
	}

	zerolog.TimeFieldFormat = timeFormat

	if config.OTel.Enabled && config.OTel.Endpoint != "" {
		otelWriter, err := NewOTelWriter(ctx, config.OTel)
		if err != nil {
			return nil, err
		}

		output = NewMultiWriter(output, otelWriter)
	}

	zlog := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &loggerImpl{logger: zlog}, nil
}

// NewComponent builds a Logger with a fixed component field.
func NewComponent(ctx context.Context, component string, config *Config) (Logger, error) {
	base, err := New(ctx, config)
	if err != nil {
		return nil, err
	}

	impl, ok := base.(*loggerImpl)
	if !ok {
		return base, nil
	}

	return &loggerImpl{logger: impl.logger.With().Str("component", component).Logger()}, nil
}

func (l *loggerImpl) Trace() *zerolog.Event { return l.logger.Trace() }
func (l *loggerImpl) Debug() *zerolog.Event { return l.logger.Debug() }
func (l *loggerImpl) Info() *zerolog.Event  { return l.logger.Info() }
func (l *loggerImpl) Warn() *zerolog.Event  { return l.logger.Warn() }
func (l *loggerImpl) Error() *zerolog.Event { return l.logger.Error() }
func (l *loggerImpl) Fatal() *zerolog.Event { return l.logger.Fatal() }
func (l *loggerImpl) With() zerolog.Context { return l.logger.With() }

func (l *loggerImpl) WithComponent(component string) zerolog.Logger {
	return l.logger.With().Str("component", component).Logger()
}

func (l *loggerImpl) SetLevel(level zerolog.Level) {
	l.logger = l.logger.Level(level)
}

// NewTestLogger creates a no-op logger for tests that discards all output.
func NewTestLogger() Logger {
	nop := zerolog.New(io.Discard).Level(zerolog.Disabled)
	return &loggerImpl{logger: nop}
}
