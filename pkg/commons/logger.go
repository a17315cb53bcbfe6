// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package commons provides the small set of cross-cutting helpers every
// component in the voice orchestration core depends on: a sugared logger and
// a taxonomy of sentinel errors.
package commons

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the sugared logging surface used throughout the core. It mirrors
// the printf/keyvalue mix the rest of the module is written against so that
// call sites never need to know whether a given log statement carries
// structured fields or a formatted message.
type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Benchmark records the wall-clock duration of a named operation at
	// debug level. Every externally observable operation in the core
	// (connect, commit_audio, policy evaluation, ...) calls this.
	Benchmark(operation string, d time.Duration)

	// With returns a child logger carrying the given key/value pairs on
	// every subsequent entry, e.g. a per-session logger.
	With(keysAndValues ...interface{}) Logger

	// Sync flushes any buffered log entries. Safe to call on shutdown.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// LogConfig controls where and how the application logger writes.
type LogConfig struct {
	Level      string // debug|info|warn|error
	Console    bool   // also/only write colorized console output
	FilePath   string // rotated JSON log file path; empty disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultLogConfig returns sane development defaults.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Console:    true,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

// NewApplicationLogger builds the process-wide Logger from config.
func NewApplicationLogger(cfg ...LogConfig) (Logger, error) {
	c := DefaultLogConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}

	level := zapcore.InfoLevel
	if err := level.Set(c.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if c.Console {
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleEncoder := zapcore.NewConsoleEncoder(consoleCfg)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(zapConsoleSink())), level))
	}
	if c.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.MaxSizeMB,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAgeDays,
		}
		jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(rotator), level))
	}

	core := zapcore.NewTee(cores...)
	logger := zap.New(core, zap.AddCaller())
	return &zapLogger{s: logger.Sugar()}, nil
}

func (l *zapLogger) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *zapLogger) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *zapLogger) Warnf(template string, args ...interface{})  { l.s.Warnf(template, args...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})         { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{})        { l.s.Errorw(msg, kv...) }

func (l *zapLogger) Benchmark(operation string, d time.Duration) {
	l.s.Debugw("benchmark", "operation", operation, "duration_ms", d.Milliseconds())
}

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error {
	return l.s.Sync()
}
