// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package commons

import "time"

// nopLogger discards everything. Used by tests that don't care about log
// output but need a non-nil Logger.
type nopLogger struct{}

// NewNopLogger returns a Logger that discards all entries.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Debugf(string, ...interface{})       {}
func (nopLogger) Infof(string, ...interface{})        {}
func (nopLogger) Warnf(string, ...interface{})        {}
func (nopLogger) Warnw(string, ...interface{})        {}
func (nopLogger) Errorf(string, ...interface{})       {}
func (nopLogger) Errorw(string, ...interface{})       {}
func (nopLogger) Benchmark(string, time.Duration)     {}
func (nopLogger) With(...interface{}) Logger          { return nopLogger{} }
func (nopLogger) Sync() error                         { return nil }
