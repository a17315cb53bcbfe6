// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanec

import (
	"sync"
	"time"
)

// MetricsSnapshot is the control.metrics event payload.
type MetricsSnapshot struct {
	EvaluationCount  int
	CountsByDecision map[Decision]int
	AvgDurationMs    float64
	MaxDurationMs    float64
}

// metricsAccumulator is the session-scoped running total; flushed
// verbatim (never reset) so every control.metrics event reflects the
// session's lifetime totals.
type metricsAccumulator struct {
	mu               sync.Mutex
	evaluationCount  int
	countsByDecision map[Decision]int
	totalDuration    time.Duration
	maxDuration      time.Duration
}

func newMetricsAccumulator() *metricsAccumulator {
	return &metricsAccumulator{countsByDecision: make(map[Decision]int)}
}

func (m *metricsAccumulator) record(d Decision, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluationCount++
	m.countsByDecision[d]++
	m.totalDuration += dur
	if dur > m.maxDuration {
		m.maxDuration = dur
	}
}

func (m *metricsAccumulator) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[Decision]int, len(m.countsByDecision))
	for k, v := range m.countsByDecision {
		counts[k] = v
	}

	var avg float64
	if m.evaluationCount > 0 {
		avg = float64(m.totalDuration.Microseconds()) / float64(m.evaluationCount) / 1000
	}

	return MetricsSnapshot{
		EvaluationCount:  m.evaluationCount,
		CountsByDecision: counts,
		AvgDurationMs:    avg,
		MaxDurationMs:    float64(m.maxDuration.Microseconds()) / 1000,
	}
}
