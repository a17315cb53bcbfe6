// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package lanec

import (
	"strings"
	"sync"
	"time"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/provider"
	"github.com/rapidaai/voicecore/pkg/commons"
	"github.com/rapidaai/voicecore/pkg/config"
)

const snippetMaxLen = 200

// Event types emitted by the policy engine, always source-tagged
// bus.SourceLaneC.
const (
	EventPolicyDecision  = "policy.decision"
	EventControlAudit    = "control.audit"
	EventControlOverride = "control.override"
	EventControlMetrics  = "control.metrics"
)

// AuditPayload is the control.audit event payload: a sanitized, truncated
// snippet of the evaluated text.
type AuditPayload struct {
	Role    Role
	Snippet string
}

// Engine is the per-session policy pipeline.
type Engine struct {
	log commons.Logger
	bus *bus.Bus
	sessionID string
	cfg config.PolicyConfig
	claims ClaimsRegistry
	rules  []moderationRule

	mu                   sync.Mutex
	lastResponseMetadata any
	metrics              *metricsAccumulator

	flushOnce sync.Once
	stopFlush chan struct{}
}

// New builds a policy engine for one session.
func New(log commons.Logger, b *bus.Bus, sessionID string, cfg config.PolicyConfig, claims ClaimsRegistry) *Engine {
	if log == nil {
		log = commons.NewNopLogger()
	}
	rules := filterModerationRules(cfg.ModerationCategories)
	return &Engine{
		log:       log,
		bus:       b,
		sessionID: sessionID,
		cfg:       cfg,
		claims:    claims,
		rules:     rules,
		metrics:   newMetricsAccumulator(),
		stopFlush: make(chan struct{}),
	}
}

func filterModerationRules(categories []string) []moderationRule {
	if len(categories) == 0 {
		return defaultModerationRules
	}
	allowed := make(map[string]bool, len(categories))
	for _, c := range categories {
		allowed[strings.ToUpper(c)] = true
	}
	var out []moderationRule
	for _, r := range defaultModerationRules {
		if allowed[string(r.category)] {
			out = append(out, r)
		}
	}
	return out
}

// Attach subscribes the engine to Lane B's transcript events and starts
// the periodic metrics flush. Not idempotent: every call adds another bus
// subscription and, when flushEvery > 0, another flush loop; Close stops
// all of those loops at once.
func (e *Engine) Attach(flushEvery time.Duration) {
	e.bus.OnSession(e.sessionID, e.handle)
	if flushEvery > 0 {
		go e.flushLoop(flushEvery)
	}
}

func (e *Engine) flushLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.flushMetrics()
		case <-e.stopFlush:
			return
		}
	}
}

// Close stops the metrics flush loop and emits a final control.metrics
// snapshot.
func (e *Engine) Close() {
	e.flushOnce.Do(func() { close(e.stopFlush) })
	e.flushMetrics()
}

func (e *Engine) flushMetrics() {
	e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceLaneC, EventControlMetrics, e.metrics.snapshot()))
}

func (e *Engine) handle(ev bus.Event) {
	if ev.Source != bus.SourceLaneB {
		return
	}
	switch ev.Type {
	case provider.EventTranscript:
		p, ok := ev.Payload.(provider.TranscriptPayload)
		if !ok {
			return
		}
		if p.IsFinal || e.cfg.EvaluateDeltas {
			e.Evaluate(RoleAssistant, p.Text)
		}
	case provider.EventUserTranscript:
		p, ok := ev.Payload.(provider.TranscriptPayload)
		if !ok {
			return
		}
		e.Evaluate(RoleUser, p.Text)
	case provider.EventResponseMetadata:
		e.mu.Lock()
		e.lastResponseMetadata = ev.Payload
		e.mu.Unlock()
	}
}

// Evaluate runs the fixed pipeline over one finalized utterance and emits
// policy.decision, control.audit, and — if triggered — control.override.
func (e *Engine) Evaluate(role Role, text string) PolicyDecision {
	start := time.Now()
	decision, checksRun := e.runPipeline(role, text)
	dur := time.Since(start)

	e.metrics.record(decision.Decision, dur)
	e.log.Benchmark("lanec.evaluate", dur)

	decision, override := applyOverride(decision, e.cfg.CancelOutputThreshold)
	decision.ChecksRun = checksRun

	e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceLaneC, EventPolicyDecision, decision))
	e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceLaneC, EventControlAudit, AuditPayload{
		Role:    role,
		Snippet: sanitizeSnippet(text, decision),
	}))
	if override != nil {
		e.bus.Emit(bus.NewEvent(e.sessionID, bus.SourceLaneC, EventControlOverride, *override))
	}

	return decision
}

// EvaluateSync runs Evaluate and additionally returns ErrPolicyViolation
// when the verdict is refuse or cancel_output, for a caller that needs to
// short-circuit synchronously (e.g. before injecting retrieved content into
// the provider session) rather than waiting on the async policy.decision
// event.
func (e *Engine) EvaluateSync(role Role, text string) (PolicyDecision, error) {
	d := e.Evaluate(role, text)
	if d.Decision == DecisionRefuse || d.Decision == DecisionCancelOutput {
		return d, commons.ErrPolicyViolation
	}
	return d, nil
}

// runPipeline runs PII -> moderation -> claims (assistant only) and picks
// the most severe result, earlier stage winning ties.
func (e *Engine) runPipeline(role Role, text string) (PolicyDecision, []string) {
	var results []checkResult
	var checksRun []string

	if e.cfg.EnablePIIRedaction {
		checksRun = append(checksRun, "pii")
		results = append(results, runPII(text, PIIRedactionMode(orDefault(e.cfg.PIIRedactionMode, string(PIIModeRedact)))))
	}

	checksRun = append(checksRun, "moderation")
	results = append(results, runModeration(text, e.rules))

	if role == RoleAssistant {
		checksRun = append(checksRun, "claims")
		results = append(results, runClaims(text, e.claims))
	}

	best := checkResult{decision: DecisionAllow}
	bestSeverity := -1
	for _, r := range results {
		if r.decision == "" {
			continue
		}
		if r.severity > bestSeverity {
			best = r
			bestSeverity = r.severity
		}
	}
	if best.decision == "" {
		best.decision = DecisionAllow
	}

	return PolicyDecision{
		Decision:             best.decision,
		ReasonCodes:          best.reasonCodes,
		Severity:             best.severity,
		SafeRewrite:          best.safeRewrite,
		RequiredDisclaimerID: best.requiredDisclaimerID,
		FallbackMode:         best.fallbackMode,
	}, checksRun
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// sanitizeSnippet truncates to 200 chars and redacts PII, preferring the
// already-computed safe_rewrite when the winning decision produced one.
func sanitizeSnippet(text string, d PolicyDecision) string {
	snippet := text
	if d.SafeRewrite != "" {
		snippet = d.SafeRewrite
	} else if matches := detectPII(text); len(matches) > 0 {
		snippet = redactText(text, matches)
	}
	if len(snippet) > snippetMaxLen {
		snippet = snippet[:snippetMaxLen]
	}
	return snippet
}
