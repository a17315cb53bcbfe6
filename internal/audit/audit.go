// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audit implements the dual-write audit trail: every
// accepted event is written both to the relational store (via
// internal/storage.Repository) and appended as one JSON line per session
// under a configured directory. The JSONL half is authoritative for replay;
// the relational half exists for ad hoc querying.
package audit

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/lanec"
	"github.com/rapidaai/voicecore/internal/provider"
	"github.com/rapidaai/voicecore/internal/session"
	"github.com/rapidaai/voicecore/internal/storage"
	"github.com/rapidaai/voicecore/pkg/commons"
	"github.com/rapidaai/voicecore/pkg/config"
)

// record is the JSONL encoding of one bus.Event. Field names are stable:
// replay and any external tooling depend on them.
type record struct {
	EventID   string `json:"event_id"`
	SessionID string `json:"session_id"`
	TMs       int64  `json:"t_ms"`
	Source    string `json:"source"`
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
}

// Trail is the per-process audit sink. One Trail serves every session; it
// subscribes per-session via Start.
type Trail struct {
	log  commons.Logger
	bus  *bus.Bus
	repo storage.Repository
	cfg  config.AuditConfig

	mu           sync.Mutex
	started      map[string]bool
	sessionKnown map[string]bool // sessions already EnsureSession'd this process
	files        map[string]*os.File
}

// New builds a Trail. repo may be nil when cfg.Enabled is false.
func New(log commons.Logger, b *bus.Bus, repo storage.Repository, cfg config.AuditConfig) *Trail {
	if log == nil {
		log = commons.NewNopLogger()
	}
	return &Trail{
		log:          log,
		bus:          b,
		repo:         repo,
		cfg:          cfg,
		started:      make(map[string]bool),
		sessionKnown: make(map[string]bool),
		files:        make(map[string]*os.File),
	}
}

// Start subscribes the trail to sessionID's events. Idempotent: a repeated
// Start for the same session does not double-subscribe.
func (t *Trail) Start(sessionID string) {
	t.mu.Lock()
	if t.started[sessionID] {
		t.mu.Unlock()
		return
	}
	t.started[sessionID] = true
	t.mu.Unlock()

	if !t.cfg.Enabled {
		return
	}
	t.bus.OnSession(sessionID, t.handle)
}

// Close flushes and closes any open JSONL file handles. Safe to call once
// per process shutdown.
func (t *Trail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, f := range t.files {
		if err := f.Close(); err != nil {
			t.log.Errorw("audit: failed to close jsonl file", "session_id", id, "err", err)
		}
	}
	t.files = make(map[string]*os.File)
}

// sourceFiltered events are accepted only
// from laneC, defending against a misbehaving component emitting a
// lookalike event under its own source.
var sourceFiltered = map[string]bool{
	lanec.EventPolicyDecision: true,
	lanec.EventControlAudit:   true,
	lanec.EventControlMetrics: true,
}

// subscribed reports whether ev's type should be recorded given the
// configured flags. The base set is
// always accepted; everything else is gated.
func (t *Trail) subscribed(ev bus.Event) bool {
	switch ev.Type {
	case lanec.EventControlAudit, lanec.EventControlOverride, lanec.EventControlMetrics, lanec.EventPolicyDecision:
		return true
	case provider.EventTranscript, provider.EventUserTranscript:
		if p, ok := ev.Payload.(provider.TranscriptPayload); ok && !p.IsFinal {
			return t.cfg.IncludeTranscripts && t.cfg.IncludeTranscriptDeltas
		}
		return t.cfg.IncludeTranscripts
	case provider.EventAudio, provider.EventResponseStart, provider.EventFirstAudioReady, provider.EventResponseEnd:
		return t.cfg.IncludeAudio
	case session.EventSessionStart, session.EventSessionEnd:
		return t.cfg.IncludeSessionEvents
	case provider.EventResponseMetadata:
		return t.cfg.IncludeResponseMetadata
	default:
		return false
	}
}

func (t *Trail) handle(ev bus.Event) {
	if sourceFiltered[ev.Type] && ev.Source != bus.SourceLaneC {
		return
	}
	if !t.subscribed(ev) {
		return
	}

	payload := t.sanitize(ev)
	t.writeJSONL(ev, payload)
	t.writeRelational(ev, payload)
}

// sanitize applies the redaction rules to a shallow copy of the
// event's payload without mutating the original (handlers must treat the
// bus event as immutable).
func (t *Trail) sanitize(ev bus.Event) any {
	switch p := ev.Payload.(type) {
	case provider.TranscriptPayload:
		if !t.cfg.IncludeTranscripts {
			p.Text = "[REDACTED]"
		}
		return p
	case lanec.AuditPayload:
		if !t.cfg.IncludeTranscripts {
			p.Snippet = "[REDACTED]"
		}
		return p
	case provider.AudioPayload:
		return t.encodeAudioPayload(map[string]any{"data": p.PCM})
	default:
		return sanitizeGenericPayload(ev.Payload, t.cfg.IncludeAudio)
	}
}

// encodeAudioPayload base64-encodes any "data"/"chunk" byte-slice fields and
// adds a data_encoding sibling, returned as a plain map so it
// round-trips through JSON without a custom payload type per lane.
func (t *Trail) encodeAudioPayload(m map[string]any) map[string]any {
	if !t.cfg.IncludeAudio {
		delete(m, "data")
		delete(m, "chunk")
		return m
	}
	for _, key := range []string{"data", "chunk"} {
		if raw, ok := m[key].([]byte); ok {
			m[key] = base64.StdEncoding.EncodeToString(raw)
			m["data_encoding"] = "base64"
		}
	}
	return m
}

// sanitizeGenericPayload leaves non-audio, non-transcript payloads
// (metrics snapshots, override payloads, decisions) untouched; they carry
// no raw transcript or audio bytes.
func sanitizeGenericPayload(payload any, includeAudio bool) any {
	return payload
}

func (t *Trail) writeJSONL(ev bus.Event, payload any) {
	if t.cfg.JSONLDir == "" {
		t.log.Errorw("audit: jsonl dir not configured, logging to console", "event_type", ev.Type, "session_id", ev.SessionID)
		return
	}
	f, err := t.fileFor(ev.SessionID)
	if err != nil {
		t.log.Errorw("audit: failed to open jsonl file", "session_id", ev.SessionID, "err", err)
		return
	}

	rec := record{
		EventID:   ev.EventID,
		SessionID: ev.SessionID,
		TMs:       ev.TMs,
		Source:    ev.Source,
		Type:      ev.Type,
		Payload:   payload,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		t.log.Errorw("audit: failed to marshal event", "event_id", ev.EventID, "err", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := f.Write(append(line, '\n')); err != nil {
		t.log.Errorw("audit: failed to append jsonl line, falling back to console", "session_id", ev.SessionID, "err", err, "line", string(line))
	}
}

func (t *Trail) fileFor(sessionID string) (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.files[sessionID]; ok {
		return f, nil
	}
	if err := os.MkdirAll(t.cfg.JSONLDir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: failed to create jsonl dir: %w", err)
	}
	path := filepath.Join(t.cfg.JSONLDir, sessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open %s: %w", path, err)
	}
	t.files[sessionID] = f
	return f, nil
}

// writeRelational performs the FK-safe insert-if-absent-then-insert ingest
// path: EnsureSession runs before the first InsertAuditEvent of each session
// in this process; later events of that session skip it once sessionKnown
// is set, so a session row removed after that point is not re-created.
func (t *Trail) writeRelational(ev bus.Event, payload any) {
	if t.repo == nil {
		return
	}
	ctx := context.Background()

	t.mu.Lock()
	known := t.sessionKnown[ev.SessionID]
	t.mu.Unlock()
	if !known {
		if err := t.repo.EnsureSession(ctx, &storage.Session{ID: ev.SessionID}); err != nil {
			t.log.Errorw("audit: failed to ensure session row", "session_id", ev.SessionID, "err", err)
			return
		}
		t.mu.Lock()
		t.sessionKnown[ev.SessionID] = true
		t.mu.Unlock()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		t.log.Errorw("audit: failed to marshal payload for relational store", "event_id", ev.EventID, "err", err)
		return
	}

	row := &storage.AuditEvent{
		EventID:   ev.EventID,
		SessionID: ev.SessionID,
		TMs:       ev.TMs,
		Source:    ev.Source,
		EventType: ev.Type,
		Payload:   string(body),
	}
	if err := t.repo.InsertAuditEvent(ctx, row); err != nil {
		t.log.Errorw("audit: failed to insert audit event, jsonl write unaffected", "event_id", ev.EventID, "err", err)
	}
}

// LoadSessionTimeline streams the JSONL file for sessionID, discards
// malformed lines (logged), filters by the optional type set, and returns
// events sorted by t_ms ascending.
func (t *Trail) LoadSessionTimeline(sessionID string, types []string) ([]bus.Event, error) {
	path := filepath.Join(t.cfg.JSONLDir, sessionID+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: failed to open %s: %w", path, err)
	}
	defer f.Close()

	wanted := make(map[string]bool, len(types))
	for _, ty := range types {
		wanted[ty] = true
	}

	var events []bus.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			t.log.Warnw("audit: discarding malformed jsonl line", "session_id", sessionID, "err", err)
			continue
		}
		if len(wanted) > 0 && !wanted[rec.Type] {
			continue
		}
		events = append(events, bus.Event{
			EventID:   rec.EventID,
			SessionID: rec.SessionID,
			TMs:       rec.TMs,
			Source:    rec.Source,
			Type:      rec.Type,
			Payload:   rec.Payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("audit: error reading %s: %w", path, err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].TMs < events[j].TMs })
	return events, nil
}

// ReplaySessionTimeline loads sessionID's timeline and, if emit is true,
// re-emits each event onto the bus in order.
func (t *Trail) ReplaySessionTimeline(sessionID string, emit bool) ([]bus.Event, error) {
	events, err := t.LoadSessionTimeline(sessionID, nil)
	if err != nil {
		return nil, err
	}
	if emit {
		for _, ev := range events {
			t.bus.Emit(ev)
		}
	}
	return events, nil
}
