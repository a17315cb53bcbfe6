// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package storage holds the audit trail's relational schema and the embedded migrations that create it: users, sessions,
// transcripts, conversation_summaries, and audit_events. Modeled after
// internal_callcontext's GORM table style (typed struct, TableName,
// BeforeCreate id generation) but adapted to the orchestration core's own
// entities rather than telephony call contexts.
package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User is a stable identity keyed by a browser fingerprint. A session may reference no user (anonymous).
type User struct {
	ID          string    `gorm:"column:id;type:varchar(64);primaryKey"`
	Fingerprint string    `gorm:"column:fingerprint;type:varchar(128);not null;uniqueIndex"`
	FirstSeen   time.Time `gorm:"column:first_seen;not null"`
	LastSeen    time.Time `gorm:"column:last_seen;not null"`
	Metadata    string    `gorm:"column:metadata;type:text"` // JSON-encoded opaque map
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.FirstSeen.IsZero() {
		u.FirstSeen = time.Now()
	}
	return nil
}

// Session is the persisted counterpart of the in-memory session record
//. Every audit event must have its session row
// present before insert (the FK-safety invariant).
type Session struct {
	ID        string    `gorm:"column:id;type:varchar(64);primaryKey"`
	UserID    *string   `gorm:"column:user_id;type:varchar(64);index"`
	State     string    `gorm:"column:state;type:varchar(20);not null;default:idle"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
	EndedAt   *time.Time `gorm:"column:ended_at"`
	EndReason string    `gorm:"column:end_reason;type:varchar(32)"`
	Metadata  string    `gorm:"column:metadata;type:text"`
}

func (Session) TableName() string { return "sessions" }

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	return nil
}

// Session state constants, the coarse session lifecycle states.
const (
	SessionStateIdle       = "idle"
	SessionStateListening  = "listening"
	SessionStateResponding = "responding"
	SessionStateEnded      = "ended"
)

// Transcript is one utterance row.
// Streaming updates collapse the latest non-final row into the final one
// rather than inserting a new row.
type Transcript struct {
	ID         uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID  string `gorm:"column:session_id;type:varchar(64);not null;index"`
	UserID     *string `gorm:"column:user_id;type:varchar(64)"`
	Role       string `gorm:"column:role;type:varchar(16);not null"`
	Content    string `gorm:"column:content;type:text;not null"`
	Confidence float64 `gorm:"column:confidence"`
	TMs        int64  `gorm:"column:t_ms;not null"`
	IsFinal    bool   `gorm:"column:is_final;not null;default:false"`
}

func (Transcript) TableName() string { return "transcripts" }

// Transcript role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ConversationSummary holds a per-user rollup used to compute the
// returning-user signal and to seed retrieval/context assembly with
// prior-session facts. FromSessionID is the session the summary was
// distilled from; ToSessionID is the later session it was injected into as
// context, left nil until that happens.
type ConversationSummary struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID        string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	FromSessionID string    `gorm:"column:from_session_id;type:varchar(64);not null"`
	ToSessionID   *string   `gorm:"column:to_session_id;type:varchar(64)"`
	Summary       string    `gorm:"column:summary;type:text"`
	TurnCount     int       `gorm:"column:turn_count;not null;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
}

func (ConversationSummary) TableName() string { return "conversation_summaries" }

// AuditEvent is the relational half of the dual-write audit trail
//. The JSONL half is written by internal/audit alongside
// this table; both receive the same logical event.
type AuditEvent struct {
	ID        uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	EventID   string `gorm:"column:event_id;type:varchar(64);not null;uniqueIndex"`
	SessionID string `gorm:"column:session_id;type:varchar(64);not null;index"`
	TMs       int64  `gorm:"column:t_ms;not null"`
	Source    string `gorm:"column:source;type:varchar(16);not null"`
	EventType string `gorm:"column:event_type;type:varchar(64);not null;index"`
	Payload   string `gorm:"column:payload;type:text"` // JSON-encoded, sanitized
}

func (AuditEvent) TableName() string { return "audit_events" }
