// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Repository is the audit trail's relational half. Every
// method takes ctx first, matching internal_callcontext.Store's shape.
type Repository interface {
	EnsureSession(ctx context.Context, session *Session) error
	EndSession(ctx context.Context, sessionID, reason string) error
	UpsertUser(ctx context.Context, user *User) error
	InsertAuditEvent(ctx context.Context, event *AuditEvent) error
	InsertTranscript(ctx context.Context, t *Transcript) error
	PreviousSessionCount(ctx context.Context, userID string) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository wraps an opened *gorm.DB (see Open) in the Repository
// interface consumed by the session manager and the audit trail.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// EnsureSession inserts the session row if it does not already exist. This
// is the FK-safety primitive: callers must invoke it
// before any audit event referencing the session is inserted.
func (r *repository) EnsureSession(ctx context.Context, session *Session) error {
	db := r.db.WithContext(ctx)
	var existing Session
	err := db.Where("id = ?", session.ID).First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("storage: failed to look up session %s: %w", session.ID, err)
	}
	if err := db.Create(session).Error; err != nil {
		return fmt.Errorf("storage: failed to insert session %s: %w", session.ID, err)
	}
	return nil
}

// EndSession marks a session ended with the given reason.
func (r *repository) EndSession(ctx context.Context, sessionID, reason string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]interface{}{
			"state":      SessionStateEnded,
			"end_reason": reason,
			"ended_at":   now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("storage: failed to end session %s: %w", sessionID, result.Error)
	}
	return nil
}

// UpsertUser inserts the user if new, or bumps last_seen if it already
// exists (keyed by fingerprint).
func (r *repository) UpsertUser(ctx context.Context, user *User) error {
	db := r.db.WithContext(ctx)
	var existing User
	err := db.Where("fingerprint = ?", user.Fingerprint).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := db.Create(user).Error; err != nil {
			return fmt.Errorf("storage: failed to insert user %s: %w", user.Fingerprint, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: failed to look up user %s: %w", user.Fingerprint, err)
	}
	user.ID = existing.ID
	user.FirstSeen = existing.FirstSeen
	return db.Model(&User{}).Where("id = ?", existing.ID).
		Update("last_seen", time.Now()).Error
}

// InsertAuditEvent inserts one audit row. Callers must have called
// EnsureSession first.
func (r *repository) InsertAuditEvent(ctx context.Context, event *AuditEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("storage: failed to insert audit event %s: %w", event.EventID, err)
	}
	return nil
}

// InsertTranscript implements the "collapse latest non-final into final"
// business invariant as a single transaction: find the newest
// non-final row for (session, role); if present and t.IsFinal, update it in
// place; otherwise insert a new row.
func (r *repository) InsertTranscript(ctx context.Context, t *Transcript) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.IsFinal {
			var latest Transcript
			err := tx.Where("session_id = ? AND role = ? AND is_final = ?", t.SessionID, t.Role, false).
				Order("t_ms DESC").First(&latest).Error
			if err == nil {
				return tx.Model(&Transcript{}).Where("id = ?", latest.ID).Updates(map[string]interface{}{
					"content":    t.Content,
					"confidence": t.Confidence,
					"t_ms":       t.TMs,
					"is_final":   true,
				}).Error
			}
			if err != gorm.ErrRecordNotFound {
				return fmt.Errorf("storage: failed to look up latest transcript: %w", err)
			}
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("storage: failed to insert transcript: %w", err)
		}
		return nil
	})
}

// PreviousSessionCount counts prior conversation summaries for a user,
// backing the returning-user signal.
func (r *repository) PreviousSessionCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&ConversationSummary{}).
		Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("storage: failed to count prior sessions for user %s: %w", userID, err)
	}
	return count, nil
}
