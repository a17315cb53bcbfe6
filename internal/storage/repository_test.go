// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}, &Session{}, &Transcript{}, &ConversationSummary{}, &AuditEvent{}))
	return db
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	s := &Session{ID: "sess-1", State: SessionStateIdle}
	require.NoError(t, repo.EnsureSession(ctx, s))
	require.NoError(t, repo.EnsureSession(ctx, s))
}

func TestAuditEventRequiresSessionFirst(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.EnsureSession(ctx, &Session{ID: "sess-1", State: SessionStateIdle}))
	require.NoError(t, repo.InsertAuditEvent(ctx, &AuditEvent{
		EventID: "evt-1", SessionID: "sess-1", TMs: time.Now().UnixMilli(),
		Source: "laneC", EventType: "policy.decision", Payload: "{}",
	}))
}

func TestInsertTranscriptCollapsesNonFinalIntoFinal(t *testing.T) {
	repo := NewRepository(newTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.EnsureSession(ctx, &Session{ID: "sess-1", State: SessionStateListening}))

	require.NoError(t, repo.InsertTranscript(ctx, &Transcript{
		SessionID: "sess-1", Role: RoleUser, Content: "hel", TMs: 1, IsFinal: false,
	}))
	require.NoError(t, repo.InsertTranscript(ctx, &Transcript{
		SessionID: "sess-1", Role: RoleUser, Content: "hello", TMs: 2, IsFinal: true,
	}))

	db := repo.(*repository).db
	var rows []Transcript
	require.NoError(t, db.Where("session_id = ?", "sess-1").Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, "hello", rows[0].Content)
	require.True(t, rows[0].IsFinal)
}

func TestPreviousSessionCountReflectsSummaries(t *testing.T) {
	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	count, err := repo.PreviousSessionCount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	require.NoError(t, db.Create(&ConversationSummary{
		UserID: "user-1", FromSessionID: "sess-0", Summary: "prior chat", TurnCount: 3, CreatedAt: time.Now(),
	}).Error)

	count, err = repo.PreviousSessionCount(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
