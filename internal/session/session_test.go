// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rapidaai/voicecore/internal/bus"
	"github.com/rapidaai/voicecore/internal/storage"
	"github.com/rapidaai/voicecore/pkg/commons"
)

func TestEndSessionReturnsErrSessionNotFoundForUnknownID(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 10*time.Millisecond)
	err := m.EndSession(context.Background(), "no-such-session", "client_disconnect")
	assert.ErrorIs(t, err, commons.ErrSessionNotFound)
}

func TestEndSessionReturnsErrSessionEndedOnSecondCall(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 10*time.Millisecond)
	s, _, err := m.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)

	require.NoError(t, m.EndSession(context.Background(), s.ID, "client_disconnect"))
	assert.ErrorIs(t, m.EndSession(context.Background(), s.ID, "client_disconnect"), commons.ErrSessionEnded)
}

func newTestManager(t *testing.T, maxIdle, grace time.Duration) (*Manager, *bus.Bus) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&storage.User{}, &storage.Session{}, &storage.Transcript{}, &storage.ConversationSummary{}, &storage.AuditEvent{}))

	b := bus.New(commons.NewNopLogger())
	repo := storage.NewRepository(db)
	return NewManager(commons.NewNopLogger(), b, repo, maxIdle, grace), b
}

func TestCreateSessionEmitsStartAndPersists(t *testing.T) {
	m, b := newTestManager(t, time.Hour, 10*time.Millisecond)

	var gotStart bool
	b.On(EventSessionStart, func(e bus.Event) { gotStart = true })

	s, ready, err := m.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StateIdle, s.State)
	assert.False(t, ready.IsReturningUser)
	assert.True(t, gotStart)
}

func TestEndSessionIsIdempotent(t *testing.T) {
	m, b := newTestManager(t, time.Hour, 10*time.Millisecond)

	var endCount int
	b.On(EventSessionEnd, func(e bus.Event) { endCount++ })

	s, _, err := m.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)

	require.NoError(t, m.EndSession(context.Background(), s.ID, "client_disconnect"))
	assert.ErrorIs(t, m.EndSession(context.Background(), s.ID, "client_disconnect"), commons.ErrSessionEnded)

	assert.Equal(t, 1, endCount)
}

func TestEndSessionRemovesAfterGrace(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 20*time.Millisecond)

	s, _, err := m.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)

	require.NoError(t, m.EndSession(context.Background(), s.ID, "client_disconnect"))
	assert.Len(t, m.GetActiveSessions(), 0) // ended sessions are filtered immediately

	time.Sleep(50 * time.Millisecond)
	m.mu.Lock()
	_, stillPresent := m.sessions[s.ID]
	m.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestIdleTimeoutEndsSessionWithTimeoutReason(t *testing.T) {
	m, b := newTestManager(t, 20*time.Millisecond, 10*time.Millisecond)

	var gotReason string
	b.On(EventSessionEnd, func(e bus.Event) {
		gotReason = e.Payload.(EndPayload).Reason
	})

	_, _, err := m.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, "timeout", gotReason)
}

func TestTouchResetsIdleTimer(t *testing.T) {
	m, b := newTestManager(t, 40*time.Millisecond, 10*time.Millisecond)

	var ended bool
	b.On(EventSessionEnd, func(e bus.Event) { ended = true })

	s, _, err := m.CreateSession(context.Background(), "", nil)
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)
	m.Touch(s.ID)
	time.Sleep(25 * time.Millisecond)

	assert.False(t, ended, "touch should have pushed the idle deadline out")
}

func TestReturningUserSignalFalseWithoutPriorSummaries(t *testing.T) {
	m, _ := newTestManager(t, time.Hour, 10*time.Millisecond)

	_, ready, err := m.CreateSession(context.Background(), "user-42", nil)
	require.NoError(t, err)
	assert.False(t, ready.IsReturningUser)
}
