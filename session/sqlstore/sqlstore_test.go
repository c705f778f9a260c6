package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/session"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateSessionIdempotentForActiveSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := ident.NewSessionID()

	first, err := s.CreateSession(ctx, id, time.Now())
	require.NoError(t, err)

	second, err := s.CreateSession(ctx, id, time.Now())
	require.NoError(t, err)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestCreateSessionRejectsAfterEnd(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := ident.NewSessionID()

	_, err := s.CreateSession(ctx, id, time.Now())
	require.NoError(t, err)
	_, err = s.EndSession(ctx, id, time.Now())
	require.NoError(t, err)

	_, err = s.CreateSession(ctx, id, time.Now())
	require.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestEndSessionIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := ident.NewSessionID()

	_, err := s.CreateSession(ctx, id, time.Now())
	require.NoError(t, err)

	first, err := s.EndSession(ctx, id, time.Now())
	require.NoError(t, err)
	second, err := s.EndSession(ctx, id, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, first.EndedAt, second.EndedAt)
}

func TestListRunsBySessionFiltersByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sessionID := ident.NewSessionID()

	r1 := session.RunMeta{RunID: ident.NewRunID(), AgentID: "a1", SessionID: sessionID, Status: session.RunStatusCompleted}
	r2 := session.RunMeta{RunID: ident.NewRunID(), AgentID: "a1", SessionID: sessionID, Status: session.RunStatusFailed}
	require.NoError(t, s.UpsertRun(ctx, r1))
	require.NoError(t, s.UpsertRun(ctx, r2))

	completed, err := s.ListRunsBySession(ctx, sessionID, []session.RunStatus{session.RunStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, r1.RunID, completed[0].RunID)

	all, err := s.ListRunsBySession(ctx, sessionID, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestUpsertRunPreservesStartedAt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := ident.NewRunID()
	sessionID := ident.NewSessionID()

	require.NoError(t, s.UpsertRun(ctx, session.RunMeta{RunID: runID, AgentID: "a1", SessionID: sessionID, Status: session.RunStatusRunning}))
	first, err := s.LoadRun(ctx, runID)
	require.NoError(t, err)

	require.NoError(t, s.UpsertRun(ctx, session.RunMeta{RunID: runID, AgentID: "a1", SessionID: sessionID, Status: session.RunStatusCompleted}))
	second, err := s.LoadRun(ctx, runID)
	require.NoError(t, err)

	require.Equal(t, first.StartedAt, second.StartedAt)
	require.Equal(t, session.RunStatusCompleted, second.Status)
}

func TestLoadRunNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.LoadRun(context.Background(), ident.NewRunID())
	require.ErrorIs(t, err, session.ErrRunNotFound)
}
