package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/delegate-run/delegate/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	db.ResetVerifiedCache()
	d, err := db.Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestStart_CreatesOpenSession(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	id, err := s.Start(ctx, "teamA", "alice", nil)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "teamA", got.Team)
	require.Equal(t, "alice", got.Agent)
	require.Nil(t, got.TaskID)
	require.Nil(t, got.EndedAt)
}

func TestStart_RecordsTaskID(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	taskID := int64(42)
	id, err := s.Start(ctx, "teamA", "alice", &taskID)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.TaskID)
	require.Equal(t, int64(42), *got.TaskID)
}

func TestUpdateTokens_OverwritesUsage(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	id, err := s.Start(ctx, "teamA", "alice", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateTokens(ctx, id, 100, 50, 10, 5, 0.25))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 100, got.InputTokens)
	require.Equal(t, 50, got.OutputTokens)
	require.Equal(t, 10, got.CacheReadTokens)
	require.Equal(t, 5, got.CacheWriteTokens)
	require.InDelta(t, 0.25, got.CostUSD, 0.0001)
}

func TestUpdateTokens_UnknownIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	err := s.UpdateTokens(ctx, 999, 1, 1, 0, 0, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTask_ReassociatesSession(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	id, err := s.Start(ctx, "teamA", "alice", nil)
	require.NoError(t, err)

	require.NoError(t, s.UpdateTask(ctx, id, 7))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.TaskID)
	require.Equal(t, int64(7), *got.TaskID)
}

func TestEnd_StampsEndedAt(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	id, err := s.Start(ctx, "teamA", "alice", nil)
	require.NoError(t, err)

	require.NoError(t, s.End(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
}

func TestGet_UnknownIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.Get(ctx, 999)
	require.ErrorIs(t, err, ErrNotFound)
}
