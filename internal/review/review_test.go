package review

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

func TestCreateReview_DefaultsToNoVerdict(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	r, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)
	require.Empty(t, r.Verdict)
	require.Equal(t, 1, r.Attempt)
}

func TestCreateReview_DuplicateAttemptRejected(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)

	_, err = s.CreateReview(ctx, 1, 1)
	require.Error(t, err)
}

func TestGetReview_ReturnsSpecificAttempt(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)
	_, err = s.CreateReview(ctx, 1, 2)
	require.NoError(t, err)

	r, err := s.GetReview(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, 1, r.Attempt)
}

func TestGetReview_NotFound(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.GetReview(ctx, 99, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetCurrentReview_ReturnsHighestAttempt(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)
	_, err = s.CreateReview(ctx, 1, 2)
	require.NoError(t, err)
	_, err = s.CreateReview(ctx, 1, 3)
	require.NoError(t, err)

	r, err := s.GetCurrentReview(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 3, r.Attempt)
}

func TestSetVerdict_RecordsApproval(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)

	require.NoError(t, s.SetVerdict(ctx, 1, 1, VerdictApproved, "alice", "looks good"))

	r, err := s.GetReview(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, VerdictApproved, r.Verdict)
	require.Equal(t, "alice", r.Reviewer)
	require.Equal(t, "looks good", r.Summary)
}

func TestSetVerdict_UnknownAttemptReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	err := s.SetVerdict(ctx, 1, 7, VerdictRejected, "alice", "no")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddAndGetReviewComments_OrderedOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)

	_, err = s.AddReviewComment(ctx, 1, 1, "main.go", 10, "bob", "why does this branch exist?")
	require.NoError(t, err)
	_, err = s.AddReviewComment(ctx, 1, 1, "main.go", 20, "bob", "nit: rename var")
	require.NoError(t, err)

	comments, err := s.GetReviewComments(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	require.Equal(t, "why does this branch exist?", comments[0].Body)
	require.Equal(t, 10, comments[0].Line)
}

func TestGetReviewComments_ScopedToAttempt(t *testing.T) {
	ctx := context.Background()
	s := New(openTestDB(t))

	_, err := s.CreateReview(ctx, 1, 1)
	require.NoError(t, err)
	_, err = s.CreateReview(ctx, 1, 2)
	require.NoError(t, err)

	_, err = s.AddReviewComment(ctx, 1, 1, "main.go", 1, "bob", "attempt 1 comment")
	require.NoError(t, err)
	_, err = s.AddReviewComment(ctx, 1, 2, "main.go", 1, "bob", "attempt 2 comment")
	require.NoError(t, err)

	attempt1, err := s.GetReviewComments(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, attempt1, 1)
	require.Equal(t, "attempt 1 comment", attempt1[0].Body)
}

func TestLineDiff_DetectsSingleLineChange(t *testing.T) {
	hunks := LineDiff("line1\nline2\nline3\n", "line1\nchanged\nline3\n")
	require.Len(t, hunks, 1)
	require.Equal(t, []string{"line2"}, hunks[0].OldLines)
	require.Equal(t, []string{"changed"}, hunks[0].NewLines)
}

func TestLineDiff_NoChangeProducesNoHunks(t *testing.T) {
	hunks := LineDiff("same\ntext\n", "same\ntext\n")
	require.Empty(t, hunks)
}

func TestConflictContext_RendersUnifiedHunkHeader(t *testing.T) {
	out := ConflictContext("a\nb\nc\n", "a\nx\nc\n", 3)
	require.Contains(t, out, "@@")
	require.Contains(t, out, "-b")
	require.Contains(t, out, "+x")
}

func TestConflictContext_EmptyWhenIdentical(t *testing.T) {
	require.Empty(t, ConflictContext("same\n", "same\n", 3))
}
