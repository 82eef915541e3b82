package mcptools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/delegate-run/delegate/internal/db"
	"github.com/delegate-run/delegate/internal/ids"
	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/tasks"
)

func newTestContext(t *testing.T, agent string) *Context {
	t.Helper()
	ctx := context.Background()
	db.ResetVerifiedCache()
	d, err := db.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	resolver := ids.NewResolver(d)
	teamUUID, err := resolver.EnsureTeam(ctx, "rocket")
	require.NoError(t, err)
	_, err = resolver.EnsureMember(ctx, ids.KindAgent, nil, agent)
	require.NoError(t, err)

	return &Context{
		Team:     "rocket",
		TeamUUID: teamUUID,
		Agent:    agent,
		Mailbox:  mailbox.New(d),
		Tasks:    tasks.New(d, resolver),
	}
}

func TestMailboxSend_RequiresRecipientAndMessage(t *testing.T) {
	c := newTestContext(t, "worker-1")
	result := c.Dispatch(context.Background(), "mailbox_send", map[string]any{"recipient": "pm-bot"})
	require.True(t, result.IsError)
}

func TestMailboxSend_ThenInbox(t *testing.T) {
	c := newTestContext(t, "worker-1")
	ctx := context.Background()

	send := c.Dispatch(ctx, "mailbox_send", map[string]any{
		"recipient": "pm-bot",
		"message":   "done with T0001",
	})
	require.False(t, send.IsError)
	require.Contains(t, send.Content[0].Text, "pm-bot")

	recipientCtx := &Context{Team: c.Team, TeamUUID: c.TeamUUID, Agent: "pm-bot", Mailbox: c.Mailbox, Tasks: c.Tasks}
	inbox := recipientCtx.Dispatch(ctx, "mailbox_inbox", nil)
	require.False(t, inbox.IsError)
	require.Contains(t, inbox.Content[0].Text, "done with T0001")
}

func TestMailboxInbox_EmptyIsFriendlyText(t *testing.T) {
	c := newTestContext(t, "worker-1")
	result := c.Dispatch(context.Background(), "mailbox_inbox", nil)
	require.False(t, result.IsError)
	require.Equal(t, "No unread messages.", result.Content[0].Text)
}

func TestTaskRead_RejectsForeignTeam(t *testing.T) {
	c := newTestContext(t, "worker-1")
	result := c.Dispatch(context.Background(), "task_read", map[string]any{"task_id": float64(999)})
	require.True(t, result.IsError)
}

func TestTaskUpdateStatus_RoundTrip(t *testing.T) {
	c := newTestContext(t, "worker-1")
	ctx := context.Background()

	task, err := c.Tasks.CreateTask(ctx, tasks.CreateParams{
		Team:     "rocket",
		Title:    "ship it",
		Assignee: "worker-1",
	})
	require.NoError(t, err)

	read := c.Dispatch(ctx, "task_read", map[string]any{"task_id": float64(task.ID)})
	require.False(t, read.IsError)
	require.Contains(t, read.Content[0].Text, "ship it")

	update := c.Dispatch(ctx, "task_update_status", map[string]any{
		"task_id":    float64(task.ID),
		"new_status": string(tasks.StatusInProgress),
	})
	require.False(t, update.IsError)

	got, err := c.Tasks.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Equal(t, tasks.StatusInProgress, got.Status)
}

func TestTaskUpdateStatus_InvalidTransitionFails(t *testing.T) {
	c := newTestContext(t, "worker-1")
	ctx := context.Background()

	task, err := c.Tasks.CreateTask(ctx, tasks.CreateParams{Team: "rocket", Title: "ship it"})
	require.NoError(t, err)

	result := c.Dispatch(ctx, "task_update_status", map[string]any{
		"task_id":    float64(task.ID),
		"new_status": string(tasks.StatusDone),
	})
	require.True(t, result.IsError)
}

func TestDispatch_UnknownTool(t *testing.T) {
	c := newTestContext(t, "worker-1")
	result := c.Dispatch(context.Background(), "not_a_real_tool", nil)
	require.True(t, result.IsError)
}
