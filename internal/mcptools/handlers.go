package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/tasks"
)

// Context is one agent's baked-in identity: every handler closes over
// this instead of reading it from tool arguments, so a call can never
// send mail or change a task's status as someone else.
type Context struct {
	Team     string
	TeamUUID string
	Agent    string

	Mailbox *mailbox.Box
	Tasks   *tasks.Store
}

// Dispatch runs the named tool with the given JSON-decoded arguments and
// returns the MCP result envelope. Unknown tool names are a caller bug
// (the agent SDK should never offer a name outside Definitions()), not a
// tool-level error — Dispatch still reports it through the normal error
// envelope rather than panicking, since it runs inside the agent's own
// turn.
func (c *Context) Dispatch(ctx context.Context, name string, args map[string]any) Result {
	switch name {
	case "mailbox_send":
		return c.mailboxSend(ctx, args)
	case "mailbox_inbox":
		return c.mailboxInbox(ctx, args)
	case "task_read":
		return c.taskRead(ctx, args)
	case "task_update_status":
		return c.taskUpdateStatus(ctx, args)
	default:
		return errorResult(fmt.Errorf("unknown tool %q", name))
	}
}

func (c *Context) mailboxSend(ctx context.Context, args map[string]any) Result {
	recipient, _ := args["recipient"].(string)
	message, _ := args["message"].(string)
	if recipient == "" || message == "" {
		return errorResult(errors.New("recipient and message are required"))
	}

	var taskID *int64
	if raw, ok := args["task_id"]; ok && raw != nil {
		if n, ok := toInt64(raw); ok && n != 0 {
			taskID = &n
		}
	}

	if _, err := c.Mailbox.Send(ctx, c.Team, c.Agent, recipient, message, taskID); err != nil {
		log.Error(log.CatMCP, "mailbox_send tool failed", "team", c.Team, "agent", c.Agent, "err", err)
		return errorResult(err)
	}

	result := fmt.Sprintf("Message sent to %s", recipient)
	if taskID != nil {
		result += fmt.Sprintf(" (task T%04d)", *taskID)
	}
	return textResult(result)
}

func (c *Context) mailboxInbox(ctx context.Context, _ map[string]any) Result {
	messages, err := c.Mailbox.ReadInbox(ctx, c.Team, c.Agent, true)
	if err != nil {
		log.Error(log.CatMCP, "mailbox_inbox tool failed", "team", c.Team, "agent", c.Agent, "err", err)
		return errorResult(err)
	}
	if len(messages) == 0 {
		return textResult("No unread messages.")
	}

	entries := make([]inboxEntry, len(messages))
	for i, m := range messages {
		entries[i] = inboxEntry{From: m.Sender, Body: m.Content, TaskID: m.TaskID, CreatedAt: m.Timestamp}
	}
	return jsonResult(entries)
}

type inboxEntry struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	TaskID    *int64 `json:"task_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func (c *Context) taskRead(ctx context.Context, args map[string]any) Result {
	id, ok := toInt64(args["task_id"])
	if !ok {
		return errorResult(errors.New("task_id is required"))
	}

	t, err := c.Tasks.GetTask(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	if t.TeamUUID != c.TeamUUID {
		return errorResult(fmt.Errorf("task %d does not belong to this team", id))
	}

	return jsonResult(taskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Assignee:    t.Assignee,
		DRI:         t.DRI,
		Repo:        t.Repo,
		DependsOn:   t.DependsOn,
	})
}

type taskView struct {
	ID          int64    `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Assignee    string   `json:"assignee"`
	DRI         string   `json:"dri"`
	Repo        []string `json:"repo"`
	DependsOn   []int64  `json:"depends_on,omitempty"`
}

func (c *Context) taskUpdateStatus(ctx context.Context, args map[string]any) Result {
	id, ok := toInt64(args["task_id"])
	if !ok {
		return errorResult(errors.New("task_id is required"))
	}
	status, _ := args["new_status"].(string)
	if status == "" {
		return errorResult(errors.New("new_status is required"))
	}

	t, err := c.Tasks.GetTask(ctx, id)
	if err != nil {
		return errorResult(err)
	}
	if t.TeamUUID != c.TeamUUID {
		return errorResult(fmt.Errorf("task %d does not belong to this team", id))
	}

	if err := c.Tasks.TransitionTask(ctx, id, tasks.Status(status), c.Agent, nil); err != nil {
		return errorResult(err)
	}
	return textResult(fmt.Sprintf("Task T%04d status changed to %s", id, status))
}

func jsonResult(v any) Result {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return textResult(string(b))
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
