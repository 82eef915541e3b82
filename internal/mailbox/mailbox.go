// Package mailbox is the SQLite-backed message queue that drives turn
// dispatch. Every chat, event, or command a caller wants delivered is a row
// in messages; the daemon loop polls AgentsWithUnread to decide who to wake
// next, and the four lifecycle timestamps (created, delivered, seen,
// processed) track a message from send through to a completed turn.
package mailbox

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/pubsub"
)

// Type categorizes a message's purpose.
type Type string

const (
	TypeChat    Type = "chat"
	TypeEvent   Type = "event"
	TypeCommand Type = "command"
)

// Message is one row of the messages table.
type Message struct {
	ID            int64
	Team          string
	TeamUUID      *string
	Sender        string
	SenderUUID    *string
	Recipient     string
	RecipientUUID *string
	Content       string
	Type          Type
	TaskID        *int64
	Result        *string
	Timestamp     int64
	DeliveredAt   *int64
	SeenAt        *int64
	ProcessedAt   *int64
}

// EventType identifies the kind of mailbox event published on Box.Events.
type EventType string

const (
	EventSent      EventType = "sent"
	EventSeen      EventType = "seen"
	EventProcessed EventType = "processed"
)

// Activity is published to subscribers whenever a message's lifecycle
// advances, feeding the SSE activity stream.
type Activity struct {
	Kind    EventType
	Message Message
}

// Queryer is the subset of *sql.DB / *sql.Tx the mailbox needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Box is the mailbox store.
type Box struct {
	db     Queryer
	broker *pubsub.Broker[Activity]
}

// New builds a Box over db.
func New(db Queryer) *Box {
	return &Box{db: db, broker: pubsub.NewBroker[Activity]()}
}

// Events returns a channel of lifecycle activity, closed when ctx is done.
func (b *Box) Events(ctx context.Context) <-chan pubsub.Event[Activity] {
	return b.broker.Subscribe(ctx)
}

// Send inserts a chat message, delivered immediately.
func (b *Box) Send(ctx context.Context, team, sender, recipient, content string, taskID *int64) (Message, error) {
	return b.insert(ctx, team, sender, recipient, content, TypeChat, taskID, nil)
}

// SendEvent inserts a system event row, e.g. a task status change notice.
func (b *Box) SendEvent(ctx context.Context, team, sender, recipient, content string, taskID *int64) (Message, error) {
	return b.insert(ctx, team, sender, recipient, content, TypeEvent, taskID, nil)
}

// SendCommand inserts a command row with a JSON result payload slot, used by
// the in-process MCP tool layer for request/response style calls.
func (b *Box) SendCommand(ctx context.Context, team, sender, recipient, content string, taskID *int64, result *string) (Message, error) {
	return b.insert(ctx, team, sender, recipient, content, TypeCommand, taskID, result)
}

func (b *Box) insert(ctx context.Context, team, sender, recipient, content string, typ Type, taskID *int64, result *string) (Message, error) {
	now := time.Now().Unix()
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO messages (team, sender, recipient, content, type, task_id, result, timestamp, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		team, sender, recipient, content, string(typ), taskID, result, now, now,
	)
	if err != nil {
		return Message{}, fmt.Errorf("sending message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("reading inserted message id: %w", err)
	}

	msg := Message{
		ID: id, Team: team, Sender: sender, Recipient: recipient, Content: content,
		Type: typ, TaskID: taskID, Result: result, Timestamp: now, DeliveredAt: &now,
	}
	log.Debug(log.CatMailbox, "message sent", "id", id, "team", team, "sender", sender, "recipient", recipient, "type", typ)
	b.broker.Publish(pubsub.CreatedEvent, Activity{Kind: EventSent, Message: msg})
	return msg, nil
}

const messageColumns = `id, team, sender, recipient, content, type, task_id, result,
	timestamp, delivered_at, seen_at, processed_at`

func scanMessage(row interface{ Scan(dest ...any) error }) (Message, error) {
	var m Message
	var typ string
	if err := row.Scan(
		&m.ID, &m.Team, &m.Sender, &m.Recipient, &m.Content, &typ, &m.TaskID, &m.Result,
		&m.Timestamp, &m.DeliveredAt, &m.SeenAt, &m.ProcessedAt,
	); err != nil {
		return Message{}, err
	}
	m.Type = Type(typ)
	return m, nil
}

// ReadInbox returns chat rows addressed to agent, oldest first. When
// unreadOnly is true only rows with processed_at IS NULL are returned.
func (b *Box) ReadInbox(ctx context.Context, team, agent string, unreadOnly bool) ([]Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages
		WHERE team = ? AND recipient = ? AND type = 'chat'`, messageColumns)
	if unreadOnly {
		query += " AND processed_at IS NULL"
	}
	query += " ORDER BY id ASC"
	return b.queryMessages(ctx, query, team, agent)
}

// ReadOutbox returns chat rows sent by agent, oldest first. When
// pendingOnly is true only rows not yet processed by the recipient are
// returned.
func (b *Box) ReadOutbox(ctx context.Context, team, agent string, pendingOnly bool) ([]Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages
		WHERE team = ? AND sender = ? AND type = 'chat'`, messageColumns)
	if pendingOnly {
		query += " AND processed_at IS NULL"
	}
	query += " ORDER BY id ASC"
	return b.queryMessages(ctx, query, team, agent)
}

// AgentsWithUnread returns the distinct recipients with unprocessed chat
// mail for team. This is the daemon loop's primary dispatch signal.
func (b *Box) AgentsWithUnread(ctx context.Context, team string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT DISTINCT recipient FROM messages
		 WHERE team = ? AND type = 'chat' AND processed_at IS NULL
		 ORDER BY recipient`, team)
	if err != nil {
		return nil, fmt.Errorf("listing agents with unread mail: %w", err)
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// RecentConversation returns up to limit recent messages between agent and
// peer (both directions), or with anyone if peer is empty. Used to build
// prompt history for a turn.
func (b *Box) RecentConversation(ctx context.Context, team, agent, peer string, limit int) ([]Message, error) {
	var query string
	var args []any
	if peer == "" {
		query = fmt.Sprintf(`SELECT %s FROM messages
			WHERE team = ? AND (sender = ? OR recipient = ?)
			ORDER BY id DESC LIMIT ?`, messageColumns)
		args = []any{team, agent, agent, limit}
	} else {
		query = fmt.Sprintf(`SELECT %s FROM messages
			WHERE team = ? AND ((sender = ? AND recipient = ?) OR (sender = ? AND recipient = ?))
			ORDER BY id DESC LIMIT ?`, messageColumns)
		args = []any{team, agent, peer, peer, agent, limit}
	}

	msgs, err := b.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Query is newest-first for LIMIT to keep the right window; flip to
	// chronological order before handing back to the caller.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountUnread returns the number of unprocessed chat messages for agent.
func (b *Box) CountUnread(ctx context.Context, team, agent string) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE team = ? AND recipient = ? AND type = 'chat' AND processed_at IS NULL`,
		team, agent,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

// MarkSeenBatch stamps seen_at on the given message ids (a no-op for ids
// already seen).
func (b *Box) MarkSeenBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().Unix()
	query := fmt.Sprintf(`UPDATE messages SET seen_at = ? WHERE id IN (%s) AND seen_at IS NULL`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking messages seen: %w", err)
	}
	for _, id := range ids {
		b.broker.Publish(pubsub.UpdatedEvent, Activity{Kind: EventSeen, Message: Message{ID: id, SeenAt: &now}})
	}
	return nil
}

// MarkProcessedBatch stamps processed_at on the given message ids, marking
// the recipient's turn over that batch complete.
func (b *Box) MarkProcessedBatch(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().Unix()
	query := fmt.Sprintf(`UPDATE messages SET processed_at = ? WHERE id IN (%s) AND processed_at IS NULL`, placeholders(len(ids)))
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("marking messages processed: %w", err)
	}
	for _, id := range ids {
		b.broker.Publish(pubsub.UpdatedEvent, Activity{Kind: EventProcessed, Message: Message{ID: id, ProcessedAt: &now}})
	}
	return nil
}

func (b *Box) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = "?"
	}
	return strings.Join(ph, ", ")
}
