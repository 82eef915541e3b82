package tasks

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Comment is a row of task_comments.
type Comment struct {
	ID        int64
	TaskID    int64
	Author    string
	Body      string
	CreatedAt int64
}

// AddComment appends a comment to a task's thread.
func (s *Store) AddComment(ctx context.Context, taskID int64, author, body string) (Comment, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO task_comments (task_id, author, body, created_at) VALUES (?, ?, ?, ?)",
		taskID, author, body, now)
	if err != nil {
		return Comment{}, fmt.Errorf("adding comment to task %d: %w", taskID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Comment{}, fmt.Errorf("reading inserted comment id: %w", err)
	}
	return Comment{ID: id, TaskID: taskID, Author: author, Body: body, CreatedAt: now}, nil
}

// GetComments returns a task's comments, oldest first.
func (s *Store) GetComments(ctx context.Context, taskID int64) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, task_id, author, body, created_at FROM task_comments WHERE task_id = ? ORDER BY id ASC",
		taskID)
	if err != nil {
		return nil, fmt.Errorf("listing comments for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TimelineEntryKind distinguishes the two row types interleaved in a task
// timeline view.
type TimelineEntryKind string

const (
	TimelineComment TimelineEntryKind = "comment"
	TimelineEvent   TimelineEntryKind = "event"
)

// TimelineEntry is one row of a task's timeline: a human/agent comment or a
// system event message (status change, review notification, etc.), in
// chronological order.
type TimelineEntry struct {
	Kind      TimelineEntryKind
	Timestamp int64
	Author    string
	Body      string
}

// GetTaskTimeline interleaves task_comments and the task's event-type
// messages by timestamp, most recent limit entries.
func (s *Store) GetTaskTimeline(ctx context.Context, taskID int64, limit int) ([]TimelineEntry, error) {
	comments, err := s.GetComments(ctx, taskID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT sender, content, timestamp FROM messages WHERE task_id = ? AND type = 'event' ORDER BY id ASC",
		taskID)
	if err != nil {
		return nil, fmt.Errorf("listing task events for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for _, c := range comments {
		entries = append(entries, TimelineEntry{Kind: TimelineComment, Timestamp: c.CreatedAt, Author: c.Author, Body: c.Body})
	}
	for rows.Next() {
		var sender, content string
		var ts int64
		if err := rows.Scan(&sender, &content, &ts); err != nil {
			return nil, err
		}
		entries = append(entries, TimelineEntry{Kind: TimelineEvent, Timestamp: ts, Author: sender, Body: content})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
