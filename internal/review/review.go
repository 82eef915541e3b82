// Package review is the review/review_comments repository: one row per
// review attempt on a task, with an append-only comment thread and a
// diff-based conflict preview for reviewer edits.
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/delegate-run/delegate/internal/log"
)

// ErrNotFound is returned when a review or comment id does not exist.
var ErrNotFound = errors.New("review: not found")

// Verdict is the outcome of a review attempt. The zero value (empty
// string) means no verdict has been recorded yet.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// Review is one row of the reviews table: a single review attempt on a
// task, unique on (task_id, attempt).
type Review struct {
	ID        int64
	TaskID    int64
	Attempt   int
	Verdict   Verdict
	Summary   string
	Reviewer  string
	CreatedAt int64
}

// Comment is one row of review_comments: a line-anchored note left
// against a specific review attempt. Comments are append-only; there is
// no update or delete, matching the reviewer workflow's append-only
// thread.
type Comment struct {
	ID        int64
	TaskID    int64
	Attempt   int
	File      string
	Line      int
	Body      string
	Author    string
	CreatedAt int64
}

// Queryer is the subset of *sql.DB / *sql.Tx this package needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the review repository.
type Store struct {
	db Queryer
}

// New builds a Store over db.
func New(db Queryer) *Store {
	return &Store{db: db}
}

// CreateReview inserts a new review row for a task's current review
// attempt. Called when a task enters in_approval; the unique (task_id,
// attempt) index rejects a duplicate create for the same attempt.
func (s *Store) CreateReview(ctx context.Context, taskID int64, attempt int) (Review, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO reviews (task_id, attempt, summary, reviewer, created_at) VALUES (?, ?, '', '', ?)",
		taskID, attempt, now)
	if err != nil {
		return Review{}, fmt.Errorf("creating review for task %d attempt %d: %w", taskID, attempt, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Review{}, fmt.Errorf("reading inserted review id: %w", err)
	}
	log.Info(log.CatTask, "review opened", "task_id", taskID, "attempt", attempt)
	return Review{ID: id, TaskID: taskID, Attempt: attempt, CreatedAt: now}, nil
}

const reviewColumns = `id, task_id, attempt, verdict, summary, reviewer, created_at`

// GetReview fetches a specific review attempt for a task.
func (s *Store) GetReview(ctx context.Context, taskID int64, attempt int) (Review, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM reviews WHERE task_id = ? AND attempt = ?", reviewColumns),
		taskID, attempt)
	return scanReview(row)
}

// GetCurrentReview fetches the highest-attempt review for a task, the one
// a reviewer is currently acting on.
func (s *Store) GetCurrentReview(ctx context.Context, taskID int64) (Review, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM reviews WHERE task_id = ? ORDER BY attempt DESC LIMIT 1", reviewColumns),
		taskID)
	return scanReview(row)
}

// SetVerdict records a reviewer's verdict and summary on a review attempt.
func (s *Store) SetVerdict(ctx context.Context, taskID int64, attempt int, verdict Verdict, reviewer, summary string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reviews SET verdict = ?, reviewer = ?, summary = ? WHERE task_id = ? AND attempt = ?",
		string(verdict), reviewer, summary, taskID, attempt)
	if err != nil {
		return fmt.Errorf("setting verdict for task %d attempt %d: %w", taskID, attempt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	log.Info(log.CatTask, "review verdict set", "task_id", taskID, "attempt", attempt, "verdict", verdict)
	return nil
}

func scanReview(row interface{ Scan(dest ...any) error }) (Review, error) {
	var r Review
	var verdict sql.NullString
	err := row.Scan(&r.ID, &r.TaskID, &r.Attempt, &verdict, &r.Summary, &r.Reviewer, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Review{}, ErrNotFound
	}
	if err != nil {
		return Review{}, fmt.Errorf("scanning review: %w", err)
	}
	r.Verdict = Verdict(verdict.String)
	return r, nil
}

// AddReviewComment appends a line-anchored comment to a review attempt's
// thread.
func (s *Store) AddReviewComment(ctx context.Context, taskID int64, attempt int, file string, line int, author, body string) (Comment, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO review_comments (task_id, attempt, file, line, body, author, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		taskID, attempt, file, line, body, author, now)
	if err != nil {
		return Comment{}, fmt.Errorf("adding review comment to task %d attempt %d: %w", taskID, attempt, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Comment{}, fmt.Errorf("reading inserted comment id: %w", err)
	}
	return Comment{ID: id, TaskID: taskID, Attempt: attempt, File: file, Line: line, Body: body, Author: author, CreatedAt: now}, nil
}

// GetReviewComments returns a review attempt's comments, oldest first.
func (s *Store) GetReviewComments(ctx context.Context, taskID int64, attempt int) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, attempt, file, line, body, author, created_at
		 FROM review_comments WHERE task_id = ? AND attempt = ? ORDER BY id ASC`,
		taskID, attempt)
	if err != nil {
		return nil, fmt.Errorf("listing review comments for task %d attempt %d: %w", taskID, attempt, err)
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Attempt, &c.File, &c.Line, &c.Body, &c.Author, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
