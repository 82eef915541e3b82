// Package session is the telemetry store for turn runtime sessions: one
// row per run_turn invocation, bracketed by Start/End, recording token
// usage and cost for the daemon's accounting and activity views.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/delegate-run/delegate/internal/log"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session: not found")

// Session is one row of the sessions table.
type Session struct {
	ID               int64
	Team             string
	Agent            string
	TaskID           *int64
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
	CostUSD          float64
	StartedAt        int64
	EndedAt          *int64
}

// Queryer is the subset of *sql.DB / *sql.Tx the session store needs.
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store persists turn-runtime sessions.
type Store struct {
	db Queryer
}

// New constructs a Store.
func New(db Queryer) *Store {
	return &Store{db: db}
}

// Start inserts a new session row bracketing the beginning of a turn,
// returning its id for later End/UpdateTokens/UpdateTask calls.
func (s *Store) Start(ctx context.Context, team, agent string, taskID *int64) (int64, error) {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (team, agent, task_id, started_at) VALUES (?, ?, ?, ?)`,
		team, agent, taskID, now)
	if err != nil {
		return 0, fmt.Errorf("session: start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("session: start: %w", err)
	}
	log.Info(log.CatTurn, "session started", "id", id, "team", team, "agent", agent)
	return id, nil
}

// UpdateTokens overwrites a session's token/cost accounting. run_turn
// calls this mid-turn (so partial usage survives a crash) and again at
// finalize with the full totals.
func (s *Store) UpdateTokens(ctx context.Context, id int64, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int, costUSD float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET input_tokens = ?, output_tokens = ?, cache_read_tokens = ?, cache_write_tokens = ?, cost_usd = ? WHERE id = ?`,
		inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens, costUSD, id)
	if err != nil {
		return fmt.Errorf("session: update tokens: %w", err)
	}
	return requireRowsAffected(res)
}

// UpdateTask re-associates a session with a task discovered after the
// turn's message batch had none (spec §4.8 step 11).
func (s *Store) UpdateTask(ctx context.Context, id int64, taskID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET task_id = ? WHERE id = ?`, taskID, id)
	if err != nil {
		return fmt.Errorf("session: update task: %w", err)
	}
	return requireRowsAffected(res)
}

// End stamps a session's ended_at, closing the start/end bracket.
func (s *Store) End(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	if err := requireRowsAffected(res); err != nil {
		return err
	}
	log.Info(log.CatTurn, "session ended", "id", id)
	return nil
}

// Get returns a session by id.
func (s *Store) Get(ctx context.Context, id int64) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, team, agent, task_id, input_tokens, output_tokens, cache_read_tokens, cache_write_tokens, cost_usd, started_at, ended_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.Team, &sess.Agent, &sess.TaskID,
		&sess.InputTokens, &sess.OutputTokens, &sess.CacheReadTokens, &sess.CacheWriteTokens,
		&sess.CostUSD, &sess.StartedAt, &sess.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	return sess, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
