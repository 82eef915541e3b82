// Package tasks is the task store and status machine: task CRUD, the
// built-in (or per-team workflow) status transitions, dependency gating,
// and the task comment/timeline view.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/delegate-run/delegate/internal/ids"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
)

var (
	// ErrNotFound is returned when a task id does not exist.
	ErrNotFound = errors.New("tasks: not found")
	// ErrInvalidTransition is returned by ChangeStatus/TransitionTask for a
	// status change the machine (default or workflow) does not allow.
	ErrInvalidTransition = errors.New("tasks: invalid transition")
)

// Task is one row of the tasks table, with JSON columns decoded.
type Task struct {
	ID              int64
	Team            string
	TeamUUID        string
	Title           string
	Description     string
	Status          Status
	StatusDetail    string
	DRI             string
	DRIUUID         string
	Assignee        string
	AssigneeUUID    string
	Repo            []string
	Branch          string
	BaseSHA         map[string]string
	MergeBase       map[string]string
	MergeTip        map[string]string
	Commits         map[string][]string
	DependsOn       []int64
	Tags            []string
	Attachments     []string
	ReviewAttempt   int
	MergeAttempts   int
	RetryAfter      *int64
	Workflow        string
	WorkflowVersion int
	Metadata        map[string]any
	CreatedAt       int64
	UpdatedAt       int64
	CompletedAt     *int64
}

// Queryer is the subset of *sql.DB / *sql.Tx the task store needs.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store is the task store.
type Store struct {
	db       Queryer
	resolver *ids.Resolver
}

// New builds a Store over db, resolving DRI/assignee/team names through
// resolver.
func New(db Queryer, resolver *ids.Resolver) *Store {
	return &Store{db: db, resolver: resolver}
}

// CreateParams are the fields a caller supplies to CreateTask; everything
// else is derived or defaulted.
type CreateParams struct {
	Team        string
	Title       string
	Description string
	DRI         string
	Assignee    string
	Repo        []string
	Tags        []string
	DependsOn   []int64
	Workflow    string
}

// CreateTask inserts a new task in status todo, resolving team/DRI/assignee
// names to UUIDs and deriving a default branch name when repos are set.
func (s *Store) CreateTask(ctx context.Context, p CreateParams) (Task, error) {
	teamUUID, err := s.resolver.EnsureTeam(ctx, p.Team)
	if err != nil {
		return Task{}, fmt.Errorf("resolving team: %w", err)
	}

	var driUUID, assigneeUUID string
	if p.DRI != "" {
		driUUID, err = s.resolver.ResolveMemberFlexible(ctx, teamUUID, p.DRI)
		if err != nil {
			return Task{}, fmt.Errorf("resolving DRI: %w", err)
		}
	}
	if p.Assignee != "" {
		assigneeUUID, err = s.resolver.ResolveMemberFlexible(ctx, teamUUID, p.Assignee)
		if err != nil {
			return Task{}, fmt.Errorf("resolving assignee: %w", err)
		}
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (team, team_uuid, title, description, status, dri, dri_uuid,
		 assignee, assignee_uuid, repo, tags, depends_on, workflow, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Team, teamUUID, p.Title, p.Description, string(StatusTodo),
		nullIfEmpty(p.DRI), nullIfEmpty(driUUID), nullIfEmpty(p.Assignee), nullIfEmpty(assigneeUUID),
		encodeStringList(p.Repo), encodeStringList(p.Tags), encodeIntList(p.DependsOn),
		nullIfEmpty(p.Workflow), now, now,
	)
	if err != nil {
		return Task{}, fmt.Errorf("creating task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, fmt.Errorf("reading inserted task id: %w", err)
	}

	if len(p.Repo) > 0 {
		teamIDPrefix := teamUUID
		if len(teamIDPrefix) > 8 {
			teamIDPrefix = teamIDPrefix[:8]
		}
		branch := paths.DefaultBranch(teamIDPrefix, p.Team, int(id))
		if _, err := s.db.ExecContext(ctx, "UPDATE tasks SET branch = ? WHERE id = ?", branch, id); err != nil {
			return Task{}, fmt.Errorf("setting derived branch: %w", err)
		}
	}

	log.Info(log.CatTask, "task created", "id", id, "team", p.Team, "title", p.Title)
	return s.GetTask(ctx, id)
}

// ChangeStatus validates from -> new against wf (or the built-in machine
// when wf is nil) and stamps completed_at when entering done.
func (s *Store) ChangeStatus(ctx context.Context, taskID int64, newStatus Status, wf Workflow) error {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := validateTransition(wf, t.Status, newStatus); err != nil {
		return err
	}

	now := time.Now().Unix()
	if newStatus == StatusDone {
		_, err = s.db.ExecContext(ctx,
			"UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?",
			string(newStatus), now, now, taskID)
	} else {
		_, err = s.db.ExecContext(ctx,
			"UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?",
			string(newStatus), now, taskID)
	}
	if err != nil {
		return fmt.Errorf("changing task %d status: %w", taskID, err)
	}
	log.Info(log.CatTask, "task status changed", "id", taskID, "from", t.Status, "to", newStatus)
	return nil
}

// TransitionTask atomically reassigns a task and changes its status; used
// by the merge worker to take ownership of an escalating task.
func (s *Store) TransitionTask(ctx context.Context, taskID int64, newStatus Status, assignee string, wf Workflow) error {
	t, err := s.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if err := validateTransition(wf, t.Status, newStatus); err != nil {
		return err
	}

	assigneeUUID, err := s.resolver.ResolveMemberFlexible(ctx, t.TeamUUID, assignee)
	if err != nil {
		return fmt.Errorf("resolving new assignee %q: %w", assignee, err)
	}

	now := time.Now().Unix()
	completedAt := interface{}(nil)
	if newStatus == StatusDone {
		completedAt = now
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, assignee = ?, assignee_uuid = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		 WHERE id = ?`,
		string(newStatus), assignee, assigneeUUID, completedAt, now, taskID)
	if err != nil {
		return fmt.Errorf("transitioning task %d: %w", taskID, err)
	}
	log.Info(log.CatTask, "task transitioned", "id", taskID, "to", newStatus, "assignee", assignee)
	return nil
}

// CancelTask sets status to cancelled. Worktree removal and sibling-aware
// branch cleanup are the caller's responsibility (internal/gitutil), since
// the task store has no knowledge of the filesystem.
func (s *Store) CancelTask(ctx context.Context, taskID int64) error {
	return s.ChangeStatus(ctx, taskID, StatusCancelled, nil)
}

// UpdateFields is a partial update for UpdateTask; nil fields are left
// unchanged. JSON columns are always rewritten in canonical (non-legacy)
// form, per decodeStringList/decodeStringDict's forward-compat contract.
type UpdateFields struct {
	Title         *string
	Description   *string
	StatusDetail  *string
	Repo          []string
	Tags          []string
	Attachments   []string
	BaseSHA       map[string]string
	MergeBase     map[string]string
	MergeTip      map[string]string
	Commits       map[string][]string
	ReviewAttempt *int
	MergeAttempts *int
	RetryAfter    *int64
	Metadata      map[string]any
}

// UpdateTask applies a partial update to task fields.
func (s *Store) UpdateTask(ctx context.Context, taskID int64, f UpdateFields) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}

	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if f.Title != nil {
		add("title", *f.Title)
	}
	if f.Description != nil {
		add("description", *f.Description)
	}
	if f.StatusDetail != nil {
		add("status_detail", *f.StatusDetail)
	}
	if f.Repo != nil {
		add("repo", encodeStringList(f.Repo))
	}
	if f.Tags != nil {
		add("tags", encodeStringList(f.Tags))
	}
	if f.Attachments != nil {
		add("attachments", encodeStringList(f.Attachments))
	}
	if f.BaseSHA != nil {
		add("base_sha", encodeStringDict(f.BaseSHA))
	}
	if f.MergeBase != nil {
		add("merge_base", encodeStringDict(f.MergeBase))
	}
	if f.MergeTip != nil {
		add("merge_tip", encodeStringDict(f.MergeTip))
	}
	if f.Commits != nil {
		add("commits", encodeCommits(f.Commits))
	}
	if f.ReviewAttempt != nil {
		add("review_attempt", *f.ReviewAttempt)
	}
	if f.MergeAttempts != nil {
		add("merge_attempts", *f.MergeAttempts)
	}
	if f.RetryAfter != nil {
		add("retry_after", *f.RetryAfter)
	}
	if f.Metadata != nil {
		add("metadata", encodeMetadata(f.Metadata))
	}

	query := "UPDATE tasks SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = ?"
	args = append(args, taskID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating task %d: %w", taskID, err)
	}
	return nil
}

const taskColumns = `id, team, team_uuid, title, description, status, status_detail,
	dri, dri_uuid, assignee, assignee_uuid, repo, branch, base_sha, merge_base, merge_tip,
	commits, depends_on, tags, attachments, review_attempt, merge_attempts, retry_after,
	workflow, workflow_version, metadata, created_at, updated_at, completed_at`

// GetTask fetches a task by id, decoding its JSON columns.
func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM tasks WHERE id = ?", taskColumns), id)
	return scanTask(row)
}

// ListByTeamAndStatus returns tasks for a team in a given status, used by
// the daemon loop to find todo/in_progress work needing worktrees and
// in_approval work ready to merge.
func (s *Store) ListByTeamAndStatus(ctx context.Context, teamUUID string, status Status) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM tasks WHERE team_uuid = ? AND status = ? ORDER BY id ASC", taskColumns),
		teamUUID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row interface{ Scan(dest ...any) error }) (Task, error) {
	var t Task
	var status string
	var statusDetail, dri, driUUID, assignee, assigneeUUID, branch, workflow sql.NullString
	var repo, baseSHA, mergeBase, mergeTip, commits, dependsOn, tags, attachments, metadata string
	var retryAfter, completedAt sql.NullInt64

	err := row.Scan(
		&t.ID, &t.Team, &t.TeamUUID, &t.Title, &t.Description, &status, &statusDetail,
		&dri, &driUUID, &assignee, &assigneeUUID, &repo, &branch, &baseSHA, &mergeBase, &mergeTip,
		&commits, &dependsOn, &tags, &attachments, &t.ReviewAttempt, &t.MergeAttempts, &retryAfter,
		&workflow, &t.WorkflowVersion, &metadata, &t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("scanning task: %w", err)
	}

	t.Status = Status(status)
	t.StatusDetail = statusDetail.String
	t.DRI = dri.String
	t.DRIUUID = driUUID.String
	t.Assignee = assignee.String
	t.AssigneeUUID = assigneeUUID.String
	t.Branch = branch.String
	t.Workflow = workflow.String
	t.Repo = decodeStringList(repo)
	t.BaseSHA = decodeStringDict(baseSHA, t.Repo)
	t.MergeBase = decodeStringDict(mergeBase, t.Repo)
	t.MergeTip = decodeStringDict(mergeTip, t.Repo)
	t.Commits = decodeCommits(commits, t.Repo)
	t.DependsOn = decodeIntList(dependsOn)
	t.Tags = decodeStringList(tags)
	t.Attachments = decodeStringList(attachments)
	t.Metadata = decodeMetadata(metadata)
	if retryAfter.Valid {
		t.RetryAfter = &retryAfter.Int64
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Int64
	}
	return t, nil
}

// AllDepsResolved reports whether every task id in t.DependsOn points to a
// task in status done or cancelled. The daemon uses this to gate worktree
// creation.
func (s *Store) AllDepsResolved(ctx context.Context, t Task) (bool, error) {
	for _, depID := range t.DependsOn {
		dep, err := s.GetTask(ctx, depID)
		if errors.Is(err, ErrNotFound) {
			// A dependency that no longer exists doesn't block forever.
			continue
		}
		if err != nil {
			return false, err
		}
		if dep.Status != StatusDone && dep.Status != StatusCancelled {
			return false, nil
		}
	}
	return true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
