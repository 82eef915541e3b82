// Package merge rebases, tests, and fast-forward merges approved tasks
// into main. Grounded on the rebase/squash-reapply/fast-forward sequence
// merge_task and the retry/escalation routing in merge_once: a disposable
// worktree absorbs the rebase risk, the agent's own worktree is only
// touched once a clean tip exists, and main's working tree is only ever
// advanced by a user who already has it checked out cleanly.
package merge

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/delegate-run/delegate/internal/agentstate"
	"github.com/delegate-run/delegate/internal/exchange"
	"github.com/delegate-run/delegate/internal/gitutil"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/review"
	"github.com/delegate-run/delegate/internal/tasks"
)

var tracer = otel.Tracer("delegate-daemon")

// MaxMergeAttempts is how many times a retryable failure is silently
// retried before escalating to the manager.
const MaxMergeAttempts = 3

// worktreeRetryBase/Jitter parameterize the exponential backoff applied
// between WORKTREE_ERROR retries: ~5s, ~15s, ~45s, each ±30%.
const (
	worktreeRetryBase   = 5.0
	worktreeRetryJitter = 0.3
)

func worktreeRetryDelay(attempt int) time.Duration {
	base := worktreeRetryBase
	for i := 1; i < attempt; i++ {
		base *= 3
	}
	jitter := base * worktreeRetryJitter * (2*rand.Float64() - 1)
	d := base + jitter
	if d < 5.0 {
		d = 5.0
	}
	return time.Duration(d * float64(time.Second))
}

// FailureReason is a structured reason for a merge attempt's failure,
// carrying both a human message and whether merge_once should retry it.
type FailureReason int

const (
	// ReasonNone means the attempt succeeded.
	ReasonNone FailureReason = iota
	ReasonRebaseConflict
	ReasonSquashConflict
	ReasonPreMergeFailed
	ReasonWorktreeError
	ReasonDirtyMain
	ReasonFFNotPossible
	ReasonUpdateRefFailed
)

// ShortMessage is the reason's human-readable label, shown to the
// manager on escalation.
func (r FailureReason) ShortMessage() string {
	switch r {
	case ReasonRebaseConflict:
		return "Rebase conflict"
	case ReasonSquashConflict:
		return "True content conflict"
	case ReasonPreMergeFailed:
		return "Pre-merge checks failed"
	case ReasonWorktreeError:
		return "Could not create merge worktree"
	case ReasonDirtyMain:
		return "main has uncommitted changes"
	case ReasonFFNotPossible:
		return "Fast-forward not possible"
	case ReasonUpdateRefFailed:
		return "Atomic ref update failed"
	default:
		return "unknown"
	}
}

// Retryable reports whether merge_once should silently retry this
// failure (up to MaxMergeAttempts) rather than escalate immediately.
func (r FailureReason) Retryable() bool {
	switch r {
	case ReasonWorktreeError, ReasonDirtyMain, ReasonFFNotPossible, ReasonUpdateRefFailed:
		return true
	default:
		return false
	}
}

// Result is the outcome of one merge attempt.
type Result struct {
	TaskID          int64
	Success         bool
	Message         string
	Reason          FailureReason
	ConflictContext string
}

// Retryable mirrors Reason.Retryable, defaulting to false on success.
func (r Result) Retryable() bool {
	return !r.Success && r.Reason.Retryable()
}

func ok(taskID int64, message string) Result {
	return Result{TaskID: taskID, Success: true, Message: message}
}

func fail(taskID int64, reason FailureReason, message string) Result {
	return Result{TaskID: taskID, Success: false, Reason: reason, Message: message}
}

// ApprovalResolver answers whether a repo merges automatically on
// approval or needs a human-approved review verdict first. The daemon
// supplies its *config.Config, whose RepoApproval reads the team's
// approval_mode.
type ApprovalResolver interface {
	RepoApproval(team, repo string) string // "auto" or "manual"
}

// Merger runs merge attempts for one daemon's worth of teams. A single
// Merger is shared by every team the daemon knows about, same as Runner
// in internal/turnrun.
type Merger struct {
	Home     string
	Tasks    *tasks.Store
	Reviews  *review.Store
	Mailbox  *mailbox.Box
	Exchange *exchange.Exchange
	Approval ApprovalResolver
}

// New builds a Merger.
func New(home string, ts *tasks.Store, rv *review.Store, mb *mailbox.Box, ex *exchange.Exchange, approval ApprovalResolver) *Merger {
	return &Merger{Home: home, Tasks: ts, Reviews: rv, Mailbox: mb, Exchange: ex, Approval: approval}
}

// resolveManager scans a team's agents for one with role "manager",
// falling back to "delegate" — the same fallback turnrun.resolveManager
// applies, duplicated here the way the original kept a private
// _get_manager_name wrapper in merge.py alongside runtime.py's own
// lookup rather than sharing one helper across modules.
func resolveManager(home, teamUUID string) string {
	agentsDir := filepath.Join(paths.TeamDir(home, teamUUID), "agents")
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		return "delegate"
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		st, err := agentstate.Read(home, teamUUID, e.Name())
		if err != nil {
			continue
		}
		if st.Role == "manager" {
			return e.Name()
		}
	}
	return "delegate"
}

// MergeTask runs the full merge sequence for a task: rebase every repo
// in a disposable worktree, reset the agent worktrees under the
// per-task lock, run pre-merge tests, then fast-forward main. On success
// it marks the task done and cleans up its branch and worktrees; on
// failure it leaves the task's status and assignee alone — routing a
// failure is MergeOnce's job, via handleFailure.
func (m *Merger) MergeTask(ctx context.Context, taskID int64, skipTests bool) Result {
	ctx, span := tracer.Start(ctx, "merge_task", trace.WithAttributes(
		attribute.Int64("delegate.task_id", taskID),
	))
	defer span.End()

	result := m.mergeTask(ctx, taskID, skipTests)
	if !result.Success {
		span.SetStatus(codes.Error, result.Reason.ShortMessage())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return result
}

func (m *Merger) mergeTask(ctx context.Context, taskID int64, skipTests bool) Result {
	task, err := m.Tasks.GetTask(ctx, taskID)
	if err != nil {
		return fail(taskID, ReasonWorktreeError, fmt.Sprintf("loading task: %v", err))
	}

	branch := task.Branch
	repos := task.Repo
	if branch == "" {
		return fail(taskID, ReasonWorktreeError, "no branch set on task")
	}
	if len(repos) == 0 {
		return fail(taskID, ReasonWorktreeError, "no repo set on task")
	}

	repoDirs := make(map[string]string, len(repos))
	for _, repoName := range repos {
		dir, err := gitutil.RepoDir(m.Home, task.TeamUUID, repoName)
		if err != nil {
			return fail(taskID, ReasonWorktreeError, fmt.Sprintf("repo not found: %s: %v", repoName, err))
		}
		repoDirs[repoName] = dir
	}

	attemptNum := task.MergeAttempts + 1
	log.Info(log.CatMerge, "merge started", "task", paths.FormatTaskID(int(taskID)), "branch", branch, "attempt", attemptNum)

	// Phase 1: rebase (or squash-reapply) every repo in a disposable
	// worktree. All-or-nothing: a failure here never touches an agent
	// worktree.
	temp := map[string]tempWorktree{}
	defer func() {
		for repoName, tw := range temp {
			removeTempWorktree(ctx, repoDirs[repoName], tw.path, tw.branch)
		}
	}()

	rebasedTips := map[string]string{}
	for _, repoName := range repos {
		repoDir := repoDirs[repoName]
		baseSHA := task.BaseSHA[repoName]

		tw, err := createTempWorktree(ctx, m.Home, task.TeamUUID, int(taskID), repoDir, branch)
		if err != nil {
			return fail(taskID, ReasonWorktreeError, err.Error())
		}
		temp[repoName] = tw

		rebaseOK, rebaseOut := rebaseOntoMain(ctx, tw.path, baseSHA)
		if !rebaseOK {
			removeTempWorktree(ctx, repoDir, tw.path, tw.branch)
			delete(temp, repoName)

			log.Info(log.CatMerge, "rebase conflict, trying squash-reapply",
				"task", paths.FormatTaskID(int(taskID)), "repo", repoName, "detail", rebaseOut)

			squashUID := shortUID()
			squashPath := paths.MergeWorktree(m.Home, task.TeamUUID, squashUID, int(taskID))
			squashBranch := paths.SquashTempBranch(squashUID, int(taskID))

			if err := gitutil.New(repoDir).WorktreeAdd(ctx, squashPath, squashBranch, "main"); err != nil {
				return fail(taskID, ReasonRebaseConflict,
					fmt.Sprintf("rebase conflict in %s and could not create squash worktree: %v", repoName, err))
			}

			squashOK, squashOut := squashReapply(ctx, repoDir, branch, squashPath)
			if !squashOK {
				removeTempWorktree(ctx, repoDir, squashPath, squashBranch)
				return Result{
					TaskID:          taskID,
					Success:         false,
					Reason:          ReasonSquashConflict,
					Message:         fmt.Sprintf("true content conflict in %s: %s", repoName, truncate(squashOut, 200)),
					ConflictContext: captureConflictHunks(ctx, repoDir, branch, baseSHA),
				}
			}

			log.Info(log.CatMerge, "squash-reapply succeeded", "task", paths.FormatTaskID(int(taskID)), "repo", repoName)
			tw = tempWorktree{path: squashPath, branch: squashBranch}
			temp[repoName] = tw
		}

		tip, err := gitutil.New(tw.path).RevParse(ctx, "HEAD")
		if err != nil {
			return fail(taskID, ReasonWorktreeError, fmt.Sprintf("determining rebased tip in %s: %v", repoName, err))
		}
		rebasedTips[repoName] = tip
	}

	// Phase 2: reset every agent worktree to its rebased tip, under the
	// per-task worktree lock.
	mainHeads := map[string]string{}
	for _, repoName := range repos {
		head, err := gitutil.New(repoDirs[repoName]).RevParse(ctx, "main")
		if err == nil {
			mainHeads[repoName] = head
		}
	}

	lock, err := m.Exchange.AcquireWorktreeLock(ctx, task.Team, int(taskID), exchange.DefaultWorktreeLockTimeout)
	if err != nil {
		return fail(taskID, ReasonWorktreeError, fmt.Sprintf("could not acquire worktree lock: %v", err))
	}
	resetErr := m.resetAllAgentWorktrees(ctx, task, repos, rebasedTips)
	lock.Release()
	if resetErr != nil {
		return fail(taskID, ReasonWorktreeError, resetErr.Error())
	}

	if err := m.Tasks.UpdateTask(ctx, taskID, tasks.UpdateFields{BaseSHA: mainHeads}); err != nil {
		log.Error(log.CatMerge, "updating base_sha", "task", taskID, "err", err)
	}

	for repoName, tw := range temp {
		removeTempWorktree(ctx, repoDirs[repoName], tw.path, tw.branch)
		delete(temp, repoName)
	}

	// Phase 3: pre-merge tests in the agent worktree.
	if !skipTests {
		for _, repoName := range repos {
			agentWT := paths.TaskWorktree(m.Home, task.TeamUUID, repoName, int(taskID))
			testOK, output := runPreMerge(ctx, agentWT)
			if !testOK {
				return fail(taskID, ReasonPreMergeFailed,
					fmt.Sprintf("pre-merge checks failed in %s: %s", repoName, truncate(output, 200)))
			}
		}
	}

	// Phase 4: fast-forward main to each repo's rebased tip.
	mergeBase := map[string]string{}
	mergeTip := map[string]string{}
	for _, repoName := range repos {
		repoDir := repoDirs[repoName]
		tip := rebasedTips[repoName]

		if pre, err := gitutil.New(repoDir).RevParse(ctx, "main"); err == nil {
			mergeBase[repoName] = pre
		}

		ffOK, output := ffMergeToSHA(ctx, repoDir, tip)
		if !ffOK {
			return Result{TaskID: taskID, Success: false, Reason: classifyFFFailure(output),
				Message: fmt.Sprintf("merge failed in %s: %s", repoName, truncate(output, 200))}
		}

		if post, err := gitutil.New(repoDir).RevParse(ctx, "main"); err == nil {
			mergeTip[repoName] = post
		}
	}

	if err := m.Tasks.UpdateTask(ctx, taskID, tasks.UpdateFields{MergeBase: mergeBase, MergeTip: mergeTip}); err != nil {
		log.Error(log.CatMerge, "recording merge_base/merge_tip", "task", taskID, "err", err)
	}
	if err := m.Tasks.ChangeStatus(ctx, taskID, tasks.StatusDone, nil); err != nil {
		log.Error(log.CatMerge, "marking task done", "task", taskID, "err", err)
	}
	log.Info(log.CatMerge, "merged to main", "task", paths.FormatTaskID(int(taskID)))

	m.cleanupAfterMerge(ctx, task, branch, repos, repoDirs)
	m.Exchange.DiscardWorktreeLock(task.Team, int(taskID))

	return ok(taskID, "merged successfully")
}

func (m *Merger) resetAllAgentWorktrees(ctx context.Context, task tasks.Task, repos []string, rebasedTips map[string]string) error {
	type rollback struct {
		repo    string
		oldHead string
	}
	var done []rollback

	for _, repoName := range repos {
		rebasedTip := rebasedTips[repoName]
		agentWT := paths.TaskWorktree(m.Home, task.TeamUUID, repoName, int(task.ID))

		oldHead, _ := gitutil.New(agentWT).RevParse(ctx, "HEAD")

		if err := resetAgentWorktree(ctx, agentWT, rebasedTip); err != nil {
			for _, rb := range done {
				if rb.oldHead != "" {
					_ = resetAgentWorktree(ctx, paths.TaskWorktree(m.Home, task.TeamUUID, rb.repo, int(task.ID)), rb.oldHead)
				}
			}
			return fmt.Errorf("agent worktree reset failed in %s: %w", repoName, err)
		}
		done = append(done, rollback{repo: repoName, oldHead: oldHead})
	}
	return nil
}

func classifyFFFailure(output string) FailureReason {
	switch {
	case containsFold(output, "uncommitted"):
		return ReasonDirtyMain
	case containsFold(output, "not a descendant"), containsFold(output, "not possible"):
		return ReasonFFNotPossible
	case containsFold(output, "update-ref failed"), containsFold(output, "concurrent"):
		return ReasonUpdateRefFailed
	default:
		return ReasonFFNotPossible
	}
}

// handleFailure routes a failed MergeTask result: retryable failures
// stay in "merging" (counting attempts, with exponential backoff for
// WORKTREE_ERROR) up to MaxMergeAttempts; everything else — including a
// retryable failure that has exhausted its attempts — escalates to the
// manager via a mailbox notification and a transition to merge_failed.
func (m *Merger) handleFailure(ctx context.Context, task tasks.Task, result Result) {
	reason := result.Reason
	if reason == ReasonNone {
		reason = ReasonWorktreeError
	}
	detail := reason.ShortMessage()
	manager := resolveManager(m.Home, task.TeamUUID)

	if reason.Retryable() {
		attempts := task.MergeAttempts + 1
		fields := tasks.UpdateFields{MergeAttempts: &attempts, StatusDetail: &detail}

		if attempts < MaxMergeAttempts {
			if reason == ReasonWorktreeError {
				retryAt := time.Now().Add(worktreeRetryDelay(attempts)).Unix()
				fields.RetryAfter = &retryAt
				log.Info(log.CatMerge, "worktree error, scheduling retry",
					"task", task.ID, "attempt", attempts, "max", MaxMergeAttempts)
			} else {
				log.Info(log.CatMerge, "retryable failure, will retry",
					"task", task.ID, "reason", reason.ShortMessage(), "attempt", attempts, "max", MaxMergeAttempts)
			}
			if err := m.Tasks.UpdateTask(ctx, task.ID, fields); err != nil {
				log.Error(log.CatMerge, "recording retry state", "task", task.ID, "err", err)
			}
			return
		}

		if err := m.Tasks.UpdateTask(ctx, task.ID, fields); err != nil {
			log.Error(log.CatMerge, "recording exhausted retries", "task", task.ID, "err", err)
		}
		log.Warn(log.CatMerge, "retryable failure but max attempts reached, escalating",
			"task", task.ID, "reason", reason.ShortMessage(), "max", MaxMergeAttempts)
	}

	if err := m.Tasks.UpdateTask(ctx, task.ID, tasks.UpdateFields{StatusDetail: &detail}); err != nil {
		log.Error(log.CatMerge, "recording failure detail", "task", task.ID, "err", err)
	}
	if err := m.Tasks.TransitionTask(ctx, task.ID, tasks.StatusMergeFailed, manager, nil); err != nil {
		log.Error(log.CatMerge, "transitioning to merge_failed", "task", task.ID, "err", err)
	}

	body := fmt.Sprintf("%s: %s", detail, truncate(result.Message, 500))
	if result.ConflictContext != "" {
		body += "\n\n" + result.ConflictContext
	}
	if _, err := m.Mailbox.SendEvent(ctx, task.Team, "delegate", manager, body, &task.ID); err != nil {
		log.Error(log.CatMerge, "notifying manager of merge failure", "task", task.ID, "err", err)
	}
}

// MergeOnce scans a team for tasks ready to merge: newly in_approval
// tasks whose approval policy is satisfied, plus merging tasks left
// behind by a prior retryable failure whose retry_after has elapsed.
func (m *Merger) MergeOnce(ctx context.Context, teamUUID string) ([]Result, error) {
	var results []Result
	processed := map[int64]bool{}

	approved, err := m.Tasks.ListByTeamAndStatus(ctx, teamUUID, tasks.StatusInApproval)
	if err != nil {
		return nil, fmt.Errorf("listing in_approval tasks: %w", err)
	}
	for _, task := range approved {
		if len(task.Repo) == 0 {
			continue
		}
		if !m.approvalReady(ctx, task) {
			continue
		}

		manager := resolveManager(m.Home, task.TeamUUID)
		if err := m.Tasks.TransitionTask(ctx, task.ID, tasks.StatusMerging, manager, nil); err != nil {
			log.Error(log.CatMerge, "transitioning to merging", "task", task.ID, "err", err)
			continue
		}

		result := m.MergeTask(ctx, task.ID, false)
		results = append(results, result)
		processed[task.ID] = true
		if !result.Success {
			m.handleFailure(ctx, task, result)
		}
	}

	merging, err := m.Tasks.ListByTeamAndStatus(ctx, teamUUID, tasks.StatusMerging)
	if err != nil {
		return nil, fmt.Errorf("listing merging tasks: %w", err)
	}
	for _, task := range merging {
		if processed[task.ID] {
			continue
		}
		if task.RetryAfter != nil && time.Now().Unix() < *task.RetryAfter {
			continue
		}
		if task.RetryAfter != nil {
			if err := m.Tasks.UpdateTask(ctx, task.ID, tasks.UpdateFields{RetryAfter: clearedRetryAfter()}); err != nil {
				log.Error(log.CatMerge, "clearing stale retry_after", "task", task.ID, "err", err)
			}
		}

		log.Info(log.CatMerge, "retrying merge", "task", paths.FormatTaskID(int(task.ID)), "attempt", task.MergeAttempts+1, "max", MaxMergeAttempts)
		result := m.MergeTask(ctx, task.ID, false)
		results = append(results, result)
		if !result.Success {
			m.handleFailure(ctx, task, result)
		}
	}

	return results, nil
}

func (m *Merger) approvalReady(ctx context.Context, task tasks.Task) bool {
	mode := m.Approval.RepoApproval(task.Team, task.Repo[0])
	switch mode {
	case "auto":
		return true
	case "manual":
		rv, err := m.Reviews.GetCurrentReview(ctx, task.ID)
		if err != nil {
			return false
		}
		return rv.Verdict == review.VerdictApproved
	default:
		log.Warn(log.CatMerge, "unknown approval mode", "task", task.ID, "mode", mode)
		return false
	}
}

// clearedRetryAfter points at 0: UpdateFields has no way to set a column
// to NULL, so a cleared retry_after is represented as epoch 0 instead —
// "now < 0" is never true, so the retry gate behaves as if unset, the
// same way the original's falsy retry_after=0 behaves in its own check.
func clearedRetryAfter() *int64 {
	var zero int64
	return &zero
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
