package merge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/delegate-run/delegate/internal/gitutil"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/tasks"
)

// tempWorktree is a disposable rebase/squash worktree plus the temp
// branch it was created on.
type tempWorktree struct {
	path   string
	branch string
}

// shortUID generates a 12-hex-char id for a disposable merge worktree,
// the Go-side equivalent of uuid.uuid4().hex[:12].
func shortUID() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// createTempWorktree creates a disposable worktree + temp branch from
// sourceBranch, mirroring the feature branch's structure with
// _merge/<uid> inserted before its last segment.
func createTempWorktree(ctx context.Context, home, teamUUID string, taskID int, repoDir, sourceBranch string) (tempWorktree, error) {
	uid := shortUID()
	wtPath := paths.MergeWorktree(home, teamUUID, uid, taskID)
	tempBranch := paths.MergeTempBranch(sourceBranch, uid)

	if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
		return tempWorktree{}, fmt.Errorf("creating merge worktree parent: %w", err)
	}
	if err := gitutil.New(repoDir).WorktreeAdd(ctx, wtPath, tempBranch, sourceBranch); err != nil {
		return tempWorktree{}, fmt.Errorf("could not create merge worktree: %w", err)
	}
	return tempWorktree{path: wtPath, branch: tempBranch}, nil
}

// removeTempWorktree removes a disposable merge worktree and its branch,
// best-effort, then prunes empty parent directories under _merge/.
func removeTempWorktree(ctx context.Context, repoDir, wtPath, tempBranch string) {
	ex := gitutil.New(repoDir)
	if _, err := os.Stat(wtPath); err == nil {
		if err := ex.WorktreeRemove(ctx, wtPath); err != nil {
			log.Warn(log.CatMerge, "failed to remove merge worktree", "path", wtPath, "err", err)
		}
	}
	_ = ex.WorktreePrune(ctx)
	_ = ex.DeleteBranch(ctx, tempBranch)

	dir := filepath.Dir(wtPath)
	for filepath.Base(dir) != "_merge" {
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		if isEmptyDir(dir) {
			_ = os.Remove(dir)
		} else {
			return
		}
		dir = parent
	}
	if isEmptyDir(dir) {
		_ = os.Remove(dir)
	}
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}

// rebaseOntoMain rebases the temp worktree's current branch onto main,
// replaying only commits after baseSHA when one is known.
func rebaseOntoMain(ctx context.Context, wtDir, baseSHA string) (bool, string) {
	ex := gitutil.New(wtDir)
	var err error
	if baseSHA != "" {
		err = ex.RebaseOnto(ctx, "main", baseSHA)
	} else {
		err = ex.Rebase(ctx, "main")
	}
	if err != nil {
		_ = ex.RebaseAbort(ctx)
		return false, err.Error()
	}
	return true, ""
}

// squashReapply applies branch's total diff against main (main...branch,
// its net contribution since the merge-base) onto the fresh worktree at
// wtDir as a single commit, the fallback for a rebase that fails on an
// intermediate commit even though the combined diff still applies.
func squashReapply(ctx context.Context, repoDir, branch, wtDir string) (bool, string) {
	patch, err := gitutil.New(repoDir).DiffThreeDot(ctx, "main", branch)
	if err != nil {
		return false, fmt.Sprintf("could not compute diff: %v", err)
	}
	if strings.TrimSpace(patch) == "" {
		return true, "no changes to apply"
	}

	wt := gitutil.New(wtDir)
	if err := wt.ApplyPatch(ctx, patch); err != nil {
		return false, err.Error()
	}
	if err := wt.Commit(ctx, fmt.Sprintf("squash-reapply: apply %s onto main", branch), ""); err != nil {
		return false, fmt.Sprintf("commit after apply failed: %v", err)
	}
	return true, ""
}

// captureConflictHunks identifies files that changed on both main and
// branch since their merge-base, the overlap a true content conflict
// must live in, for a human-readable escalation message.
func captureConflictHunks(ctx context.Context, repoDir, branch, baseSHA string) string {
	ex := gitutil.New(repoDir)
	mbRef := baseSHA
	if mbRef == "" {
		mbRef = "main"
	}
	if mb, err := ex.MergeBase(ctx, "main", branch); err == nil {
		mbRef = mb
	}

	mainFiles, _ := ex.DiffNameOnly(ctx, mbRef, "main")
	branchFiles, _ := ex.DiffNameOnly(ctx, mbRef, branch)

	branchSet := make(map[string]bool, len(branchFiles))
	for _, f := range branchFiles {
		branchSet[f] = true
	}
	var overlap []string
	for _, f := range mainFiles {
		if branchSet[f] {
			overlap = append(overlap, f)
		}
	}
	sort.Strings(overlap)

	if len(overlap) == 0 {
		return "could not identify specific conflicting files."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conflicting files (%d):", len(overlap))
	shown := overlap
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, f := range shown {
		b.WriteString("\n  - " + f)
	}
	if len(overlap) > 10 {
		fmt.Fprintf(&b, "\n  ... and %d more files", len(overlap)-10)
	}
	return b.String()
}

// runPreMerge sources .delegate/setup.sh (if present) then
// .delegate/premerge.sh inside wtDir, propagating the test script's exit
// code. A missing premerge.sh is not a failure — the repo simply hasn't
// adopted the convention.
func runPreMerge(ctx context.Context, wtDir string) (bool, string) {
	setupScript := filepath.Join(wtDir, ".delegate", "setup.sh")
	testScript := filepath.Join(wtDir, ".delegate", "premerge.sh")

	setupExists := fileExists(setupScript)
	testExists := fileExists(testScript)

	if !setupExists {
		log.Warn(log.CatMerge, ".delegate/setup.sh not found, skipping env setup", "dir", wtDir)
	}
	if !testExists {
		log.Warn(log.CatMerge, ".delegate/premerge.sh not found, skipping pre-merge tests", "dir", wtDir)
		return true, ".delegate/premerge.sh not found — skipping pre-merge tests"
	}

	var parts []string
	if setupExists {
		parts = append(parts, ". ./.delegate/setup.sh")
	}
	parts = append(parts, ". ./.delegate/premerge.sh")
	shellCmd := strings.Join(parts, " && ")

	ctx, cancel := context.WithTimeout(ctx, 600*time.Second)
	defer cancel()

	//nolint:gosec // G204: shellCmd is built from fixed, repo-local script paths
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellCmd)
	cmd.Dir = wtDir
	cmd.Stdin = nil
	out, err := cmd.CombinedOutput()
	output := string(out)

	if err != nil {
		tail := tailLines(output, 50)
		return false, fmt.Sprintf(".delegate/premerge.sh failed: %v\n%s", err, tail)
	}
	return true, "pre-merge checks passed:\n" + output
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func tailLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// ffMergeToSHA fast-forwards main to tipSHA. With main checked out and
// clean, it uses `git merge --ff-only` so the user's working tree
// advances in lockstep; with main dirty it refuses; otherwise it moves
// the ref alone via a compare-and-swap update-ref.
func ffMergeToSHA(ctx context.Context, repoDir, tipSHA string) (bool, string) {
	ex := gitutil.New(repoDir)

	if !ex.CommitExists(ctx, tipSHA) {
		return false, fmt.Sprintf("commit not found: %s", tipSHA)
	}
	if !ex.MergeBaseIsAncestor(ctx, "main", tipSHA) {
		return false, fmt.Sprintf("fast-forward not possible: %s is not a descendant of main", short(tipSHA))
	}

	userBranch, _ := ex.CurrentBranch(ctx)

	if userBranch == "main" {
		dirty, err := ex.StatusPorcelain(ctx)
		if err != nil {
			return false, fmt.Sprintf("checking main status: %v", err)
		}
		if dirty != "" {
			return false, fmt.Sprintf("main repo has uncommitted changes on main — commit or stash them before merging.\nDirty files:\n%s", truncate(dirty, 500))
		}
		if err := ex.MergeFF(ctx, tipSHA); err != nil {
			return false, fmt.Sprintf("fast-forward merge failed: %v", err)
		}
		return true, fmt.Sprintf("main fast-forwarded to %s (working tree updated)", short(tipSHA))
	}

	mainTip, err := ex.RevParse(ctx, "main")
	if err != nil {
		return false, fmt.Sprintf("could not resolve main: %v", err)
	}
	if err := ex.UpdateRefCAS(ctx, "refs/heads/main", tipSHA, mainTip); err != nil {
		return false, fmt.Sprintf("atomic update-ref failed (concurrent push?): %v", err)
	}
	return true, fmt.Sprintf("main fast-forwarded to %s (ref-only, user on %s)", short(tipSHA), userBranch)
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// resetAgentWorktree moves the agent's feature worktree to rebasedTip.
// A missing worktree (tests that exercise task state without setting up
// a real worktree) is not an error — there is nothing to reset.
func resetAgentWorktree(ctx context.Context, agentWT, rebasedTip string) error {
	if !fileExists(agentWT) {
		return nil
	}
	return gitutil.New(agentWT).ResetHard(ctx, rebasedTip)
}

// cleanupAfterMerge removes the feature branch and agent worktree once
// no other task still shares branch in a non-done status; the merge
// worktrees themselves are already gone by the time this runs.
func (m *Merger) cleanupAfterMerge(ctx context.Context, task tasks.Task, branch string, repos []string, repoDirs map[string]string) {
	if m.otherUnmergedTasksOnBranch(ctx, task, branch) {
		log.Info(log.CatMerge, "skipping branch deletion, other unmerged tasks share it",
			"task", paths.FormatTaskID(int(task.ID)), "branch", branch)
		return
	}

	for _, repoName := range repos {
		repoDir := repoDirs[repoName]
		if err := gitutil.RemoveTaskWorktree(ctx, m.Home, task.TeamUUID, repoName, int(task.ID)); err != nil {
			log.Warn(log.CatMerge, "could not remove agent worktree", "task", task.ID, "repo", repoName, "err", err)
		}
		ex := gitutil.New(repoDir)
		_ = ex.WorktreePrune(ctx)
		if err := ex.DeleteBranch(ctx, branch); err != nil {
			log.Warn(log.CatMerge, "failed to delete feature branch", "branch", branch, "repo", repoName, "err", err)
		}
	}
}

// nonTerminalStatuses enumerates every status other than "done" that a
// sibling task sharing the same branch might still be in — there is no
// single "list every task for a team" query, so otherUnmergedTasksOnBranch
// scans each status in turn.
var nonTerminalStatuses = []tasks.Status{
	tasks.StatusTodo, tasks.StatusInProgress, tasks.StatusInReview,
	tasks.StatusInApproval, tasks.StatusMerging, tasks.StatusMergeFailed,
	tasks.StatusRejected, tasks.StatusError, tasks.StatusCancelled,
}

func (m *Merger) otherUnmergedTasksOnBranch(ctx context.Context, task tasks.Task, branch string) bool {
	for _, status := range nonTerminalStatuses {
		siblings, err := m.Tasks.ListByTeamAndStatus(ctx, task.TeamUUID, status)
		if err != nil {
			continue
		}
		for _, t := range siblings {
			if t.ID == task.ID {
				continue
			}
			if t.Branch == branch {
				return true
			}
		}
	}
	return false
}
