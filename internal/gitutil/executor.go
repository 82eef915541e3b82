// Package gitutil wraps the git CLI: repo registration by symlink, the
// task-worktree lifecycle, and the plumbing primitives the merge worker
// and reviewer-edit flow share (fast-forward with compare-and-swap,
// disposable rebase/squash worktrees).
package gitutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/delegate-run/delegate/internal/log"
)

// Git-specific errors, surfaced so callers (the merge worker especially)
// can distinguish expected failure modes from unexpected ones.
var (
	ErrBranchAlreadyCheckedOut = errors.New("gitutil: branch already checked out in another worktree")
	ErrPathAlreadyExists       = errors.New("gitutil: worktree path already exists")
	ErrNotGitRepo              = errors.New("gitutil: not a git repository")
	ErrRefChanged              = errors.New("gitutil: ref changed since last read (compare-and-swap failed)")
)

// cmdTimeout bounds any single git invocation; the merge worker runs many
// of these per attempt and must not hang on a wedged process.
const cmdTimeout = 30 * time.Second

// Executor runs git commands against a fixed repository directory.
type Executor struct {
	dir string
}

// New returns an Executor rooted at dir (a real repo, or a worktree
// within one).
func New(dir string) *Executor {
	return &Executor{dir: dir}
}

// Dir returns the executor's working directory.
func (e *Executor) Dir() string { return e.dir }

func (e *Executor) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	//nolint:gosec // G204: args are built from internal callers, never raw user input
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseGitError(stderrStr, args, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func parseGitError(stderr string, args []string, cause error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "already checked out"):
		return fmt.Errorf("%w: %s", ErrBranchAlreadyCheckedOut, stderr)
	case strings.Contains(lower, "already exists"):
		return fmt.Errorf("%w: %s", ErrPathAlreadyExists, stderr)
	case strings.Contains(lower, "not a git repository"):
		return fmt.Errorf("%w: %s", ErrNotGitRepo, stderr)
	default:
		return fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), stderr, cause)
	}
}

// RevParse resolves ref to its full SHA.
func (e *Executor) RevParse(ctx context.Context, ref string) (string, error) {
	return e.run(ctx, "rev-parse", ref)
}

// Fetch fetches from all remotes, best-effort: a repo with no remote (or
// no network) is not an error, matching create_task_worktree's
// best-effort fetch.
func (e *Executor) Fetch(ctx context.Context) {
	if _, err := e.run(ctx, "fetch", "--all"); err != nil {
		log.Warn(log.CatGit, "fetch failed, continuing offline", "dir", e.dir, "error", err)
	}
}

// WorktreeAdd creates a worktree at path on a new branch starting from
// startPoint.
func (e *Executor) WorktreeAdd(ctx context.Context, path, branch, startPoint string) error {
	_, err := e.run(ctx, "worktree", "add", path, "-b", branch, startPoint)
	return err
}

// WorktreeRemove removes a worktree, forcing if the plain remove is
// rejected (dirty working tree, detached lock, etc).
func (e *Executor) WorktreeRemove(ctx context.Context, path string) error {
	if _, err := e.run(ctx, "worktree", "remove", path); err != nil {
		_, err = e.run(ctx, "worktree", "remove", "--force", path)
		return err
	}
	return nil
}

// WorktreePrune removes stale worktree administrative files.
func (e *Executor) WorktreePrune(ctx context.Context) error {
	_, err := e.run(ctx, "worktree", "prune")
	return err
}

// BranchExists reports whether a local branch exists.
func (e *Executor) BranchExists(ctx context.Context, name string) bool {
	_, err := e.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// DeleteBranch force-deletes a local branch.
func (e *Executor) DeleteBranch(ctx context.Context, name string) error {
	_, err := e.run(ctx, "branch", "-D", name)
	return err
}

// UpdateRefCAS atomically advances ref to newSHA only if it currently
// points at oldSHA, using `git update-ref <ref> <new> <old>`'s built-in
// compare-and-swap. Returns ErrRefChanged if the ref moved underneath the
// caller (another merge attempt landed first).
func (e *Executor) UpdateRefCAS(ctx context.Context, ref, newSHA, oldSHA string) error {
	_, err := e.run(ctx, "update-ref", ref, newSHA, oldSHA)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRefChanged, err)
	}
	return nil
}

// Checkout switches the executor's worktree to ref.
func (e *Executor) Checkout(ctx context.Context, ref string) error {
	_, err := e.run(ctx, "checkout", ref)
	return err
}

// CheckoutNewBranch creates and switches to a new branch starting at
// startPoint.
func (e *Executor) CheckoutNewBranch(ctx context.Context, branch, startPoint string) error {
	_, err := e.run(ctx, "checkout", "-b", branch, startPoint)
	return err
}

// Rebase rebases the current branch onto onto.
func (e *Executor) Rebase(ctx context.Context, onto string) error {
	_, err := e.run(ctx, "rebase", onto)
	return err
}

// RebaseOnto replays only the commits after base onto upstream
// (`git rebase --onto <upstream> <base>`), used when a task's
// base_sha is known so an already-rebased prefix is never replayed.
func (e *Executor) RebaseOnto(ctx context.Context, upstream, base string) error {
	_, err := e.run(ctx, "rebase", "--onto", upstream, base)
	return err
}

// RebaseAbort aborts an in-progress rebase.
func (e *Executor) RebaseAbort(ctx context.Context) error {
	_, err := e.run(ctx, "rebase", "--abort")
	return err
}

// MergeFF fast-forwards the current branch to ref, failing if a
// fast-forward isn't possible.
func (e *Executor) MergeFF(ctx context.Context, ref string) error {
	_, err := e.run(ctx, "merge", "--ff-only", ref)
	return err
}

// ResetHard resets the current branch to ref, discarding local changes.
func (e *Executor) ResetHard(ctx context.Context, ref string) error {
	_, err := e.run(ctx, "reset", "--hard", ref)
	return err
}

// CommitAllowEmpty creates a commit with message on behalf of author,
// allowing an empty tree (used by the squash-reapply step, which may
// reduce several commits to a no-op diff).
func (e *Executor) CommitAllowEmpty(ctx context.Context, message, author string) error {
	args := []string{"commit", "--allow-empty", "-m", message}
	if author != "" {
		args = append(args, "--author", author)
	}
	_, err := e.run(ctx, args...)
	return err
}

// Commit creates a commit with message on behalf of author over whatever
// is already staged, without touching the index first — used after
// `git apply --index` has already staged the patch's changes.
func (e *Executor) Commit(ctx context.Context, message, author string) error {
	args := []string{"commit", "-m", message}
	if author != "" {
		args = append(args, "--author", author)
	}
	_, err := e.run(ctx, args...)
	return err
}

// CommitAll stages all working-tree changes and commits them.
func (e *Executor) CommitAll(ctx context.Context, message, author string) error {
	if _, err := e.run(ctx, "add", "-A"); err != nil {
		return err
	}
	args := []string{"commit", "-m", message}
	if author != "" {
		args = append(args, "--author", author)
	}
	_, err := e.run(ctx, args...)
	return err
}

// ApplyPatch applies patch to the index and working tree with a 3-way
// merge fallback, the git-level primitive behind the merge worker's
// squash-reapply attempt.
func (e *Executor) ApplyPatch(ctx context.Context, patch string) error {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	//nolint:gosec // G204: args are fixed, patch travels over stdin
	cmd := exec.CommandContext(ctx, "git", "apply", "--index", "--3way")
	cmd.Dir = e.dir
	cmd.Stdin = strings.NewReader(patch)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git apply: %s: %w", strings.TrimSpace(stderr.String()+stdout.String()), err)
	}
	return nil
}

// MergeBase returns the merge base of a and b.
func (e *Executor) MergeBase(ctx context.Context, a, b string) (string, error) {
	return e.run(ctx, "merge-base", a, b)
}

// MergeBaseIsAncestor reports whether ancestor is an ancestor of
// descendant (the fast-forward-possible check).
func (e *Executor) MergeBaseIsAncestor(ctx context.Context, ancestor, descendant string) bool {
	_, err := e.run(ctx, "merge-base", "--is-ancestor", ancestor, descendant)
	return err == nil
}

// CurrentBranch returns the name the worktree currently has checked out
// ("HEAD" if detached).
func (e *Executor) CurrentBranch(ctx context.Context) (string, error) {
	return e.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// CommitExists reports whether sha names an object reachable in this repo.
func (e *Executor) CommitExists(ctx context.Context, sha string) bool {
	_, err := e.run(ctx, "cat-file", "-e", sha)
	return err == nil
}

// DiffNameOnly returns the paths changed between from and to.
func (e *Executor) DiffNameOnly(ctx context.Context, from, to string) ([]string, error) {
	out, err := e.run(ctx, "diff", "--name-only", from+".."+to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// StatusPorcelain returns the raw `git status --porcelain` output, used
// both to decide whether a worktree is dirty and to report which files
// are dirty in a failure message.
func (e *Executor) StatusPorcelain(ctx context.Context) (string, error) {
	return e.run(ctx, "status", "--porcelain")
}

// Push pushes branch to remote.
func (e *Executor) Push(ctx context.Context, remote, branch string) error {
	_, err := e.run(ctx, "push", remote, branch)
	return err
}

// Diff returns the unified diff between two refs.
func (e *Executor) Diff(ctx context.Context, from, to string) (string, error) {
	return e.run(ctx, "diff", from+".."+to)
}

// DiffThreeDot returns the unified diff of what changed on to since its
// merge-base with from (from...to) — a branch's net contribution, as
// opposed to Diff's plain two-dot comparison.
func (e *Executor) DiffThreeDot(ctx context.Context, from, to string) (string, error) {
	return e.run(ctx, "diff", from+"..."+to)
}

// DiffNumstat returns the --numstat summary between two refs.
func (e *Executor) DiffNumstat(ctx context.Context, from, to string) (string, error) {
	return e.run(ctx, "diff", "--numstat", from+".."+to)
}

// HasUncommittedChanges reports whether the worktree has a dirty status.
func (e *Executor) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := e.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// MainBranch detects the repo's default branch: config, then remote
// HEAD, then main/master existence, finally falling back to "main".
func (e *Executor) MainBranch(ctx context.Context) string {
	if b, err := e.run(ctx, "config", "init.defaultBranch"); err == nil && b != "" {
		return b
	}
	if ref, err := e.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD"); err == nil {
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			return parts[len(parts)-1]
		}
	}
	if _, err := e.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/main"); err == nil {
		return "main"
	}
	if _, err := e.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/master"); err == nil {
		return "master"
	}
	return "main"
}
