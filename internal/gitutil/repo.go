package gitutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
)

// ErrRemoteNotSupported is returned by RegisterRepo for a source that
// looks like a remote URL rather than a local path.
var ErrRemoteNotSupported = errors.New("gitutil: remote URLs are not supported, only local paths with .git/")

func looksLikeRemote(source string) bool {
	for _, prefix := range []string{"http://", "https://", "git@", "ssh://"} {
		if len(source) >= len(prefix) && source[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// RegisterRepo symlinks home's team repo directory to source, the real
// repository root on disk. No clone is ever made; only local repos with
// a .git directory are supported, mirroring the core's no-clone,
// local-refs-only design.
func RegisterRepo(home, teamUUID, repoName, source string) error {
	if looksLikeRemote(source) {
		return fmt.Errorf("%w: %s", ErrRemoteNotSupported, source)
	}

	sourcePath, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("resolving repo source %q: %w", source, err)
	}
	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("repo path not found: %s", sourcePath)
	}
	if _, err := os.Stat(filepath.Join(sourcePath, ".git")); err != nil {
		return fmt.Errorf("no .git directory at %s: only local git repositories are supported", sourcePath)
	}

	linkPath := paths.RepoLink(home, teamUUID, repoName)
	if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
		return fmt.Errorf("creating repos directory: %w", err)
	}

	if target, err := os.Readlink(linkPath); err == nil {
		if target == sourcePath {
			log.Info(log.CatGit, "repo already registered", "repo", repoName, "source", sourcePath)
			return nil
		}
		if err := os.Remove(linkPath); err != nil {
			return fmt.Errorf("replacing stale repo symlink: %w", err)
		}
	}

	if err := os.Symlink(sourcePath, linkPath); err != nil {
		return fmt.Errorf("symlinking repo %q: %w", repoName, err)
	}
	log.Info(log.CatGit, "repo registered", "repo", repoName, "source", sourcePath)
	return nil
}

// RepoDir resolves a registered repo's real directory (the symlink
// target), following the symlink created by RegisterRepo.
func RepoDir(home, teamUUID, repoName string) (string, error) {
	link := paths.RepoLink(home, teamUUID, repoName)
	real, err := filepath.EvalSymlinks(link)
	if err != nil {
		return "", fmt.Errorf("repo %q is not registered: %w", repoName, err)
	}
	return real, nil
}

// CreateTaskWorktree creates (or reuses) the shared worktree for a
// task+repo pair: fetches best-effort, records the current main HEAD as
// baseSHA, and runs `git worktree add <path> -b <branch> main`. If the
// worktree already exists, it is reused and baseSHA is recomputed so
// callers can backfill tasks.base_sha.
func CreateTaskWorktree(ctx context.Context, home, teamUUID, repoName string, taskID int, branch string) (path, baseSHA string, err error) {
	repoDir, err := RepoDir(home, teamUUID, repoName)
	if err != nil {
		return "", "", err
	}
	exec := New(repoDir)

	wtPath := paths.TaskWorktree(home, teamUUID, repoName, taskID)
	if _, statErr := os.Stat(wtPath); statErr == nil {
		sha, shaErr := New(wtPath).RevParse(ctx, "HEAD")
		if shaErr != nil {
			sha = ""
		}
		log.Info(log.CatGit, "task worktree already exists", "path", wtPath)
		return wtPath, sha, nil
	}

	if err := os.MkdirAll(filepath.Dir(wtPath), 0o755); err != nil {
		return "", "", fmt.Errorf("creating worktree parent: %w", err)
	}

	exec.Fetch(ctx)

	mainBranch := exec.MainBranch(ctx)
	sha, err := exec.RevParse(ctx, mainBranch)
	if err != nil {
		return "", "", fmt.Errorf("resolving %s HEAD: %w", mainBranch, err)
	}

	_ = exec.WorktreePrune(ctx)

	if err := exec.WorktreeAdd(ctx, wtPath, branch, mainBranch); err != nil {
		return "", "", fmt.Errorf("creating task worktree: %w", err)
	}

	if err := GenerateEnvScripts(wtPath); err != nil {
		log.Warn(log.CatGit, "env script generation failed", "path", wtPath, "error", err)
	}

	log.Info(log.CatGit, "task worktree created", "path", wtPath, "branch", branch, "base_sha", sha)
	return wtPath, sha, nil
}

// RemoveTaskWorktree removes a task's worktree directory (if present) and
// always prunes stale worktree metadata afterward, matching
// remove_task_worktree's ignore-missing-path semantics.
func RemoveTaskWorktree(ctx context.Context, home, teamUUID, repoName string, taskID int) error {
	wtPath := paths.TaskWorktree(home, teamUUID, repoName, taskID)
	repoDir, repoErr := RepoDir(home, teamUUID, repoName)

	if _, err := os.Stat(wtPath); err == nil {
		if repoErr == nil {
			if err := New(repoDir).WorktreeRemove(ctx, wtPath); err != nil {
				log.Warn(log.CatGit, "worktree remove failed, deleting directory directly", "path", wtPath, "error", err)
				_ = os.RemoveAll(wtPath)
			}
		} else {
			_ = os.RemoveAll(wtPath)
		}
		log.Info(log.CatGit, "task worktree removed", "path", wtPath)
	} else {
		log.Info(log.CatGit, "task worktree already removed", "path", wtPath)
	}

	if repoErr == nil {
		_ = New(repoDir).WorktreePrune(ctx)
	}
	return nil
}
