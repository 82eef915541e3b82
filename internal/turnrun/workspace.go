package turnrun

import (
	"os"

	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/prompt"
	"github.com/delegate-run/delegate/internal/tasks"
)

// resolveWorkspace determines the agent's fallback workspace directory
// (created if missing) and the set of a task's repo worktrees that
// currently exist on disk, for inclusion in the turn's prompt (spec
// §4.8 step 4). The agent's persistent Telephone subprocess keeps its
// own fixed cwd (the team directory) across tasks — only the reported
// paths change per turn.
func resolveWorkspace(home, teamUUID, agent string, task *tasks.Task) (prompt.WorkspacePaths, error) {
	fallback := paths.AgentDir(home, teamUUID, agent) + "/workspace"
	if err := os.MkdirAll(fallback, 0o755); err != nil {
		return nil, err
	}

	if task == nil || len(task.Repo) == 0 {
		return nil, nil
	}

	result := make(prompt.WorkspacePaths, len(task.Repo))
	for _, repoName := range task.Repo {
		wt := paths.TaskWorktree(home, teamUUID, repoName, int(task.ID))
		if info, err := os.Stat(wt); err == nil && info.IsDir() {
			result[repoName] = wt
		}
	}
	return result, nil
}
