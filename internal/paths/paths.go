// Package paths centralizes path computations for Delegate.
//
// All state lives under a single home directory (~/.delegate by default).
// The DELEGATE_HOME environment variable overrides the default, which
// tests rely on to get hermetic filesystem state.
//
// Layout:
//
//	<home>/
//	  protected/                   infrastructure, never writable from agent sandbox
//	    db.sqlite
//	    daemon.pid, daemon.lock
//	    config.yaml, network.yaml
//	    workflows/<name>.yaml  user-defined workflow overrides
//	    members/<name>.yaml
//	    teams/<team_name>/
//	      repos.yaml, roster.md, team_id
//	  teams/<team_uuid>/            agent-visible working data
//	    agents/<agent_name>/
//	    shared/
//	    repos/<repo_name>
//	    worktrees/<repo>/T<nnnn>/
//	    worktrees/_merge/<uid>/...
//	    worktrees/_review/<uid>/...
//	    uploads/<YYYY>/<MM>/...
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultHomeDirName = ".delegate"

// Home returns the Delegate root directory.
//
// Resolution order: the DELEGATE_HOME environment variable, then
// ~/.delegate.
func Home() string {
	if env := os.Getenv("DELEGATE_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, defaultHomeDirName)
}

// Protected returns <home>/protected, the directory never exposed to
// agent sandboxes.
func Protected(home string) string {
	return filepath.Join(home, "protected")
}

// DBPath returns the path to the global SQLite database file.
func DBPath(home string) string {
	return filepath.Join(Protected(home), "db.sqlite")
}

// DaemonPIDFile returns the daemon's PID file path.
func DaemonPIDFile(home string) string {
	return filepath.Join(Protected(home), "daemon.pid")
}

// DaemonLockFile returns the daemon singleton lock file path.
func DaemonLockFile(home string) string {
	return filepath.Join(Protected(home), "daemon.lock")
}

// ConfigFile returns the path to the main YAML config.
func ConfigFile(home string) string {
	return filepath.Join(Protected(home), "config.yaml")
}

// NetworkConfigFile returns the path to the network allowlist config.
func NetworkConfigFile(home string) string {
	return filepath.Join(Protected(home), "network.yaml")
}

// UserWorkflowsDir returns the directory where operators can drop custom
// workflow definitions (<name>.yaml) to override or extend the built-ins.
func UserWorkflowsDir(home string) string {
	return filepath.Join(Protected(home), "workflows")
}

// MemberFile returns the path to a human member's YAML record.
func MemberFile(home, name string) string {
	return filepath.Join(Protected(home), "members", name+".yaml")
}

// ProtectedTeamDir returns <home>/protected/teams/<team_name> (by human
// name, not UUID — this side of the tree is keyed by name for admin
// convenience).
func ProtectedTeamDir(home, teamName string) string {
	return filepath.Join(Protected(home), "teams", teamName)
}

// ReposYAML returns the path to a team's registered-repo manifest.
func ReposYAML(home, teamName string) string {
	return filepath.Join(ProtectedTeamDir(home, teamName), "repos.yaml")
}

// RosterMD returns the path to a team's roster file.
func RosterMD(home, teamName string) string {
	return filepath.Join(ProtectedTeamDir(home, teamName), "roster.md")
}

// TeamIDFile returns the path to a team's minted-UUID marker file.
func TeamIDFile(home, teamName string) string {
	return filepath.Join(ProtectedTeamDir(home, teamName), "team_id")
}

// TeamDir returns <home>/teams/<team_uuid>, the agent-visible root for a
// team's working data.
func TeamDir(home, teamUUID string) string {
	return filepath.Join(home, "teams", teamUUID)
}

// AgentDir returns a team's per-agent working directory.
func AgentDir(home, teamUUID, agentName string) string {
	return filepath.Join(TeamDir(home, teamUUID), "agents", agentName)
}

// AgentStateFile returns an agent's state.yaml path.
func AgentStateFile(home, teamUUID, agentName string) string {
	return filepath.Join(AgentDir(home, teamUUID, agentName), "state.yaml")
}

// AgentContextFile returns an agent's rotation-memory file.
func AgentContextFile(home, teamUUID, agentName string) string {
	return filepath.Join(AgentDir(home, teamUUID, agentName), "context.md")
}

// AgentNotesDir returns an agent's notes directory (reflections.md,
// feedback.md).
func AgentNotesDir(home, teamUUID, agentName string) string {
	return filepath.Join(AgentDir(home, teamUUID, agentName), "notes")
}

// AgentJournalsDir returns an agent's per-task journals directory.
func AgentJournalsDir(home, teamUUID, agentName string) string {
	return filepath.Join(AgentDir(home, teamUUID, agentName), "journals")
}

// AgentJournalFile returns an agent's journal file for a task.
func AgentJournalFile(home, teamUUID, agentName string, taskID int) string {
	return filepath.Join(AgentJournalsDir(home, teamUUID, agentName), FormatTaskID(taskID)+".md")
}

// AgentLogsDir returns an agent's worklog directory.
func AgentLogsDir(home, teamUUID, agentName string) string {
	return filepath.Join(AgentDir(home, teamUUID, agentName), "logs")
}

// AgentWorklogFile returns the path for the n-th worklog file (1-based,
// monotonically increasing per agent).
func AgentWorklogFile(home, teamUUID, agentName string, n int) string {
	return filepath.Join(AgentLogsDir(home, teamUUID, agentName), fmt.Sprintf("%d.worklog.md", n))
}

// SharedDir returns a team's shared-files directory.
func SharedDir(home, teamUUID string) string {
	return filepath.Join(TeamDir(home, teamUUID), "shared")
}

// RepoLink returns the symlink path under a team's repos/ directory that
// points at the real repo on disk.
func RepoLink(home, teamUUID, repoName string) string {
	return filepath.Join(TeamDir(home, teamUUID), "repos", repoName)
}

// WorktreesDir returns the root of a team's worktree tree.
func WorktreesDir(home, teamUUID string) string {
	return filepath.Join(TeamDir(home, teamUUID), "worktrees")
}

// TaskWorktree returns the dedicated worktree path for a task+repo pair.
func TaskWorktree(home, teamUUID, repoName string, taskID int) string {
	return filepath.Join(WorktreesDir(home, teamUUID), repoName, FormatTaskID(taskID))
}

// MergeWorktreeRoot returns the disposable merge-worktree root for a uid.
func MergeWorktreeRoot(home, teamUUID, uid string) string {
	return filepath.Join(WorktreesDir(home, teamUUID), "_merge", uid)
}

// MergeWorktree returns the disposable merge worktree for one task within
// a merge attempt's uid.
func MergeWorktree(home, teamUUID, uid string, taskID int) string {
	return filepath.Join(MergeWorktreeRoot(home, teamUUID, uid), FormatTaskID(taskID))
}

// ReviewWorktreeRoot returns the disposable reviewer-edit worktree root
// for a uid.
func ReviewWorktreeRoot(home, teamUUID, uid string) string {
	return filepath.Join(WorktreesDir(home, teamUUID), "_review", uid)
}

// ReviewWorktree returns the disposable reviewer-edit worktree for one
// task within a uid.
func ReviewWorktree(home, teamUUID, uid string, taskID int) string {
	return filepath.Join(ReviewWorktreeRoot(home, teamUUID, uid), FormatTaskID(taskID))
}

// UploadDir returns the directory for uploads in a given year/month.
func UploadDir(home, teamUUID string, year int, month int) string {
	return filepath.Join(TeamDir(home, teamUUID), "uploads", fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
}

// FormatTaskID formats an integer task id as the user-visible T<nnnn> form.
func FormatTaskID(id int) string {
	return fmt.Sprintf("T%04d", id)
}

// DefaultBranch returns the default feature branch name for a task.
// teamIDPrefix is typically the first 8 hex chars of the team UUID.
func DefaultBranch(teamIDPrefix, teamName string, taskID int) string {
	return fmt.Sprintf("delegate/%s/%s/%s", teamIDPrefix, teamName, FormatTaskID(taskID))
}

// MergeTempBranch inserts /_merge/<uid12>/ before the branch's last
// segment, producing the rebase-attempt temp branch name.
func MergeTempBranch(branch, uid12 string) string {
	return insertSegment(branch, "_merge", uid12)
}

// SquashTempBranch returns the squash-reapply temp branch name for a task.
func SquashTempBranch(uid12 string, taskID int) string {
	return fmt.Sprintf("_merge/%s/squash-%s", uid12, FormatTaskID(taskID))
}

// ReviewTempBranch inserts /_review/<uid12>/ before the branch's last
// segment, producing the reviewer-edit temp branch name.
func ReviewTempBranch(branch, uid12 string) string {
	return insertSegment(branch, "_review", uid12)
}

func insertSegment(branch, kind, uid12 string) string {
	dir, last := filepath.Split(branch)
	return fmt.Sprintf("%s%s/%s/%s", dir, kind, uid12, last)
}
