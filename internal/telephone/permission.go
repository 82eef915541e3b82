package telephone

import (
	"fmt"
	"path/filepath"
	"strings"
)

// pathWritingTools are the tool names whose target path must fall under
// an allowed write path; everything else (reads, bash, search tools) is
// ungated here — bash gets its own deny-list below.
var pathWritingTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// bashDenyList is matched as a substring against the bash command being
// invoked. These are operations the merge worker and git subsystem must
// retain exclusive control of (spec §4.8): branch/worktree manipulation,
// pushes, and direct database or git-internals tampering.
var bashDenyList = []string{
	"git push",
	"git rebase",
	"git merge",
	"git pull",
	"git fetch",
	"git checkout",
	"git switch",
	"git reset --hard",
	"git worktree",
	"git branch",
	"git remote",
	"git filter-branch",
	"sqlite3 ",
	"DROP TABLE",
	"rm -rf .git",
}

// PermissionConfig configures a Telephone's tool-use guard.
type PermissionConfig struct {
	AllowedWritePaths []string
	CWD               string
}

// ErrPermissionDenied is returned by the guard for a disallowed tool
// invocation; its message is what gets surfaced back to the model as the
// tool's denial reason.
type ErrPermissionDenied struct {
	Message string
}

func (e *ErrPermissionDenied) Error() string { return e.Message }

// Guard inspects a tool invocation and returns an error (surfaced to the
// model as a denial) if it is disallowed. toolName/toolInput mirror the
// SDK's tool-use callback signature; only a handful of tools are gated,
// matching the teacher's own minimal-interception philosophy in its own
// permission guards — everything not named here passes through.
func Guard(cfg PermissionConfig, toolName string, targetPath string, bashCommand string) error {
	if pathWritingTools[toolName] {
		if !isUnderAllowedPath(cfg, targetPath) {
			return &ErrPermissionDenied{Message: fmt.Sprintf(
				"%s denied: %s is outside the allowed write paths", toolName, targetPath)}
		}
		return nil
	}
	if toolName == "Bash" {
		for _, forbidden := range bashDenyList {
			if strings.Contains(bashCommand, forbidden) {
				return &ErrPermissionDenied{Message: fmt.Sprintf(
					"Bash denied: command contains forbidden operation %q", forbidden)}
			}
		}
	}
	return nil
}

func isUnderAllowedPath(cfg PermissionConfig, target string) bool {
	resolved := target
	if !filepath.IsAbs(resolved) && cfg.CWD != "" {
		resolved = filepath.Join(cfg.CWD, resolved)
	}
	resolved = filepath.Clean(resolved)

	for _, allowed := range cfg.AllowedWritePaths {
		a := allowed
		if !filepath.IsAbs(a) && cfg.CWD != "" {
			a = filepath.Join(cfg.CWD, a)
		}
		a = filepath.Clean(a)
		if resolved == a || strings.HasPrefix(resolved, a+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
