// Package charter embeds the default team charter an agent's preamble
// is built from: shared values/process documents plus one file per
// role, joined into the "TEAM CHARTER" section of every turn's prompt.
package charter

import (
	"embed"
	"io/fs"
)

//go:embed charters
var charterFS embed.FS

// FS returns the embedded charter filesystem, rooted at "charters".
func FS() fs.FS {
	sub, err := fs.Sub(charterFS, "charters")
	if err != nil {
		panic(err)
	}
	return sub
}

// SharedFiles is the fixed read order for the shared charter sections,
// joined with "---" separators.
var SharedFiles = []string{
	"values.md",
	"communication.md",
	"task-management.md",
	"code-review.md",
	"continuous-improvement.md",
}

// RoleFile maps a role name to its charter file under "roles/". "worker"
// is an alias for "engineer", matching legacy role naming.
func RoleFile(role string) string {
	if role == "worker" {
		return "engineer.md"
	}
	return role + ".md"
}
