package gitutil

import (
	"os"
	"path/filepath"

	"github.com/delegate-run/delegate/internal/log"
)

const scriptHeader = "#!/usr/bin/env bash\nset -e\n# Auto-generated by delegate at worktree creation. Edit as needed.\n\n"

type stack struct {
	label string
	setup string
	test  string
}

// detectStack runs a handful of indicator-file heuristics against a
// worktree root, enough to get a new task's setup/premerge scripts
// started without requiring the assigned agent to write them from
// scratch. Unlike a full build-system prober, this only covers the
// stacks common to Delegate's own dogfood repos; anything else gets a
// fill-in-the-blank comment.
func detectStack(root string) []stack {
	var stacks []stack
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(root, name))
		return err == nil
	}

	switch {
	case exists("pyproject.toml"):
		stacks = append(stacks, stack{label: "Python", setup: "python -m venv .venv && .venv/bin/pip install -e '.[dev]'", test: "pytest"})
	case exists("requirements.txt"):
		stacks = append(stacks, stack{label: "Python", setup: "python -m venv .venv && .venv/bin/pip install -r requirements.txt", test: "pytest"})
	}
	if exists("package.json") {
		setup := "npm ci"
		switch {
		case exists("pnpm-lock.yaml"):
			setup = "pnpm install"
		case exists("yarn.lock"):
			setup = "yarn install"
		}
		stacks = append(stacks, stack{label: "Node", setup: setup, test: "npm test"})
	}
	if exists("go.mod") {
		stacks = append(stacks, stack{label: "Go", setup: "go mod download", test: "go test ./..."})
	}
	if exists("Cargo.toml") {
		stacks = append(stacks, stack{label: "Rust", setup: "cargo fetch", test: "cargo test"})
	}
	return stacks
}

func renderScript(stacks []stack, body func(stack) string) string {
	content := scriptHeader
	if len(stacks) == 0 {
		return content + "# No stack detected. Fill in setup and test commands for this repo.\n"
	}
	for _, s := range stacks {
		content += "# " + s.label + "\n" + body(s) + "\n\n"
	}
	return content
}

// GenerateEnvScripts writes .delegate/setup.sh and .delegate/premerge.sh
// into worktreeRoot if neither already exists. Only the first task
// worktree for a repo gets them generated; subsequent worktrees inherit
// them from main after the first merge.
func GenerateEnvScripts(worktreeRoot string) error {
	dir := filepath.Join(worktreeRoot, ".delegate")
	setupPath := filepath.Join(dir, "setup.sh")
	premergePath := filepath.Join(dir, "premerge.sh")

	if _, err := os.Stat(setupPath); err == nil {
		return nil
	}
	if _, err := os.Stat(premergePath); err == nil {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	stacks := detectStack(worktreeRoot)
	setup := renderScript(stacks, func(s stack) string { return s.setup })
	premerge := renderScript(stacks, func(s stack) string { return s.test })

	if err := os.WriteFile(setupPath, []byte(setup), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(premergePath, []byte(premerge), 0o755); err != nil {
		return err
	}
	log.Info(log.CatGit, "env scripts generated", "dir", dir, "stacks", len(stacks))
	return nil
}
