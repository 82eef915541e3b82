// Package workflow implements the pluggable per-team stage-map engine.
//
// A workflow definition is a named, versioned list of stages. Each stage
// carries a status key and a human label, and optionally a terminal
// flag, an auto flag, and — for auto stages — the name of the action the
// daemon invokes on every tick. Definitions are data, not code: built-in
// ones ship embedded with the binary, and operators can add or override
// them by dropping YAML files under a team's workflows directory.
//
// A *Definition implements tasks.Workflow, so it can be handed straight
// to tasks.Store.ChangeStatus/TransitionTask in place of the built-in
// machine whenever a task names a workflow.
package workflow

import "github.com/delegate-run/delegate/internal/tasks"

// Stage is one node in a workflow's status machine.
type Stage struct {
	Key         tasks.Status   `yaml:"key"`
	Label       string         `yaml:"label"`
	Terminal    bool           `yaml:"terminal,omitempty"`
	Auto        bool           `yaml:"auto,omitempty"`
	Action      string         `yaml:"action,omitempty"`
	Transitions []tasks.Status `yaml:"transitions,omitempty"`
}

// Source indicates where a workflow definition originated.
type Source int

const (
	// SourceBuiltIn indicates a definition bundled with the binary.
	SourceBuiltIn Source = iota
	// SourceUser indicates a definition loaded from an operator's
	// workflows directory.
	SourceUser
)

// String returns a human-readable representation of the Source.
func (s Source) String() string {
	switch s {
	case SourceBuiltIn:
		return "built-in"
	case SourceUser:
		return "user"
	default:
		return "unknown"
	}
}
