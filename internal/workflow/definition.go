package workflow

import (
	"fmt"

	"github.com/delegate-run/delegate/internal/tasks"
)

// Definition is a named, versioned stage map loaded from a YAML file.
type Definition struct {
	ID       string
	Version  int
	Stages   []Stage
	Source   Source
	FilePath string

	byKey map[tasks.Status]Stage
}

func (d *Definition) index() {
	d.byKey = make(map[tasks.Status]Stage, len(d.Stages))
	for _, s := range d.Stages {
		d.byKey[s.Key] = s
	}
}

// Stage returns the stage registered under key, if any.
func (d *Definition) Stage(key tasks.Status) (Stage, bool) {
	s, ok := d.byKey[key]
	return s, ok
}

// AutoStages returns the stages whose tasks the daemon must drive via
// their action on every tick.
func (d *Definition) AutoStages() []Stage {
	var out []Stage
	for _, s := range d.Stages {
		if s.Auto {
			out = append(out, s)
		}
	}
	return out
}

// AllowedTransitions implements tasks.Workflow.
func (d *Definition) AllowedTransitions(from tasks.Status) []tasks.Status {
	s, ok := d.byKey[from]
	if !ok {
		return nil
	}
	return s.Transitions
}

// IsTerminal implements tasks.Workflow.
func (d *Definition) IsTerminal(status tasks.Status) bool {
	s, ok := d.byKey[status]
	return ok && s.Terminal
}

// validate checks structural invariants a parsed definition must hold
// before it can be trusted to govern task transitions.
func (d *Definition) validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow: missing name")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("workflow %s: no stages defined", d.ID)
	}
	seen := make(map[tasks.Status]bool, len(d.Stages))
	for _, s := range d.Stages {
		if s.Key == "" {
			return fmt.Errorf("workflow %s: stage missing key", d.ID)
		}
		if seen[s.Key] {
			return fmt.Errorf("workflow %s: duplicate stage key %q", d.ID, s.Key)
		}
		seen[s.Key] = true
		if s.Auto && s.Action == "" {
			return fmt.Errorf("workflow %s: auto stage %q has no action", d.ID, s.Key)
		}
	}
	return nil
}
