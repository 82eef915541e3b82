package workflow

import (
	"context"
	"fmt"

	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/tasks"
)

// ActionFunc implements an auto stage's transition logic. It returns the
// key of the next stage to move the task to, or "" to mean "stay put".
type ActionFunc func(ctx context.Context, task tasks.Task) (next tasks.Status, err error)

// ActionSet maps action names, as referenced by a Stage's Action field,
// to their implementations. The daemon builds one per team from its
// merge/review wiring and hands it to Engine.
type ActionSet map[string]ActionFunc

// Engine drives auto-stage tasks: once per tick, for every task sitting
// on an auto stage of its workflow, it calls the stage's action and
// applies whatever transition it returns.
type Engine struct {
	Tasks    *tasks.Store
	Mailbox  *mailbox.Box
	Registry *Registry
	Actions  ActionSet
}

// NewEngine builds an Engine.
func NewEngine(ts *tasks.Store, mb *mailbox.Box, reg *Registry, actions ActionSet) *Engine {
	return &Engine{Tasks: ts, Mailbox: mb, Registry: reg, Actions: actions}
}

// RunAutoStages scans every task in teamUUID currently sitting on an
// auto stage of a registered workflow and drives it one step, notifying
// manager of action errors and terminal-stage arrivals.
func (e *Engine) RunAutoStages(ctx context.Context, teamName, teamUUID, manager string) error {
	for _, def := range e.Registry.All() {
		for _, stage := range def.AutoStages() {
			atStage, err := e.Tasks.ListByTeamAndStatus(ctx, teamUUID, stage.Key)
			if err != nil {
				return fmt.Errorf("listing tasks at stage %s: %w", stage.Key, err)
			}
			for _, t := range atStage {
				if t.Workflow != def.ID || t.WorkflowVersion != def.Version {
					continue
				}
				e.runStage(ctx, teamName, def, stage, t, manager)
			}
		}
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, teamName string, def *Definition, stage Stage, t tasks.Task, manager string) {
	action, ok := e.Actions[stage.Action]
	if !ok {
		return
	}

	next, err := action(ctx, t)
	if err != nil {
		e.onActionError(ctx, teamName, def, t, stage, err, manager)
		return
	}
	if next == "" {
		return
	}

	if err := e.Tasks.ChangeStatus(ctx, t.ID, next, def); err != nil {
		return
	}

	if def.IsTerminal(next) && e.Mailbox != nil {
		msg := fmt.Sprintf("task %d reached %s (workflow %s)", t.ID, next, def.ID)
		_, _ = e.Mailbox.SendEvent(ctx, teamName, "delegate", manager, msg, &t.ID)
	}
}

// onActionError implements the ActionError path: transition to the
// workflow's error stage if it defines one, otherwise just notify the
// manager.
func (e *Engine) onActionError(ctx context.Context, teamName string, def *Definition, t tasks.Task, stage Stage, actionErr error, manager string) {
	if errStage, ok := def.Stage(tasks.StatusError); ok {
		_ = e.Tasks.ChangeStatus(ctx, t.ID, errStage.Key, def)
	}
	if e.Mailbox == nil {
		return
	}
	msg := fmt.Sprintf("workflow %s: stage %s action failed for task %d: %v", def.ID, stage.Key, t.ID, actionErr)
	_, _ = e.Mailbox.SendEvent(ctx, teamName, "delegate", manager, msg, &t.ID)
}
