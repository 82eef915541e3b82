package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/delegate-run/delegate/internal/tasks"
)

func testDefault(t *testing.T) *Definition {
	t.Helper()
	defs, err := LoadBuiltinWorkflows()
	require.NoError(t, err)
	for _, d := range defs {
		if d.ID == "default" {
			return d
		}
	}
	t.Fatal("default workflow not found among built-ins")
	return nil
}

func TestDefinition_AllowedTransitions(t *testing.T) {
	def := testDefault(t)
	require.ElementsMatch(t, []tasks.Status{tasks.StatusInProgress, tasks.StatusCancelled}, def.AllowedTransitions(tasks.StatusTodo))
	require.Empty(t, def.AllowedTransitions(tasks.StatusDone))
}

func TestDefinition_IsTerminal(t *testing.T) {
	def := testDefault(t)
	require.True(t, def.IsTerminal(tasks.StatusDone))
	require.True(t, def.IsTerminal(tasks.StatusCancelled))
	require.False(t, def.IsTerminal(tasks.StatusTodo))
	require.False(t, def.IsTerminal(tasks.Status("nonexistent")))
}

func TestDefinition_SatisfiesTasksWorkflowInterface(t *testing.T) {
	var _ tasks.Workflow = testDefault(t)
}

func TestDefinition_AutoStages(t *testing.T) {
	def := testDefault(t)
	auto := def.AutoStages()
	require.Len(t, auto, 2)
	keys := []tasks.Status{auto[0].Key, auto[1].Key}
	require.ElementsMatch(t, []tasks.Status{tasks.StatusInApproval, tasks.StatusMerging}, keys)
}
