package daemon

import (
	"context"
	"sync"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/tasks"
	"github.com/delegate-run/delegate/internal/turnrun"
)

// dispatchTurns is tick item 3: for each AI agent on the team with
// unread mail and no turn already in flight, launch run_turn under the
// daemon's turn semaphore, skipping any agent that is DRI on a task
// currently `merging` (defense in depth; the primary serialization is
// the per-task worktree lock inside run_turn/merge_task).
func (d *Daemon) dispatchTurns(ctx context.Context, teamCfg turnrun.Team, wg *sync.WaitGroup) {
	unread, err := d.Mailbox.AgentsWithUnread(ctx, teamCfg.Name)
	if err != nil {
		log.Error(log.CatDaemon, "listing agents with unread mail", "team", teamCfg.Name, "err", err)
		return
	}
	if len(unread) == 0 {
		return
	}

	mergingDRIs, err := d.mergingDRIs(ctx, teamCfg.UUID)
	if err != nil {
		log.Error(log.CatDaemon, "listing merging tasks for gate", "team", teamCfg.Name, "err", err)
		return
	}

	ai := make(map[string]bool, len(aiAgents(d.Home, teamCfg.UUID)))
	for _, a := range aiAgents(d.Home, teamCfg.UUID) {
		ai[a] = true
	}

	for _, agent := range unread {
		if !ai[agent] {
			continue
		}
		if mergingDRIs[agent] {
			continue
		}
		if !d.markInFlight(teamCfg.Name, agent) {
			continue
		}
		if !d.turnSem.TryAcquire(1) {
			d.clearInFlight(teamCfg.Name, agent)
			continue
		}

		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			defer d.turnSem.Release(1)
			defer d.clearInFlight(teamCfg.Name, agent)

			result, err := d.Runner.RunTurn(ctx, teamCfg, agent)
			if err != nil {
				log.ErrorErr(log.CatDaemon, "run_turn failed", err, "team", teamCfg.Name, "agent", agent)
				return
			}
			if result.Err != nil {
				log.Warn(log.CatDaemon, "turn completed with error", "team", teamCfg.Name, "agent", agent, "err", result.Err)
			}
		}(agent)
	}
}

// mergingDRIs returns the set of agent names who are DRI on a task
// currently in the merging status, for teamUUID.
func (d *Daemon) mergingDRIs(ctx context.Context, teamUUID string) (map[string]bool, error) {
	merging, err := d.Tasks.ListByTeamAndStatus(ctx, teamUUID, tasks.StatusMerging)
	if err != nil {
		return nil, err
	}
	dris := make(map[string]bool, len(merging))
	for _, t := range merging {
		if t.DRI != "" {
			dris[t.DRI] = true
		}
	}
	return dris, nil
}
