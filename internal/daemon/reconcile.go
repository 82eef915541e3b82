package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/delegate-run/delegate/internal/gitutil"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
	"github.com/delegate-run/delegate/internal/tasks"
)

// reconcileTeams is tick item 1: ensure every team named in Config has a
// row in team_ids, returning the resolved name->UUID map for the rest of
// the tick to use. Unlike the original's team_map.json union-merge, this
// daemon has exactly one source of team names (Config.Teams) since there
// is no separate on-disk team_map file in this port — EnsureTeam is
// already idempotent and cached, so calling it once per tick per
// configured team is the whole of "reconcile."
func (d *Daemon) reconcileTeams(ctx context.Context) (map[string]string, error) {
	uuids := make(map[string]string, len(d.Config.Teams))
	for name := range d.Config.Teams {
		uuid, err := d.Resolver.EnsureTeam(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ensuring team %s: %w", name, err)
		}
		uuids[name] = uuid
	}
	return uuids, nil
}

// infraReadyKey matches a (team, task) pair confirmed to have every repo
// worktree it needs, avoiding a redundant stat/git-worktree-list call on
// every subsequent tick until the task leaves todo/in_progress.
type infraReadyKey struct {
	team   string
	taskID int64
}

// ensureTaskInfra is tick item 2: for every todo/in_progress task with
// resolved dependencies, make sure each of its repos has a worktree, and
// drop the infra-ready cache entry for any task that has since reached a
// terminal status, per spec §4.10 item 2.
func (d *Daemon) ensureTaskInfra(ctx context.Context, team, teamUUID string) {
	for _, status := range []tasks.Status{tasks.StatusTodo, tasks.StatusInProgress} {
		pending, err := d.Tasks.ListByTeamAndStatus(ctx, teamUUID, status)
		if err != nil {
			log.Error(log.CatDaemon, "listing tasks for infra check", "team", team, "status", status, "err", err)
			continue
		}
		for _, t := range pending {
			d.ensureOneTaskInfra(ctx, team, teamUUID, t)
		}
	}

	for _, status := range []tasks.Status{tasks.StatusDone, tasks.StatusCancelled} {
		finished, err := d.Tasks.ListByTeamAndStatus(ctx, teamUUID, status)
		if err != nil {
			log.Error(log.CatDaemon, "listing finished tasks for infra invalidation", "team", team, "status", status, "err", err)
			continue
		}
		for _, t := range finished {
			d.invalidateInfraReady(team, t.ID)
		}
	}
}

func (d *Daemon) ensureOneTaskInfra(ctx context.Context, team, teamUUID string, t tasks.Task) {
	key := infraReadyKey{team: team, taskID: t.ID}
	if _, ready := d.infraReady.Get(cacheKey(key)); ready {
		return
	}
	if len(t.Repo) == 0 {
		return
	}
	resolved, err := d.Tasks.AllDepsResolved(ctx, t)
	if err != nil {
		log.Error(log.CatDaemon, "checking task dependencies", "task", t.ID, "err", err)
		return
	}
	if !resolved {
		return
	}

	for _, repo := range t.Repo {
		if _, err := os.Stat(paths.TaskWorktree(d.Home, teamUUID, repo, int(t.ID))); err == nil {
			continue
		}
		if _, _, err := gitutil.CreateTaskWorktree(ctx, d.Home, teamUUID, repo, int(t.ID), t.Branch); err != nil {
			log.Error(log.CatDaemon, "creating task worktree", "task", t.ID, "repo", repo, "err", err)
			return
		}
	}
	d.infraReady.Set(cacheKey(key), true, -1)
}

func cacheKey(k infraReadyKey) string {
	return fmt.Sprintf("%s:%d", k.team, k.taskID)
}

// invalidateInfraReady drops the cached readiness for a task once it
// leaves todo/in_progress for a terminal status, per spec §4.10 item 2.
func (d *Daemon) invalidateInfraReady(team string, taskID int64) {
	d.infraReady.Delete(cacheKey(infraReadyKey{team: team, taskID: taskID}))
}
