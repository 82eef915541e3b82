package daemon

import (
	"context"
	"sync"

	"github.com/delegate-run/delegate/internal/log"
)

// runMergeWorker is tick item 4: spawn merge_once for the team under the
// daemon-wide merge semaphore (weight 1), so two teams' merge workers
// never race for the same underlying git state.
func (d *Daemon) runMergeWorker(ctx context.Context, team, teamUUID string, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.mergeSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.mergeSem.Release(1)

		results, err := d.Merger.MergeOnce(ctx, teamUUID)
		if err != nil {
			log.Error(log.CatDaemon, "merge_once failed", "team", team, "err", err)
			return
		}
		for _, r := range results {
			if !r.Success {
				log.Info(log.CatDaemon, "merge attempt did not succeed", "team", team, "task", r.TaskID, "reason", r.Reason.ShortMessage())
			}
		}
	}()
}
