package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/tasks"
)

// startupNotifyDelay is the spec-mandated 60s wait before the
// one-time startup summary, overridable via Config.Daemon for tests.
func (d *Daemon) startupNotifyDelay() time.Duration {
	if d.Config.Daemon.StartupNotifyDelay > 0 {
		return d.Config.Daemon.StartupNotifyDelay
	}
	return 60 * time.Second
}

// allStatuses enumerates every status for the total/active count in
// maybeSendStartupNotification; internal/tasks has no "every task for a
// team" query (see DESIGN.md), so this sums ListByTeamAndStatus across
// the whole machine instead of adding one.
var allStatuses = []tasks.Status{
	tasks.StatusTodo, tasks.StatusInProgress, tasks.StatusInReview,
	tasks.StatusInApproval, tasks.StatusMerging, tasks.StatusDone,
	tasks.StatusRejected, tasks.StatusCancelled, tasks.StatusMergeFailed,
	tasks.StatusError,
}

var terminalStatuses = map[tasks.Status]bool{
	tasks.StatusDone:      true,
	tasks.StatusCancelled: true,
}

// maybeSendStartupNotification is tick item 6: once, after
// startupNotifyDelay has elapsed since the daemon started, send each
// team's manager a summary of total vs. active tasks — but only if the
// team has any active (non-terminal) task at all.
func (d *Daemon) maybeSendStartupNotification(ctx context.Context, team, teamUUID string) {
	if time.Since(d.startedAt) < d.startupNotifyDelay() {
		return
	}

	total, active := 0, 0
	for _, status := range allStatuses {
		ts, err := d.Tasks.ListByTeamAndStatus(ctx, teamUUID, status)
		if err != nil {
			log.Error(log.CatDaemon, "counting tasks for startup notification", "team", team, "err", err)
			return
		}
		total += len(ts)
		if !terminalStatuses[status] {
			active += len(ts)
		}
	}
	if active == 0 {
		return
	}

	manager := managerName(d.Home, teamUUID)
	content := fmt.Sprintf("Delegate is back online: %d active task(s) out of %d total.", active, total)
	if _, err := d.Mailbox.Send(ctx, team, "delegate", manager, content, nil); err != nil {
		log.Error(log.CatDaemon, "sending startup notification", "team", team, "err", err)
	}
}
