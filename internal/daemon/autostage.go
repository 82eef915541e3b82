package daemon

import (
	"context"

	"github.com/delegate-run/delegate/internal/log"
)

// runAutoStages is tick item 5: drive every task sitting on an auto
// stage of its assigned workflow one step forward.
func (d *Daemon) runAutoStages(ctx context.Context, team, teamUUID string) {
	manager := managerName(d.Home, teamUUID)
	if err := d.Engine.RunAutoStages(ctx, team, teamUUID, manager); err != nil {
		log.Error(log.CatDaemon, "running auto stages", "team", team, "err", err)
	}
}
