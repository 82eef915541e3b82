package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/turnrun"
)

// Run is the tick loop of spec §4.10. It blocks until ctx is cancelled,
// then performs the bounded graceful shutdown of item 7 before
// returning.
func (d *Daemon) Run(ctx context.Context) error {
	d.startedAt = time.Now()
	interval := d.Config.Daemon.TickInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info(log.CatDaemon, "daemon loop starting", "interval", interval, "teams", len(d.Config.Teams))

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-d.configChangedChan():
			d.reloadConfigNow()
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// configChangedChan returns d.ConfigChanged, or nil when unset — a nil
// channel blocks forever in select, so an un-watched daemon just never
// takes this case.
func (d *Daemon) configChangedChan() <-chan struct{} {
	return d.ConfigChanged
}

func (d *Daemon) reloadConfigNow() {
	if d.reloadConfig == nil {
		return
	}
	reloaded, err := d.reloadConfig()
	if err != nil {
		log.Error(log.CatConfig, "reloading config", "err", err)
		return
	}
	*d.Config = *reloaded
	log.Info(log.CatConfig, "config reloaded", "teams", len(d.Config.Teams))
}

func (d *Daemon) tick(ctx context.Context) {
	teamUUIDs, err := d.reconcileTeams(ctx)
	if err != nil {
		log.Error(log.CatDaemon, "reconciling teams", "err", err)
		return
	}

	var wg sync.WaitGroup
	allActive := false

	for name, uuid := range teamUUIDs {
		d.ensureTaskInfra(ctx, name, uuid)

		teamCfg := turnrun.Team{
			Name:         name,
			UUID:         uuid,
			Repos:        d.Config.TeamRepos(name),
			DefaultHuman: d.Config.DefaultHuman(name),
		}
		d.dispatchTurns(ctx, teamCfg, &wg)
		d.runMergeWorker(ctx, name, uuid, &wg)
		d.runAutoStages(ctx, name, uuid)

		if !d.startupNotified {
			d.maybeSendStartupNotification(ctx, name, uuid)
			allActive = true
		}
	}

	if allActive && time.Since(d.startedAt) >= d.startupNotifyDelay() {
		d.startupNotified = true
	}

	wg.Wait()
}

// shutdown is tick item 7: stop accepting new dispatches (Run's loop
// takes no further ticks once it has called this), wait for in-flight turns and
// merges with a bound, then close every Telephone.
func (d *Daemon) shutdown() error {
	log.Info(log.CatDaemon, "daemon shutting down")

	done := make(chan struct{})
	go func() {
		for {
			d.inFlightMu.Lock()
			n := len(d.inFlight)
			d.inFlightMu.Unlock()
			if n == 0 {
				close(done)
				return
			}
			time.Sleep(50 * time.Millisecond)
		}
	}()

	select {
	case <-done:
	case <-time.After(turnShutdownTimeout):
		log.Warn(log.CatDaemon, "timed out waiting for in-flight turns")
	}

	mergeCtx, cancel := context.WithTimeout(context.Background(), mergeShutdownTimeout)
	defer cancel()
	_ = d.mergeSem.Acquire(mergeCtx, 1)
	d.mergeSem.Release(1)

	closeDone := make(chan struct{})
	go func() {
		d.Exchange.CloseAll()
		close(closeDone)
	}()
	select {
	case <-closeDone:
	case <-time.After(telephoneCloseTimeout):
		log.Warn(log.CatDaemon, "timed out closing telephones")
	}

	log.Info(log.CatDaemon, "daemon stopped")
	return nil
}
