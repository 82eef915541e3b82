// Package daemon is the tick loop of spec §4.10: one goroutine polling
// at a fixed interval, reconciling each configured team's infrastructure,
// dispatching agent turns under a bounded semaphore, running the merge
// worker, driving workflow auto-stages, and sending a one-time startup
// notification — with a graceful, timeout-bounded shutdown. Grounded on
// the teacher's control-plane supervisor loop shape (a single ticking
// goroutine owning a handful of worker subsystems), rewritten around
// this daemon's own stores instead of the teacher's workflow/session
// machinery.
package daemon

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"

	"github.com/delegate-run/delegate/internal/activity"
	"github.com/delegate-run/delegate/internal/config"
	"github.com/delegate-run/delegate/internal/db"
	"github.com/delegate-run/delegate/internal/exchange"
	"github.com/delegate-run/delegate/internal/ids"
	"github.com/delegate-run/delegate/internal/mailbox"
	"github.com/delegate-run/delegate/internal/merge"
	"github.com/delegate-run/delegate/internal/review"
	"github.com/delegate-run/delegate/internal/session"
	"github.com/delegate-run/delegate/internal/tasks"
	"github.com/delegate-run/delegate/internal/turnrun"
	"github.com/delegate-run/delegate/internal/workflow"
)

// Shutdown timeouts, spec §4.10 item 7 / §5.
const (
	turnShutdownTimeout   = 10 * time.Second
	mergeShutdownTimeout  = 5 * time.Second
	telephoneCloseTimeout = 10 * time.Second
)

// teamAgent keys the in-flight dispatch set.
type teamAgent struct {
	team  string
	agent string
}

// Daemon wires every domain package into spec §4.10's tick loop. One
// Daemon serves every team named in its Config.
type Daemon struct {
	Home     string
	Config   *config.Config
	DB       *db.DB
	Resolver *ids.Resolver
	Tasks    *tasks.Store
	Mailbox  *mailbox.Box
	Reviews  *review.Store
	Sessions *session.Store
	Activity *activity.Broker
	Exchange *exchange.Exchange
	Runner   *turnrun.Runner
	Merger   *merge.Merger
	Registry *workflow.Registry
	Engine   *workflow.Engine

	turnSem  *semaphore.Weighted
	mergeSem *semaphore.Weighted

	inFlightMu sync.Mutex
	inFlight   map[teamAgent]struct{}

	infraReady *gocache.Cache

	startedAt       time.Time
	startupNotified bool

	// ConfigChanged, when set, is watched by Run alongside the tick
	// ticker: a signal reloads Config in place before the next tick.
	// Reloading only from Run's own goroutine (rather than the
	// watcher's) keeps every Config read on the tick path free of a
	// data race with the reload.
	ConfigChanged <-chan struct{}
	reloadConfig  func() (*config.Config, error)
}

// New wires a Daemon over an already-open database. It builds the
// individual stores from d itself; callers pass in the resolver and the
// exchange, so tests can substitute a clientType-less telephone factory.
func New(home string, cfg *config.Config, d *db.DB, resolver *ids.Resolver, ex *exchange.Exchange) (*Daemon, error) {
	ts := tasks.New(d.DB, resolver)
	mb := mailbox.New(d.DB)
	rv := review.New(d.DB)
	ss := session.New(d.DB)
	act := activity.New()

	runner := turnrun.New(home, mb, ts, ss, act, ex)
	merger := merge.New(home, ts, rv, mb, ex, cfg)

	reg, err := workflow.LoadRegistry(home)
	if err != nil {
		return nil, err
	}
	// check_approval/attempt_merge are intentionally left unregistered:
	// internal/merge.MergeOnce (tick item 4) already owns the
	// in_approval->merging->done path end to end, including the
	// approval-mode check and manager reassignment. Registering those
	// two action names here would just race MergeOnce every tick for
	// no benefit; the engine's lookup-miss no-op (workflow/engine.go)
	// makes that omission safe rather than an error. Custom workflows
	// that add their own named auto stages still get driven normally.
	engine := workflow.NewEngine(ts, mb, reg, workflow.ActionSet{})

	return &Daemon{
		Home:     home,
		Config:   cfg,
		DB:       d,
		Resolver: resolver,
		Tasks:    ts,
		Mailbox:  mb,
		Reviews:  rv,
		Sessions: ss,
		Activity: act,
		Exchange: ex,
		Runner:   runner,
		Merger:   merger,
		Registry: reg,
		Engine:   engine,

		turnSem:  semaphore.NewWeighted(int64(turnConcurrency(cfg))),
		mergeSem: semaphore.NewWeighted(1),
		inFlight: make(map[teamAgent]struct{}),

		infraReady: gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}, nil
}

// WatchConfig arms Run to reload Config whenever changed fires, per
// spec §4.10: a hand edit to protected/config.yaml takes effect on the
// next tick without a daemon restart.
func (d *Daemon) WatchConfig(changed <-chan struct{}) {
	d.ConfigChanged = changed
	d.reloadConfig = func() (*config.Config, error) { return config.Load(d.Home) }
}

func turnConcurrency(cfg *config.Config) int {
	if cfg.Daemon.TurnConcurrency > 0 {
		return cfg.Daemon.TurnConcurrency
	}
	return 256
}

func (d *Daemon) markInFlight(team, agent string) bool {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	key := teamAgent{team, agent}
	if _, busy := d.inFlight[key]; busy {
		return false
	}
	d.inFlight[key] = struct{}{}
	return true
}

func (d *Daemon) clearInFlight(team, agent string) {
	d.inFlightMu.Lock()
	defer d.inFlightMu.Unlock()
	delete(d.inFlight, teamAgent{team, agent})
}
