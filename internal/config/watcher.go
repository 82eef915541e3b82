package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/paths"
)

// Watcher tails config.yaml and network.yaml for manual edits, adapted
// from the teacher's database watcher (internal/watcher): same
// directory-level fsnotify.Add plus debounce-timer loop, retargeted at
// the protected config files instead of the beads database.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	home      string
	debounce  time.Duration
	onChange  chan struct{}
	done      chan struct{}
}

// DefaultDebounce matches the teacher's watcher default.
const DefaultDebounce = 100 * time.Millisecond

// NewWatcher builds a Watcher over home's protected directory.
func NewWatcher(home string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		fsWatcher: fsw,
		home:      home,
		debounce:  DefaultDebounce,
		onChange:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}, nil
}

// Start begins watching the protected directory. The returned channel
// receives a signal, debounced, whenever config.yaml or network.yaml
// changes.
func (w *Watcher) Start() (<-chan struct{}, error) {
	dir := paths.Protected(w.home)
	if err := w.fsWatcher.Add(dir); err != nil {
		return nil, err
	}
	log.Info(log.CatConfig, "watching config directory", "dir", dir)
	go w.loop()
	return w.onChange, nil
}

// Stop terminates the watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !w.isRelevantEvent(event) {
				continue
			}
			log.Debug(log.CatConfig, "config file event", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			pending = true

		case <-w.timerC(timer):
			if pending {
				log.Debug(log.CatConfig, "debounce complete, signaling reload")
				select {
				case w.onChange <- struct{}{}:
				default:
				}
				pending = false
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.ErrorErr(log.CatConfig, "config watcher error", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) timerC(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}

func (w *Watcher) isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	base := filepath.Base(event.Name)
	return base == "config.yaml" || base == "network.yaml"
}
