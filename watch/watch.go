// Package watch is the hot-reload file watcher: it watches at most one
// policy file path and, after a debounce quiet period following the last
// change event, runs the same apply pipeline the IPC dispatcher's `apply`
// request drives, tagged with source "hot-reload".
//
// The shape — one goroutine owning a channel-driven debounce timer — mirrors
// the teacher's utils.SyncPipe: a single-purpose goroutine coordinating with
// the rest of the service over channels rather than shared mutable state.
package watch

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"netguardd/logging"
)

// ApplyFunc applies policy bytes read from path, tagged with the given
// apply source. It is supplied by the lifecycle orchestrator, which wires
// it to the same validate->compile->reconcile->lkg->audit pipeline the IPC
// `apply` request uses.
type ApplyFunc func(ctx context.Context, path string, source string) error

// Status reports the watcher's current state for the `watch_status` IPC
// request.
type Status struct {
	Watching    bool
	Path        string
	ApplyCount  uint64
	ErrorCount  uint64
	LastError   string
	LastApplied time.Time
}

// Watcher debounces fsnotify events on one file and drives ApplyFunc after
// the quiet period elapses uninterrupted.
type Watcher struct {
	apply    ApplyFunc
	debounce time.Duration

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	path   string
	cancel context.CancelFunc
	status Status
}

// New returns a Watcher that calls apply after debounce of quiet time
// following the last observed change to the watched file.
func New(apply ApplyFunc, debounce time.Duration) *Watcher {
	return &Watcher{apply: apply, debounce: debounce}
}

// SetPath changes (or clears, for path == "") the file being watched. Only
// one path is watched at a time; setting a new path first clears any
// previous one. Setting a non-empty path performs one initial apply
// attempt synchronously before returning, and the returned error reflects
// that initial apply's outcome.
func (w *Watcher) SetPath(ctx context.Context, path string) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.cancel()
		w.fsw.Close()
		w.fsw = nil
	}
	w.status = Status{}
	w.mu.Unlock()

	if path == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.fsw = fsw
	w.path = path
	w.cancel = cancel
	w.status = Status{Watching: true, Path: path}
	w.mu.Unlock()

	go w.loop(loopCtx, fsw, path)

	initialErr := w.apply(ctx, path, "hot-reload")
	w.recordResult(initialErr)
	return initialErr
}

// Status returns a snapshot of the watcher's current state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, path string) {
	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
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
			timerCh = timer.C

		case <-timerCh:
			err := w.apply(ctx, path, "hot-reload")
			w.recordResult(err)
			timerCh = nil

		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) recordResult(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.status.ErrorCount++
		w.status.LastError = err.Error()
		logging.Warn("hot-reload apply failed", "path", w.path, "error", err)
		return
	}
	w.status.ApplyCount++
	w.status.LastApplied = time.Now().UTC()
	w.status.LastError = ""
}
