package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 64
	defaultDebounceTimeout = 50 * time.Millisecond
)

// FilterCallback reports whether a raw event path should be dropped
// before debouncing.
type FilterCallback func(path string) bool

// Watcher emits debounced filesystem events for an asset root, so watch
// mode can re-run a sync after the tree settles. Editors and site
// generators rewrite files in bursts, and the per-path debounce folds
// each burst into one event.
type Watcher struct {
	watchDir  string
	events    chan notify.EventInfo
	rawEvents chan notify.EventInfo
	done      chan struct{}
	wg        sync.WaitGroup

	// Debouncing fields
	pendingEvents   map[string]notify.EventInfo
	eventTimers     map[string]*time.Timer
	debounceMu      sync.Mutex
	debounceTimeout time.Duration

	// Raw event filtering, set before Start
	ignoreCallback FilterCallback
}

func NewWatcher(watchDir string) *Watcher {
	return &Watcher{
		watchDir:        watchDir,
		done:            make(chan struct{}),
		pendingEvents:   make(map[string]notify.EventInfo),
		eventTimers:     make(map[string]*time.Timer),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets the debounce timeout for events
func (w *Watcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

// FilterPaths sets a callback to drop raw events before debouncing.
// The callback returns true for paths to ignore. Call before Start.
func (w *Watcher) FilterPaths(callback FilterCallback) {
	w.ignoreCallback = callback
}

func (w *Watcher) Start(ctx context.Context) error {
	slog.Info("watcher start", "dir", w.watchDir)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.events = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := w.watchDir + "/..."
	events := notify.Create | notify.Write | notify.Remove | notify.Rename
	if err := notify.Watch(recursivePath, w.rawEvents, events); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)

	return nil
}

func (w *Watcher) Stop() {
	slog.Info("watcher stopping")

	// Signal the filter goroutine to stop
	close(w.done)

	// Stop notify watching (this closes the channel automatically)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}

	// Wait for the filter goroutine to finish
	w.wg.Wait()

	slog.Info("watcher stopped")
}

func (w *Watcher) Events() <-chan notify.EventInfo {
	return w.events
}

// filterEvents drops ignored paths, debounces the rest and forwards them
func (w *Watcher) filterEvents(ctx context.Context) {
	defer func() {
		// Cancel pending timers and flush whatever is still queued
		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			if event, exists := w.pendingEvents[path]; exists {
				select {
				case w.events <- event:
				default:
					slog.Warn("watcher dropped", "reason", "channel full on exit", "path", path)
				}
			}
		}
		w.debounceMu.Unlock()

		w.wg.Done()
		close(w.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}

			if w.ignoreCallback != nil && w.ignoreCallback(event.Path()) {
				continue
			}

			// On linux a single file write surfaces as a burst of inotify
			// events until the file is fully written. Debouncing trades a
			// small added latency for one event per settled file.
			w.debounceEvent(event)
		}
	}
}

// debounceEvent resets the flush timer for the event's path
func (w *Watcher) debounceEvent(event notify.EventInfo) {
	path := event.Path()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[path]; exists {
		timer.Stop()
		delete(w.eventTimers, path)
	}

	w.pendingEvents[path] = event

	timer := time.AfterFunc(w.debounceTimeout, func() {
		w.flushEvent(path)
	})

	w.eventTimers[path] = timer
}

// flushEvent sends the pending event for a path and cleans up. The send
// happens under debounceMu so a concurrent Stop cannot close the channel
// between the map cleanup and the send.
func (w *Watcher) flushEvent(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	event, exists := w.pendingEvents[path]
	if !exists {
		return
	}

	delete(w.pendingEvents, path)
	delete(w.eventTimers, path)

	select {
	case w.events <- event:
		slog.Debug("watcher", "event", event.Event(), "path", path)
	default:
		slog.Warn("watcher dropped", "reason", "channel full", "path", path)
	}
}
