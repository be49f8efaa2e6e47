package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of session file operation.
type EventOp int

const (
	// OpWrite indicates the session file was created or replaced.
	OpWrite EventOp = iota
	// OpRemove indicates the session file was removed (signed out).
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// SessionEvent reports a change to the session file.
type SessionEvent struct {
	Path string
	Op   EventOp
}

// SessionWatcher watches the session file for sign-in and sign-out.
//
// The parent directory is watched rather than the file so atomic
// replacements (write to tmp, rename) and removals are both seen.
type SessionWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan SessionEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSessionWatcher creates a watcher for the session file at path.
// The watcher must be started with Start() before it will emit events.
func NewSessionWatcher(path string) (*SessionWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &SessionWatcher{
		watcher: watcher,
		path:    abs,
		events:  make(chan SessionEvent, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. The session directory is created if missing.
func (sw *SessionWatcher) Start() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(sw.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}
	if err := sw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch session directory %s: %w", dir, err)
	}

	sw.running = true
	sw.wg.Add(1)
	go sw.processEvents()

	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (sw *SessionWatcher) Stop() error {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return sw.watcher.Close()
	}
	sw.running = false
	sw.mu.Unlock()

	close(sw.done)

	if err := sw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	sw.wg.Wait()

	close(sw.events)
	close(sw.errors)
	return nil
}

// Events returns the channel of session file changes.
// It is closed when the watcher is stopped.
func (sw *SessionWatcher) Events() <-chan SessionEvent {
	return sw.events
}

// Errors returns the channel of watcher errors.
// It is closed when the watcher is stopped.
func (sw *SessionWatcher) Errors() <-chan error {
	return sw.errors
}

// IsRunning returns true if the watcher is currently running.
func (sw *SessionWatcher) IsRunning() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.running
}

func (sw *SessionWatcher) processEvents() {
	defer sw.wg.Done()

	for {
		select {
		case <-sw.done:
			return

		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := sw.convertEvent(event); ok {
				select {
				case sw.events <- ev:
				case <-sw.done:
					return
				}
			}

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case sw.errors <- err:
			case <-sw.done:
				return
			}
		}
	}
}

// convertEvent keeps events for the session file only.
func (sw *SessionWatcher) convertEvent(event fsnotify.Event) (SessionEvent, bool) {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != sw.path {
		return SessionEvent{}, false
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		return SessionEvent{Path: name, Op: OpWrite}, true
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return SessionEvent{Path: name, Op: OpRemove}, true
	default:
		return SessionEvent{}, false
	}
}
