// Package daemon runs shopsync in the background: it loads the session,
// hydrates the store, keeps it flushed, follows sign-in changes and
// refreshes on an interval.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopkeep/shopsync/internal/auth"
	"github.com/shopkeep/shopsync/internal/store"
	syncer "github.com/shopkeep/shopsync/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval between periodic sync cycles. Zero disables them.
	Interval time.Duration

	// DebounceInterval is how long to wait after a session file change
	// before reloading it. This batches the events of one atomic write.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         5 * time.Minute,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon wires the session file, the store and the coordinator together.
type Daemon struct {
	store    *store.Store
	coord    syncer.Coordinator
	sessions *auth.FileProvider
	config   *Config

	watcher *SessionWatcher

	pendingMu sync.Mutex
	pendingAt time.Time // zero when no reload is queued

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// New creates a new Daemon instance with the default configuration.
func New(st *store.Store, coord syncer.Coordinator, sessions *auth.FileProvider) (*Daemon, error) {
	return NewWithConfig(st, coord, sessions, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(st *store.Store, coord syncer.Coordinator, sessions *auth.FileProvider, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session provider cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewSessionWatcher(sessions.Path())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:    st,
		coord:    coord,
		sessions: sessions,
		config:   config,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Start the store's background flusher
// 2. Load the session, which hydrates the store and starts the first cycle
// 3. Watch the session file for sign-in changes
// 4. Trigger a cycle every Interval
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.store.Start(d.ctx)

	if err := d.reloadSession(); err != nil {
		return fmt.Errorf("initial session load failed: %w", err)
	}

	if err := d.watcher.Start(); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching session: %s", d.sessions.Path())

	d.wg.Add(2)
	go d.watchSessionEvents()
	go d.processSessionQueue()

	if d.config.Interval > 0 {
		d.wg.Add(1)
		go d.refreshOnInterval()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. The running cycle is allowed to
// finish; the caller closes the coordinator and the store afterwards.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")

		d.cancel()

		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}

		d.wg.Wait()
		d.coord.Wait()

		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// reloadSession reads the session file and hands it to the coordinator.
func (d *Daemon) reloadSession() error {
	s, err := d.sessions.Load()
	if err != nil {
		return err
	}

	if s.SignedIn {
		d.config.Logger.Printf("Session: business %s, user %s", s.BusinessID, s.UserID)
	} else {
		d.config.Logger.Println("Session: signed out")
	}

	return d.coord.SetSession(d.ctx, s)
}

// watchSessionEvents queues session reloads.
func (d *Daemon) watchSessionEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case ev, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Session event: %s %s", ev.Op, ev.Path)
			d.queueReload()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueReload() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	d.pendingAt = time.Now()
}

// processSessionQueue reloads the session once events have settled.
func (d *Daemon) processSessionQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.pendingMu.Lock()
			due := !d.pendingAt.IsZero() && time.Since(d.pendingAt) >= d.config.DebounceInterval
			if due {
				d.pendingAt = time.Time{}
			}
			d.pendingMu.Unlock()

			if due {
				if err := d.reloadSession(); err != nil {
					d.config.Logger.Printf("Error reloading session: %v", err)
				}
			}
		}
	}
}

// refreshOnInterval triggers periodic cycles.
func (d *Daemon) refreshOnInterval() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.coord.Trigger(syncer.ReasonInterval) {
				d.config.Logger.Println("Interval sync skipped")
			}
		}
	}
}
