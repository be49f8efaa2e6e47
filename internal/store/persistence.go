package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/schema"
)

// snapshot is the persisted form of one collection.
type snapshot struct {
	Records          []schema.Record  `json:"records"`
	PendingDeletions []pendingDeletion `json:"pending_deletions,omitempty"`
}

type pendingDeletion struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deleted_at"`
}

// CollectionKey returns the persistence key of a tenant's collection.
func CollectionKey(tenant, collectionName string) string {
	return persist.Key(tenant, "collection", collectionName)
}

// SwitchTenant flushes the current scope, clears memory and loads the new
// tenant's collections. An empty tenant signs the store out.
//
// The final snapshot of the old scope and the reset happen under one hold of
// mu, so an edit either lands in the old snapshot or in the new scope.
func (s *Store) SwitchTenant(ctx context.Context, tenant string) error {
	if s.Tenant() == tenant {
		return nil
	}

	s.flushMu.Lock()
	s.mu.Lock()
	old := s.tenant
	writes, errs := s.takeDirtyLocked()
	s.tenant = tenant
	for _, name := range s.order {
		s.collections[name] = newCollection(s.collections[name].def)
	}
	clear(s.dirty)
	s.mu.Unlock()

	errs = append(errs, s.writeSnapshots(ctx, old, writes)...)
	s.flushMu.Unlock()
	if err := errors.Join(errs...); err != nil {
		s.logger.Printf("WARNING: flush before tenant switch failed: %v", err)
	}

	s.logger.Printf("Switched tenant %q -> %q", old, tenant)

	if tenant == "" {
		s.publishReset("")
		return nil
	}
	return s.Hydrate(ctx)
}

// Hydrate loads the active tenant's collections from persistence, replacing
// memory. Unreadable entries are logged and treated as empty.
func (s *Store) Hydrate(ctx context.Context) error {
	tenant := s.Tenant()
	if tenant == "" {
		return ErrNoTenant
	}

	loaded := make(map[string]*collection)
	var errs []error
	if s.adapter != nil {
		for _, def := range s.Collections() {
			c, err := s.load(ctx, tenant, def)
			if err != nil {
				s.logger.Printf("WARNING: failed to hydrate %s: %v", def.Name, err)
				errs = append(errs, err)
				continue
			}
			loaded[def.Name] = c
		}
	}

	s.mu.Lock()
	if s.tenant != tenant {
		// Switched again while loading; the newer switch hydrates itself
		s.mu.Unlock()
		return nil
	}
	for name, c := range loaded {
		if s.dirty[name] {
			// Local edits made before hydration finished win
			mergeLoaded(s.collections[name], c)
			continue
		}
		s.collections[name] = c
	}
	s.mu.Unlock()

	s.publishReset(tenant)
	return errors.Join(errs...)
}

// mergeLoaded adds persisted records that memory does not already hold.
func mergeLoaded(dst, src *collection) {
	for id, rec := range src.records {
		if _, ok := dst.records[id]; ok {
			continue
		}
		if _, ok := dst.pending[id]; ok {
			continue
		}
		dst.records[id] = rec
	}
	for id, at := range src.pending {
		if _, ok := dst.records[id]; !ok {
			dst.pending[id] = at
		}
	}
}

func (s *Store) load(ctx context.Context, tenant string, def schema.Collection) (*collection, error) {
	c := newCollection(def)

	raw, ok, err := s.adapter.GetItem(ctx, CollectionKey(tenant, def.Name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return c, nil
	}

	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", def.Name, err)
	}
	for _, rec := range snap.Records {
		if err := rec.Validate(); err != nil {
			s.logger.Printf("WARNING: dropping invalid persisted record in %s: %v", def.Name, err)
			continue
		}
		c.records[rec.ID] = rec
	}
	for _, p := range snap.PendingDeletions {
		c.pending[p.ID] = p.DeletedAt
	}
	return c, nil
}

func (s *Store) publishReset(tenant string) {
	changes := make([]Change, 0, len(s.order))
	for _, name := range s.order {
		changes = append(changes, Change{Tenant: tenant, Collection: name, Kind: ChangeReset})
	}
	s.publish(changes...)
}

// Flush writes every dirty collection now. Failures are logged, the
// collection stays dirty, and the combined error is returned.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	tenant := s.tenant
	writes, errs := s.takeDirtyLocked()
	s.mu.Unlock()

	errs = append(errs, s.writeSnapshots(ctx, tenant, writes)...)
	return errors.Join(errs...)
}

type pendingWrite struct {
	name string
	key  string
	data []byte
}

// takeDirtyLocked encodes every dirty collection of the current scope and
// clears its dirty mark. Caller holds mu.
func (s *Store) takeDirtyLocked() ([]pendingWrite, []error) {
	if s.adapter == nil || s.tenant == "" {
		clear(s.dirty)
		return nil, nil
	}

	var writes []pendingWrite
	var errs []error
	for _, name := range s.order {
		if !s.dirty[name] {
			continue
		}
		data, err := json.Marshal(s.snapshotLocked(s.collections[name]))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to encode %s: %w", name, err))
			continue
		}
		writes = append(writes, pendingWrite{name: name, key: CollectionKey(s.tenant, name), data: data})
		delete(s.dirty, name)
	}
	return writes, errs
}

// writeSnapshots stores writes taken for tenant. A failed write marks the
// collection dirty again while tenant is still active.
func (s *Store) writeSnapshots(ctx context.Context, tenant string, writes []pendingWrite) []error {
	var errs []error
	for _, w := range writes {
		if err := s.adapter.SetItem(ctx, w.key, string(w.data)); err != nil {
			s.logger.Printf("WARNING: failed to persist %s: %v", w.name, err)
			errs = append(errs, err)

			s.mu.Lock()
			if s.tenant == tenant {
				s.dirty[w.name] = true
			}
			s.mu.Unlock()
		}
	}
	return errs
}

func (s *Store) snapshotLocked(c *collection) snapshot {
	snap := snapshot{Records: make([]schema.Record, 0, len(c.records))}
	for _, rec := range c.records {
		snap.Records = append(snap.Records, rec)
	}
	sortRecords(snap.Records)
	for id, at := range c.pending {
		snap.PendingDeletions = append(snap.PendingDeletions, pendingDeletion{ID: id, DeletedAt: at})
	}
	return snap
}

// Start runs the debounced background flusher until ctx is canceled or
// Close is called.
func (s *Store) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = make(chan struct{})

	go s.flushLoop(ctx, s.stopped)
}

func (s *Store) flushLoop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		timer := time.NewTimer(s.config.Debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Printf("Background flush failed: %v", err)
		}
	}
}

// Close stops the flusher and writes any remaining changes.
func (s *Store) Close() error {
	s.runMu.Lock()
	if s.cancel != nil {
		s.cancel()
		<-s.stopped
		s.cancel = nil
	}
	s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Flush(ctx)
}
