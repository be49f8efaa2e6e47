// Package store holds the local, authoritative-for-the-session view of every
// collection for one tenant.
//
// Callers mutate records through Create, Put and Delete; every mutation is
// stamped with a fresh UTC timestamp and published to subscribers. Deletes
// are kept as pending deletions until the sync coordinator confirms them
// remotely. Collections are persisted through a persist.Adapter on a
// debounced schedule so the store survives restarts.
//
// The coordinator uses Merge, Outgoing, Acknowledge, PendingDeletions and
// ClearPendingDeletions. Each of these takes the tenant the caller believes
// is current and fails with ErrTenantMismatch when the store has moved on.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/schema"
)

// Sentinel errors returned by the store.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned by Create when the payload id is already taken.
	ErrExists = errors.New("record already exists")

	// ErrUnknownCollection is returned for collections the store was not built with.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrNoTenant is returned when no tenant scope is active.
	ErrNoTenant = errors.New("no active tenant")

	// ErrTenantMismatch is returned when a sync hook targets a tenant that
	// is no longer active.
	ErrTenantMismatch = errors.New("tenant mismatch")
)

// ChangeKind describes what happened to a record.
type ChangeKind string

const (
	ChangePut    ChangeKind = "put"    // local create or update
	ChangeDelete ChangeKind = "delete" // local delete
	ChangeMerge  ChangeKind = "merge"  // remote row applied
	ChangeReset  ChangeKind = "reset"  // collection reloaded (hydrate, tenant switch)
)

// Change is published to subscribers after every store change.
type Change struct {
	Tenant     string
	Collection string
	Kind       ChangeKind
	ID         string         // empty for ChangeReset
	Record     *schema.Record // nil for ChangeDelete and ChangeReset
}

// Config configures a Store.
type Config struct {
	// Debounce is the delay between a mutation and the persistence write
	// (default: 500ms).
	Debounce time.Duration

	// Now overrides the clock (optional).
	Now func() time.Time

	// Logger for persistence warnings (optional).
	Logger *log.Logger
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Debounce: 500 * time.Millisecond,
	}
}

type collection struct {
	def     schema.Collection
	records map[string]schema.Record
	pending map[string]time.Time // id -> deleted at
}

func newCollection(def schema.Collection) *collection {
	return &collection{
		def:     def,
		records: make(map[string]schema.Record),
		pending: make(map[string]time.Time),
	}
}

// Store is the local collection store.
type Store struct {
	adapter persist.Adapter
	config  Config
	logger  *log.Logger
	now     func() time.Time

	mu          sync.RWMutex
	tenant      string
	collections map[string]*collection
	order       []string
	dirty       map[string]bool

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	flushMu sync.Mutex
	kick    chan struct{}

	runMu   sync.Mutex
	cancel  func()
	stopped chan struct{}
}

// New creates a store for the given collections. adapter may be nil, in
// which case nothing is persisted.
func New(adapter persist.Adapter, collections []schema.Collection, cfg Config) (*Store, error) {
	if len(collections) == 0 {
		return nil, fmt.Errorf("at least one collection is required")
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		adapter:     adapter,
		config:      cfg,
		logger:      logger,
		now:         now,
		collections: make(map[string]*collection, len(collections)),
		dirty:       make(map[string]bool),
		subs:        make(map[int]func(Change)),
		kick:        make(chan struct{}, 1),
	}

	for _, def := range collections {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.collections[def.Name]; dup {
			return nil, fmt.Errorf("duplicate collection %q", def.Name)
		}
		s.collections[def.Name] = newCollection(def)
		s.order = append(s.order, def.Name)
	}

	return s, nil
}

// Tenant returns the active tenant, or "" when signed out.
func (s *Store) Tenant() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant
}

// Collections returns the collection definitions in registration order.
func (s *Store) Collections() []schema.Collection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Collection, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.collections[name].def)
	}
	return out
}

// Subscribe registers fn for every change. The returned function removes it.
// fn runs synchronously after the store lock is released and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) publish(changes ...Change) {
	if len(changes) == 0 {
		return
	}
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

// scope returns the named collection of the active tenant. Caller holds mu.
func (s *Store) scope(name string) (*collection, error) {
	if s.tenant == "" {
		return nil, ErrNoTenant
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

// scopeFor is scope with a tenant check for sync hooks. Caller holds mu.
func (s *Store) scopeFor(tenant, name string) (*collection, error) {
	if s.tenant == "" {
		return nil, ErrNoTenant
	}
	if tenant != s.tenant {
		return nil, fmt.Errorf("%w: store is scoped to %q, not %q", ErrTenantMismatch, s.tenant, tenant)
	}
	return s.scope(name)
}

// stamp returns a timestamp strictly after prev. Caller holds mu.
func (s *Store) stamp(prev time.Time) time.Time {
	t := schema.Stamp(s.now())
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

// markDirty schedules a persistence write. Caller holds mu.
func (s *Store) markDirty(name string) {
	s.dirty[name] = true
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Create adds a new record. The id is taken from the payload's "id" field,
// or generated when missing.
func (s *Store) Create(collectionName string, data json.RawMessage) (schema.Record, error) {
	id, err := schema.PayloadID(data)
	if err != nil {
		return schema.Record{}, err
	}
	if id == "" {
		id = uuid.NewString()
		if data, err = schema.WithID(data, id); err != nil {
			return schema.Record{}, err
		}
	}

	s.mu.Lock()
	c, err := s.scope(collectionName)
	if err != nil {
		s.mu.Unlock()
		return schema.Record{}, err
	}
	if _, exists := c.records[id]; exists {
		s.mu.Unlock()
		return schema.Record{}, fmt.Errorf("%w: %s/%s", ErrExists, collectionName, id)
	}
	rec, change, err := s.putLocked(c, id, data)
	s.mu.Unlock()
	if err != nil {
		return schema.Record{}, err
	}

	s.publish(change)
	return rec, nil
}

// Put creates or replaces the record with the given id.
func (s *Store) Put(collectionName, id string, data json.RawMessage) (schema.Record, error) {
	data, err := schema.WithID(data, id)
	if err != nil {
		return schema.Record{}, err
	}

	s.mu.Lock()
	c, err := s.scope(collectionName)
	if err != nil {
		s.mu.Unlock()
		return schema.Record{}, err
	}
	rec, change, err := s.putLocked(c, id, data)
	s.mu.Unlock()
	if err != nil {
		return schema.Record{}, err
	}

	s.publish(change)
	return rec, nil
}

func (s *Store) putLocked(c *collection, id string, data json.RawMessage) (schema.Record, Change, error) {
	prev := c.records[id]
	rec := schema.Record{
		ID:        id,
		Data:      append(json.RawMessage(nil), data...),
		UpdatedAt: s.stamp(prev.UpdatedAt),
		CreatedBy: prev.CreatedBy,
	}
	if err := rec.Validate(); err != nil {
		return schema.Record{}, Change{}, fmt.Errorf("invalid record: %w", err)
	}

	// A re-created id must not be removed remotely by a stale deletion
	delete(c.pending, id)
	c.records[id] = rec
	s.markDirty(c.def.Name)

	out := rec.Clone()
	return rec.Clone(), Change{
		Tenant:     s.tenant,
		Collection: c.def.Name,
		Kind:       ChangePut,
		ID:         id,
		Record:     &out,
	}, nil
}

// Delete removes a record locally and queues it for remote deletion.
func (s *Store) Delete(collectionName, id string) error {
	s.mu.Lock()
	c, err := s.scope(collectionName)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	rec, ok := c.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collectionName, id)
	}
	delete(c.records, id)
	c.pending[id] = s.stamp(rec.UpdatedAt)
	s.markDirty(collectionName)
	change := Change{Tenant: s.tenant, Collection: collectionName, Kind: ChangeDelete, ID: id}
	s.mu.Unlock()

	s.publish(change)
	return nil
}

// Get returns a copy of one record.
func (s *Store) Get(collectionName, id string) (schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.scope(collectionName)
	if err != nil {
		return schema.Record{}, err
	}
	rec, ok := c.records[id]
	if !ok {
		return schema.Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collectionName, id)
	}
	return rec.Clone(), nil
}

// List returns copies of all records in a collection, sorted by id.
func (s *Store) List(collectionName string) ([]schema.Record, error) {
	return s.ListChangedSince(collectionName, time.Time{})
}

// ListChangedSince returns records updated strictly after since, sorted by id.
func (s *Store) ListChangedSince(collectionName string, since time.Time) ([]schema.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.scope(collectionName)
	if err != nil {
		return nil, err
	}

	out := make([]schema.Record, 0, len(c.records))
	for _, rec := range c.records {
		if rec.UpdatedAt.After(since) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Name             string    `json:"name"`
	Records          int       `json:"records"`
	PendingDeletions int       `json:"pending_deletions"`
	Unsaved          bool      `json:"unsaved"`
	LastChange       time.Time `json:"last_change,omitempty"`
}

// Stats returns per-collection counters in registration order.
func (s *Store) Stats() []CollectionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CollectionStats, 0, len(s.order))
	for _, name := range s.order {
		c := s.collections[name]
		st := CollectionStats{
			Name:             name,
			Records:          len(c.records),
			PendingDeletions: len(c.pending),
			Unsaved:          s.dirty[name],
		}
		for _, rec := range c.records {
			if rec.UpdatedAt.After(st.LastChange) {
				st.LastChange = rec.UpdatedAt
			}
		}
		out = append(out, st)
	}
	return out
}

func sortRecords(recs []schema.Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
}
