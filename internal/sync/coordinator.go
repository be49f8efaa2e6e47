package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"time"

	"github.com/shopkeep/shopsync/internal/auth"
	"github.com/shopkeep/shopsync/internal/metrics"
	"github.com/shopkeep/shopsync/internal/remote"
	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/store"
)

// Ensure coordinator implements the Coordinator interface.
var _ Coordinator = (*coordinator)(nil)

// Config configures a Coordinator.
type Config struct {
	// Cooldown is how long the synced or error status is shown before the
	// coordinator reports idle again (default: 3s).
	Cooldown time.Duration

	// Now overrides the clock (optional).
	Now func() time.Time

	// Logger for cycle progress and failures (optional).
	Logger *log.Logger

	// Metrics records cycle and collection metrics (optional).
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown: 3 * time.Second,
	}
}

// cycle is the state of the running cycle.
type cycle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	reason Reason
	tenant string
	userID string
}

type coordinator struct {
	gw          remote.Gateway
	store       *store.Store
	collections []schema.Collection
	config      Config
	logger      *log.Logger
	now         func() time.Time
	metrics     *metrics.Metrics

	// sessionMu serializes session changes.
	sessionMu gosync.Mutex

	mu       gosync.Mutex
	session  auth.Session
	status   Status
	last     *CycleResult
	running  *cycle
	cooldown *time.Timer
	closed   bool

	// hydrated is set once the first session has loaded local data.
	hydrated bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	background gosync.WaitGroup

	subMu   gosync.Mutex
	subs    map[int]func(StatusEvent)
	nextSub int
}

// New creates a coordinator syncing every collection registered in st
// through gw. The coordinator starts signed out; call SetSession.
func New(gw remote.Gateway, st *store.Store, cfg Config) Coordinator {
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &coordinator{
		gw:          gw,
		store:       st,
		collections: st.Collections(),
		config:      cfg,
		logger:      logger,
		now:         now,
		metrics:     cfg.Metrics,
		status:      StatusIdle,
		baseCtx:     ctx,
		baseCancel:  cancel,
		subs:        make(map[int]func(StatusEvent)),
	}
}

// SetSession implements Coordinator.SetSession.
func (c *coordinator) SetSession(ctx context.Context, s auth.Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prev := c.session.Tenant()
	c.session = s
	running := c.running
	c.mu.Unlock()

	next := s.Tenant()
	if prev == next && c.store.Tenant() == next {
		return nil
	}

	if running != nil {
		c.logger.Printf("tenant changed, canceling %s cycle for %s", running.reason, running.tenant)
		running.cancel()
		select {
		case <-running.done:
		case <-ctx.Done():
			return fmt.Errorf("failed to wait for canceled cycle: %w", ctx.Err())
		}
	}

	// Hydration failures leave the scope empty but usable.
	if c.store.Tenant() != next {
		if err := c.store.SwitchTenant(ctx, next); err != nil {
			c.logger.Printf("WARNING: failed to load local data for %q: %v", next, err)
		}
	}

	c.mu.Lock()
	reason := ReasonAuthChange
	if !c.hydrated {
		reason = ReasonHydrated
	}
	c.hydrated = true
	c.mu.Unlock()

	if next != "" {
		c.Trigger(reason)
	} else {
		c.setStatus(StatusIdle, "", "", nil)
	}
	return nil
}

// Session implements Coordinator.Session.
func (c *coordinator) Session() auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// begin claims the single cycle slot.
func (c *coordinator) begin(parent context.Context, reason Reason) (*cycle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.running != nil {
		return nil, ErrSyncInProgress
	}
	tenant := c.session.Tenant()
	if tenant == "" || c.store.Tenant() != tenant {
		return nil, ErrNoTenant
	}

	ctx, cancel := context.WithCancel(parent)
	cy := &cycle{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		reason: reason,
		tenant: tenant,
		userID: c.session.UserID,
	}
	c.running = cy
	c.status = StatusSyncing
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}
	return cy, nil
}

// Sync implements Coordinator.Sync.
func (c *coordinator) Sync(ctx context.Context, reason Reason) (*CycleResult, error) {
	cy, err := c.begin(ctx, reason)
	if err != nil {
		return nil, err
	}
	return c.run(cy), nil
}

// Trigger implements Coordinator.Trigger.
func (c *coordinator) Trigger(reason Reason) bool {
	cy, err := c.begin(c.baseCtx, reason)
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			c.logger.Printf("%s sync coalesced into running cycle", reason)
		}
		return false
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.run(cy)
	}()
	return true
}

// run executes a claimed cycle and releases the slot.
func (c *coordinator) run(cy *cycle) *CycleResult {
	c.publish(StatusEvent{Status: StatusSyncing, Reason: cy.reason, Tenant: cy.tenant, At: c.now()})
	c.metrics.RecordCycleStart()

	res := &CycleResult{
		Reason:      cy.reason,
		Tenant:      cy.tenant,
		StartedAt:   c.now(),
		Collections: make([]CollectionResult, len(c.collections)),
	}

	var wg gosync.WaitGroup
	for i, def := range c.collections {
		wg.Add(1)
		go func(i int, def schema.Collection) {
			defer wg.Done()
			res.Collections[i] = c.syncCollection(cy, def)
		}(i, def)
	}
	wg.Wait()

	res.FinishedAt = c.now()
	if cy.ctx.Err() != nil {
		res.Discarded = true
	}
	for _, cr := range res.Collections {
		if errors.Is(cr.Err, store.ErrTenantMismatch) || errors.Is(cr.Err, store.ErrNoTenant) {
			res.Discarded = true
		}
	}
	cy.cancel()

	c.finish(cy, res)
	return res
}

func (c *coordinator) finish(cy *cycle, res *CycleResult) {
	status := res.Status()
	elapsed := res.FinishedAt.Sub(res.StartedAt)

	c.metrics.RecordCycle(string(res.Reason), string(status), elapsed.Seconds())
	for _, st := range c.store.Stats() {
		c.metrics.UpdateStore(st.Name, st.Records, st.PendingDeletions)
	}

	pulled, pushed, deleted := res.Totals()
	switch {
	case res.Discarded:
		c.logger.Printf("%s cycle for %s discarded after %v", res.Reason, res.Tenant, elapsed)
	case res.Failed():
		c.logger.Printf("%s cycle for %s finished with errors in %v: %v", res.Reason, res.Tenant, elapsed, res.Err())
	default:
		c.logger.Printf("%s cycle for %s: pulled %d, pushed %d, deleted %d in %v",
			res.Reason, res.Tenant, pulled, pushed, deleted, elapsed)
	}

	c.mu.Lock()
	c.running = nil
	if !res.Discarded {
		c.last = res
	}
	c.status = status
	if status != StatusIdle && !c.closed {
		c.cooldown = time.AfterFunc(c.config.Cooldown, c.coolDown)
	}
	close(cy.done)
	c.mu.Unlock()

	c.publish(StatusEvent{Status: status, Reason: res.Reason, Tenant: res.Tenant, Result: res, At: c.now()})
}

// coolDown returns a finished status to idle unless a new cycle started.
func (c *coordinator) coolDown() {
	c.mu.Lock()
	if c.running != nil || c.status == StatusIdle || c.status == StatusSyncing {
		c.mu.Unlock()
		return
	}
	c.status = StatusIdle
	c.cooldown = nil
	tenant := c.session.Tenant()
	c.mu.Unlock()

	c.publish(StatusEvent{Status: StatusIdle, Tenant: tenant, At: c.now()})
}

func (c *coordinator) setStatus(status Status, reason Reason, tenant string, res *CycleResult) {
	c.mu.Lock()
	if c.status == status {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.mu.Unlock()

	c.publish(StatusEvent{Status: status, Reason: reason, Tenant: tenant, Result: res, At: c.now()})
}

// syncCollection runs fetch, merge, push and delete for one collection.
// Any failure stops this collection only.
func (c *coordinator) syncCollection(cy *cycle, def schema.Collection) CollectionResult {
	start := c.now()
	res := CollectionResult{Collection: def.Name}
	fail := func(op string, err error) CollectionResult {
		res.FailedOp = op
		res.Err = err
		res.Duration = c.now().Sub(start)
		if cy.ctx.Err() == nil {
			c.logger.Printf("ERROR: %s %s: %v", def.Name, op, err)
			c.metrics.RecordCollectionFailure(def.Name, op)
		}
		return res
	}

	// Only deletions queued before the fetch are sent this cycle.
	pending, err := c.store.PendingDeletions(cy.tenant, def.Name)
	if err != nil {
		return fail("merge", err)
	}

	rows, err := c.gw.FetchCollection(cy.ctx, def.Name, cy.tenant)
	if err != nil {
		return fail("fetch", err)
	}
	if err := cy.ctx.Err(); err != nil {
		return fail("fetch", err)
	}

	merged, err := c.store.Merge(cy.tenant, def.Name, rows)
	if err != nil {
		return fail("merge", err)
	}
	res.Pulled = merged.Applied
	res.Unchanged = merged.Unchanged
	res.LocalNewer = merged.LocalNewer
	res.Skipped = merged.Skipped
	res.Rejected = merged.Rejected

	known := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		known[row.ID] = schema.Stamp(row.UpdatedAt)
	}
	outgoing, err := c.store.Outgoing(cy.tenant, def.Name, known)
	if err != nil {
		return fail("merge", err)
	}

	if len(outgoing) > 0 {
		if def.Settings {
			for i := range outgoing {
				outgoing[i].CreatedBy = cy.userID
			}
		}
		stamp, err := c.gw.UpsertCollection(cy.ctx, def.Name, cy.tenant, outgoing)
		if err != nil {
			return fail("upsert", err)
		}
		res.Pushed = len(outgoing)
		res.Acknowledged, err = c.store.Acknowledge(cy.tenant, def.Name, outgoing, stamp)
		if err != nil {
			return fail("upsert", err)
		}
	}

	if len(pending) > 0 {
		if err := c.gw.DeleteByIDs(cy.ctx, def.Name, cy.tenant, pending); err != nil {
			return fail("delete", err)
		}
		if err := c.store.ClearPendingDeletions(cy.tenant, def.Name, pending); err != nil {
			return fail("delete", err)
		}
		res.Deleted = len(pending)
	}

	res.Duration = c.now().Sub(start)
	c.metrics.RecordCollection(def.Name, res.Pulled, res.Pushed, res.Deleted, res.Rejected)
	return res
}

// Status implements Coordinator.Status.
func (c *coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastResult implements Coordinator.LastResult.
func (c *coordinator) LastResult() *CycleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Subscribe implements Coordinator.Subscribe.
func (c *coordinator) Subscribe(fn func(StatusEvent)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *coordinator) publish(ev StatusEvent) {
	c.subMu.Lock()
	fns := make([]func(StatusEvent), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Wait implements Coordinator.Wait.
func (c *coordinator) Wait() {
	for {
		c.mu.Lock()
		cy := c.running
		c.mu.Unlock()
		if cy == nil {
			return
		}
		<-cy.done
	}
}

// Close implements Coordinator.Close.
func (c *coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.running != nil {
		c.running.cancel()
	}
	if c.cooldown != nil {
		c.cooldown.Stop()
		c.cooldown = nil
	}
	c.mu.Unlock()

	c.baseCancel()
	c.background.Wait()
	c.Wait()
	return nil
}
