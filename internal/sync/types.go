package sync

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the coordinator.
var (
	// ErrSyncInProgress is returned by Sync while another cycle runs.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrNoTenant is returned by Sync when no tenant is signed in.
	ErrNoTenant = errors.New("not signed in to a business")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)

// Reason is why a cycle started.
type Reason string

const (
	ReasonHydrated   Reason = "hydrated"    // local persistence finished loading
	ReasonAuthChange Reason = "auth_change" // signed in or tenant changed
	ReasonManual     Reason = "manual"      // user-initiated refresh
	ReasonInterval   Reason = "interval"    // periodic refresh
)

// Status is the coordinator state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// CollectionResult reports one collection within a cycle.
type CollectionResult struct {
	Collection   string        `json:"collection"`
	Pulled       int           `json:"pulled"`
	Unchanged    int           `json:"unchanged"`
	LocalNewer   int           `json:"local_newer"`
	Skipped      int           `json:"skipped"`
	Rejected     int           `json:"rejected"`
	Pushed       int           `json:"pushed"`
	Acknowledged int           `json:"acknowledged"`
	Deleted      int           `json:"deleted"`
	FailedOp     string        `json:"failed_op,omitempty"` // fetch, merge, upsert, delete
	Err          error         `json:"-"`
	Duration     time.Duration `json:"duration"`
}

// CycleResult reports one sync cycle.
type CycleResult struct {
	Reason      Reason             `json:"reason"`
	Tenant      string             `json:"tenant"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Collections []CollectionResult `json:"collections"`

	// Discarded is set when the cycle was canceled, e.g. by a tenant change.
	Discarded bool `json:"discarded"`
}

// Failed reports whether any collection failed.
func (r *CycleResult) Failed() bool {
	for _, c := range r.Collections {
		if c.Err != nil {
			return true
		}
	}
	return false
}

// Err joins the collection errors, or returns nil.
func (r *CycleResult) Err() error {
	var errs []error
	for _, c := range r.Collections {
		if c.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Collection, c.Err))
		}
	}
	return errors.Join(errs...)
}

// Status returns the status a finished cycle leaves the coordinator in.
func (r *CycleResult) Status() Status {
	switch {
	case r.Discarded:
		return StatusIdle
	case r.Failed():
		return StatusError
	default:
		return StatusSynced
	}
}

// Totals sums the counters over all collections.
func (r *CycleResult) Totals() (pulled, pushed, deleted int) {
	for _, c := range r.Collections {
		pulled += c.Pulled
		pushed += c.Pushed
		deleted += c.Deleted
	}
	return pulled, pushed, deleted
}

// StatusEvent is published on every status change.
type StatusEvent struct {
	Status Status       `json:"status"`
	Reason Reason       `json:"reason,omitempty"`
	Tenant string       `json:"tenant,omitempty"`
	Result *CycleResult `json:"result,omitempty"`
	At     time.Time    `json:"at"`
}
