package sync

import (
	"context"

	"github.com/shopkeep/shopsync/internal/auth"
)

// Coordinator runs sync cycles between the local store and the remote gateway.
//
// A cycle fetches, merges, pushes and deletes for every registered
// collection concurrently. At most one cycle runs at a time. Failures of one
// collection do not stop the others and are reported in the cycle result,
// never as panics.
type Coordinator interface {
	// SetSession updates the signed-in user and tenant.
	//
	// When the tenant changes, the in-flight cycle is canceled and awaited,
	// the store is switched to the new tenant scope, and a new cycle is
	// triggered if the session is signed in. The first session after start
	// triggers ReasonHydrated, later changes ReasonAuthChange.
	//
	// Example:
	//   err := coord.SetSession(ctx, auth.Session{BusinessID: "biz1", UserID: "u1", SignedIn: true})
	SetSession(ctx context.Context, s auth.Session) error

	// Session returns the current session.
	Session() auth.Session

	// Sync runs one cycle and waits for it.
	//
	// Returns ErrSyncInProgress if a cycle is already running and ErrNoTenant
	// when signed out. Gateway failures do not produce an error here; they
	// are reported per collection in the result.
	//
	// Example:
	//   res, err := coord.Sync(ctx, sync.ReasonManual)
	Sync(ctx context.Context, reason Reason) (*CycleResult, error)

	// Trigger starts a cycle in the background.
	//
	// Returns false when the request was coalesced into a running cycle or
	// no tenant is active.
	Trigger(reason Reason) bool

	// Status returns the current coordinator status.
	Status() Status

	// LastResult returns the result of the most recent finished cycle, or nil.
	LastResult() *CycleResult

	// Subscribe registers fn for status changes. The returned function removes it.
	Subscribe(fn func(StatusEvent)) func()

	// Wait blocks until no cycle is running.
	Wait()

	// Close cancels any running cycle and stops background work.
	Close() error
}
