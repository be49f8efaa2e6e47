// Package sync provides the coordinator that keeps the local collection
// store and the remote backend in step.
//
// Overview
//
// The store is the source of truth for reads. The coordinator runs cycles
// that reconcile it with the backend: every registered collection is
// fetched, merged with last-write-wins, pushed and purged of pending
// deletions. Collections run concurrently and fail independently.
//
// Architecture
//
//	               Coordinator
//	      ┌──────────────┼──────────────┐
//	  products        orders  ...    settings      one goroutine each
//	      │
//	      ├── FetchCollection   → store.Merge
//	      ├── store.Outgoing    → UpsertCollection → store.Acknowledge
//	      └── PendingDeletions  → DeleteByIDs      → ClearPendingDeletions
//
// Usage
//
//	gw := remote.NewMemory(nil)
//	st, _ := store.New(persist.NewMemory(), schema.DefaultCollections(), store.DefaultConfig())
//	coord := sync.New(gw, st, sync.DefaultConfig())
//	defer coord.Close()
//
//	// The first session loads local data and triggers a hydrated cycle.
//	coord.SetSession(ctx, auth.Session{BusinessID: "biz1", UserID: "u1", SignedIn: true})
//	coord.Wait()
//
//	// A manual refresh.
//	res, err := coord.Sync(ctx, sync.ReasonManual)
//
// Triggers
//
// Cycles start on hydration, on sign-in or tenant change, on manual refresh
// and optionally on an interval. Only one cycle runs at a time: Trigger
// returns false while one is in flight and Sync returns ErrSyncInProgress.
//
// Tenant changes
//
// SetSession with a different tenant cancels the running cycle and waits
// for it. Results of a canceled cycle are reported with Discarded set, and
// the store rejects writes that still target the old tenant.
//
// Error Handling
//
//   - Gateway failures stop only the affected collection
//   - Failures are reported in CycleResult, never returned from Trigger
//   - The status becomes error and returns to idle after the cooldown
package sync
