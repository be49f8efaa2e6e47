// Package remote talks to the hosted relational backend that stores every
// collection as a table of tenant-scoped rows.
//
// A Gateway exposes exactly three operations per table: fetch all rows of a
// tenant, batch upsert keyed on (id, business_id), and delete by ids. It has
// no retry policy; failures surface as *TransportError and the caller decides.
//
// Implementations:
//   - REST: Supabase / PostgREST over HTTP
//   - SQL: libSQL (Turso) or plain SQLite through database/sql
//   - Memory: in-process, for tests and offline demos
package remote

import (
	"context"
	"time"

	"github.com/shopkeep/shopsync/internal/schema"
)

// Gateway is a thin adapter over the remote collection store.
type Gateway interface {
	// FetchCollection returns every row of table belonging to businessID.
	// The result is never partial: either all rows or an error.
	FetchCollection(ctx context.Context, table, businessID string) ([]schema.RemoteRow, error)

	// UpsertCollection writes records in one batch keyed on (id, business_id).
	// Every row is stamped with the same write timestamp, which is returned.
	// An empty batch makes no remote call and returns the zero time.
	UpsertCollection(ctx context.Context, table, businessID string, records []schema.Record) (time.Time, error)

	// DeleteByIDs removes the given ids for businessID. Unknown ids are ignored.
	DeleteByIDs(ctx context.Context, table, businessID string, ids []string) error

	// Close releases connections held by the gateway.
	Close() error
}

// checkArgs validates the table and tenant shared by every operation.
func checkArgs(op, table, businessID string) error {
	if err := schema.ValidateName(table); err != nil {
		return &TransportError{Op: op, Table: table, Err: ErrInvalidTable}
	}
	if businessID == "" {
		return &TransportError{Op: op, Table: table, Err: ErrTenantRequired}
	}
	return nil
}

// buildRows stamps records with the write time and wraps them for the wire.
func buildRows(op, table, businessID string, records []schema.Record, stamp time.Time) ([]schema.RemoteRow, error) {
	rows := make([]schema.RemoteRow, 0, len(records))
	for _, rec := range records {
		rec.UpdatedAt = stamp
		row, err := schema.ToRemoteRow(rec, businessID)
		if err != nil {
			return nil, &TransportError{Op: op, Table: table, Err: err}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// filterTenant drops rows that belong to another tenant.
func filterTenant(rows []schema.RemoteRow, businessID string) []schema.RemoteRow {
	out := rows[:0]
	for _, row := range rows {
		if row.BusinessID == businessID {
			out = append(out, row)
		}
	}
	return out
}

// nowFunc returns the clock used for write timestamps.
func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
