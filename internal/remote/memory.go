package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopkeep/shopsync/internal/schema"
)

// Ensure Memory implements the Gateway interface.
var _ Gateway = (*Memory)(nil)

// Calls counts gateway operations that reached the backend.
type Calls struct {
	Fetch  int
	Upsert int
	Delete int
}

// Memory is an in-process Gateway. It behaves like a real backend
// (tenant filtering, full-row replacement, common write timestamp) and
// exposes hooks to inject latency and failures.
type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]schema.RemoteRow // table -> business_id/id -> row
	calls  Calls
	now    func() time.Time

	// BeforeCall runs before every operation that reaches the backend.
	// Returning an error fails the call with that error.
	BeforeCall func(ctx context.Context, op, table string) error
}

// NewMemory creates an empty in-memory gateway. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	return &Memory{
		tables: make(map[string]map[string]schema.RemoteRow),
		now:    nowFunc(now),
	}
}

func rowKey(businessID, id string) string {
	return businessID + "/" + id
}

// Seed stores a row as-is, bypassing stamping. Used to simulate other devices.
func (m *Memory) Seed(table string, row schema.RemoteRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tables[table]
	if t == nil {
		t = make(map[string]schema.RemoteRow)
		m.tables[table] = t
	}
	t[rowKey(row.BusinessID, row.ID)] = row
}

// Calls returns the operation counters.
func (m *Memory) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Rows returns the rows of a tenant sorted by id, without counting a call.
func (m *Memory) Rows(table, businessID string) []schema.RemoteRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rowsLocked(table, businessID)
}

func (m *Memory) rowsLocked(table, businessID string) []schema.RemoteRow {
	var out []schema.RemoteRow
	for _, row := range m.tables[table] {
		if row.BusinessID == businessID {
			row.Data = append([]byte(nil), row.Data...)
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) before(ctx context.Context, op, table string) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: op, Table: table, Err: err}
	}
	if m.BeforeCall != nil {
		if err := m.BeforeCall(ctx, op, table); err != nil {
			return &TransportError{Op: op, Table: table, Err: err}
		}
	}
	return nil
}

// FetchCollection implements Gateway.FetchCollection.
func (m *Memory) FetchCollection(ctx context.Context, table, businessID string) ([]schema.RemoteRow, error) {
	if err := checkArgs("fetch", table, businessID); err != nil {
		return nil, err
	}
	if err := m.before(ctx, "fetch", table); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Fetch++
	return m.rowsLocked(table, businessID), nil
}

// UpsertCollection implements Gateway.UpsertCollection.
func (m *Memory) UpsertCollection(ctx context.Context, table, businessID string, records []schema.Record) (time.Time, error) {
	if len(records) == 0 {
		return time.Time{}, nil
	}
	if err := checkArgs("upsert", table, businessID); err != nil {
		return time.Time{}, err
	}
	if err := m.before(ctx, "upsert", table); err != nil {
		return time.Time{}, err
	}

	stamp := schema.Stamp(m.now())
	rows, err := buildRows("upsert", table, businessID, records, stamp)
	if err != nil {
		return time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Upsert++

	t := m.tables[table]
	if t == nil {
		t = make(map[string]schema.RemoteRow)
		m.tables[table] = t
	}
	for _, row := range rows {
		t[rowKey(businessID, row.ID)] = row
	}
	return stamp, nil
}

// DeleteByIDs implements Gateway.DeleteByIDs.
func (m *Memory) DeleteByIDs(ctx context.Context, table, businessID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := checkArgs("delete", table, businessID); err != nil {
		return err
	}
	if err := m.before(ctx, "delete", table); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.Delete++

	for _, id := range ids {
		delete(m.tables[table], rowKey(businessID, id))
	}
	return nil
}

// Close implements Gateway.Close.
func (m *Memory) Close() error {
	return nil
}
