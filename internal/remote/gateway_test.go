package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopkeep/shopsync/internal/schema"
)

var quietLogger = log.New(io.Discard, "", 0)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func rec(id, data string) schema.Record {
	return schema.Record{ID: id, Data: json.RawMessage(data)}
}

// exerciseGateway runs the gateway contract against a backend whose clock
// returns writeTime.
func exerciseGateway(t *testing.T, gw Gateway, writeTime time.Time) {
	t.Helper()
	ctx := context.Background()

	// Empty table fetch
	rows, err := gw.FetchCollection(ctx, "products", "biz1")
	if err != nil {
		t.Fatalf("FetchCollection() on empty table failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("FetchCollection() = %d rows, want 0", len(rows))
	}

	// Upsert stamps every row with the returned time
	stamp, err := gw.UpsertCollection(ctx, "products", "biz1", []schema.Record{
		rec("p1", `{"id":"p1","name":"Soap"}`),
		rec("p2", `{"id":"p2","name":"Rice"}`),
	})
	if err != nil {
		t.Fatalf("UpsertCollection() failed: %v", err)
	}
	if !stamp.Equal(schema.Stamp(writeTime)) {
		t.Errorf("stamp = %v, want %v", stamp, schema.Stamp(writeTime))
	}

	// Same ids in another tenant
	if _, err := gw.UpsertCollection(ctx, "products", "biz2", []schema.Record{
		rec("p1", `{"id":"p1","name":"Other"}`),
	}); err != nil {
		t.Fatalf("UpsertCollection(biz2) failed: %v", err)
	}

	rows, err = gw.FetchCollection(ctx, "products", "biz1")
	if err != nil {
		t.Fatalf("FetchCollection() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("FetchCollection() = %d rows, want 2", len(rows))
	}
	for _, row := range rows {
		if row.BusinessID != "biz1" {
			t.Errorf("row %s has business_id %q", row.ID, row.BusinessID)
		}
		if !row.UpdatedAt.Equal(stamp) {
			t.Errorf("row %s updated_at = %v, want %v", row.ID, row.UpdatedAt, stamp)
		}
		payload, version, err := schema.Unwrap(row.Data)
		if err != nil {
			t.Fatalf("Unwrap(%s) failed: %v", row.ID, err)
		}
		if version != schema.CurrentVersion {
			t.Errorf("row %s version = %d", row.ID, version)
		}
		var p map[string]any
		if err := json.Unmarshal(payload, &p); err != nil {
			t.Fatalf("payload not JSON: %v", err)
		}
		if p["name"] == "Other" {
			t.Error("tenant isolation violated")
		}
	}

	// Idempotent upsert: repeating leaves the same row set
	for range 2 {
		if _, err := gw.UpsertCollection(ctx, "products", "biz1", []schema.Record{
			rec("p1", `{"id":"p1","name":"Soap v2"}`),
		}); err != nil {
			t.Fatalf("repeat UpsertCollection() failed: %v", err)
		}
	}
	rows, _ = gw.FetchCollection(ctx, "products", "biz1")
	if len(rows) != 2 {
		t.Fatalf("after repeat upsert = %d rows, want 2", len(rows))
	}
	got, _ := rows[0].ToRecord()
	if !got.SameData(rec("p1", `{"id":"p1","name":"Soap v2"}`)) {
		t.Errorf("p1 data = %s, want full replacement", got.Data)
	}

	// Empty inputs are no-ops
	if ts, err := gw.UpsertCollection(ctx, "products", "biz1", nil); err != nil || !ts.IsZero() {
		t.Errorf("empty UpsertCollection() = %v, %v", ts, err)
	}
	if err := gw.DeleteByIDs(ctx, "products", "biz1", nil); err != nil {
		t.Errorf("empty DeleteByIDs() failed: %v", err)
	}

	// Delete then fetch; unknown ids are ignored
	if err := gw.DeleteByIDs(ctx, "products", "biz1", []string{"p1", "missing"}); err != nil {
		t.Fatalf("DeleteByIDs() failed: %v", err)
	}
	rows, _ = gw.FetchCollection(ctx, "products", "biz1")
	if len(rows) != 1 || rows[0].ID != "p2" {
		t.Errorf("after delete rows = %+v, want only p2", rows)
	}

	// Other tenant untouched
	rows, _ = gw.FetchCollection(ctx, "products", "biz2")
	if len(rows) != 1 {
		t.Errorf("biz2 rows = %d, want 1", len(rows))
	}

	// Settings rows carry created_by
	if _, err := gw.UpsertCollection(ctx, "settings", "biz1", []schema.Record{
		{ID: "s1", Data: json.RawMessage(`{"id":"s1","key":"currency","value":"KES"}`), CreatedBy: "user-1"},
	}); err != nil {
		t.Fatalf("UpsertCollection(settings) failed: %v", err)
	}
	rows, _ = gw.FetchCollection(ctx, "settings", "biz1")
	if len(rows) != 1 || rows[0].CreatedBy != "user-1" {
		t.Errorf("settings rows = %+v, want created_by user-1", rows)
	}

	// Argument errors
	_, err = gw.FetchCollection(ctx, "products", "")
	if !errors.Is(err, ErrTenantRequired) || !IsTransport(err) {
		t.Errorf("missing tenant error = %v", err)
	}
	_, err = gw.FetchCollection(ctx, "drop table;", "biz1")
	if !errors.Is(err, ErrInvalidTable) {
		t.Errorf("bad table error = %v", err)
	}

	// Invalid record rejects the whole batch
	_, err = gw.UpsertCollection(ctx, "products", "biz1", []schema.Record{
		rec("p3", `{"id":"p3"}`),
		rec("", `{}`),
	})
	if !IsTransport(err) {
		t.Errorf("invalid batch error = %v, want transport error", err)
	}
	rows, _ = gw.FetchCollection(ctx, "products", "biz1")
	for _, row := range rows {
		if row.ID == "p3" {
			t.Error("partial batch was written")
		}
	}
}

func TestMemoryGateway(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	exerciseGateway(t, NewMemory(fixedClock(now)), now)
}

func TestSQLGateway(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	gw, err := OpenSQLite(":memory:", SQLOptions{Now: fixedClock(now), Logger: quietLogger})
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	defer gw.Close()
	exerciseGateway(t, gw, now)
}

func TestMemoryGatewayCounters(t *testing.T) {
	gw := NewMemory(nil)
	ctx := context.Background()

	_, _ = gw.UpsertCollection(ctx, "orders", "biz1", nil)
	_ = gw.DeleteByIDs(ctx, "orders", "biz1", []string{})
	if calls := gw.Calls(); calls.Upsert != 0 || calls.Delete != 0 {
		t.Errorf("empty inputs reached the backend: %+v", calls)
	}

	_, _ = gw.FetchCollection(ctx, "orders", "biz1")
	if calls := gw.Calls(); calls.Fetch != 1 {
		t.Errorf("Fetch calls = %d, want 1", calls.Fetch)
	}
}

func TestMemoryGatewayFailureHook(t *testing.T) {
	gw := NewMemory(nil)
	boom := errors.New("connection reset")
	gw.BeforeCall = func(_ context.Context, op, _ string) error {
		if op == "upsert" {
			return boom
		}
		return nil
	}

	_, err := gw.UpsertCollection(context.Background(), "orders", "biz1", []schema.Record{rec("o1", `{"id":"o1"}`)})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped boom", err)
	}
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "upsert" || te.Table != "orders" {
		t.Errorf("transport error = %+v", te)
	}
	if len(gw.Rows("orders", "biz1")) != 0 {
		t.Error("failed upsert wrote rows")
	}
}

func TestSQLGatewayPersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/remote.db"
	ctx := context.Background()

	gw, err := OpenSQLite(path, SQLOptions{Logger: quietLogger})
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	if err := gw.InitSchema(ctx, "products", "orders"); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	stamp, err := gw.UpsertCollection(ctx, "orders", "biz1", []schema.Record{rec("o1", `{"id":"o1"}`)})
	if err != nil {
		t.Fatalf("UpsertCollection() failed: %v", err)
	}
	_ = gw.Close()

	gw, err = OpenSQLite(path, SQLOptions{Logger: quietLogger})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer gw.Close()

	rows, err := gw.FetchCollection(ctx, "orders", "biz1")
	if err != nil {
		t.Fatalf("FetchCollection() failed: %v", err)
	}
	if len(rows) != 1 || !rows[0].UpdatedAt.Equal(stamp) {
		t.Errorf("rows = %+v, want o1 stamped %v", rows, stamp)
	}
}

func TestOpenLibSQLRejectsBadURL(t *testing.T) {
	tests := []string{"", "postgres://host/db", "://bad"}
	for _, u := range tests {
		if _, err := OpenLibSQL(u, "", SQLOptions{}); err == nil {
			t.Errorf("OpenLibSQL(%q) succeeded, want error", u)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)
	tests := []string{
		"2026-01-02T03:04:05.123456Z",
		"2026-01-02T03:04:05.123456+00:00",
		"2026-01-02T03:04:05.123456",
		"2026-01-02 03:04:05.123456+00",
		"2026-01-02T06:04:05.123456+03:00",
	}
	for _, s := range tests {
		got, err := parseTimestamp(s)
		if err != nil {
			t.Errorf("parseTimestamp(%q) failed: %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("parseTimestamp(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := parseTimestamp("yesterday"); err == nil {
		t.Error("parseTimestamp(yesterday) succeeded")
	}
}
