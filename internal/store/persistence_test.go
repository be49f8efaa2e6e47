package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/schema"
)

// failingAdapter fails every write.
type failingAdapter struct {
	*persist.Memory
}

func (f failingAdapter) SetItem(_ context.Context, key, _ string) error {
	return &persist.Error{Op: "set", Key: key, Err: errors.New("disk full")}
}

// hookAdapter runs onSet once, before the first write.
type hookAdapter struct {
	*persist.Memory
	onSet func()
}

func (h *hookAdapter) SetItem(ctx context.Context, key, value string) error {
	if fn := h.onSet; fn != nil {
		h.onSet = nil
		fn()
	}
	return h.Memory.SetItem(ctx, key, value)
}

func TestFlushAndHydrate(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Put(schema.Products, "p1", json.RawMessage(`{"name":"Soap"}`))
	_, _ = s.Put(schema.Products, "p2", json.RawMessage(`{"name":"Rice"}`))
	_ = s.Delete(schema.Products, "p2")

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	raw, ok, _ := mem.GetItem(ctx, "shopsync:biz1:collection:products")
	if !ok {
		t.Fatal("products were not persisted under the collection key")
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("persisted value is not JSON: %v", err)
	}
	if len(snap.Records) != 1 || len(snap.PendingDeletions) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	// A fresh store over the same adapter sees the same state
	s2, err := New(mem, schema.DefaultCollections(), Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s2.SwitchTenant(ctx, "biz1"); err != nil {
		t.Fatalf("SwitchTenant() failed: %v", err)
	}
	if _, err := s2.Get(schema.Products, "p1"); err != nil {
		t.Errorf("Get(p1) after hydrate failed: %v", err)
	}
	ids, _ := s2.PendingDeletions("biz1", schema.Products)
	if len(ids) != 1 || ids[0] != "p2" {
		t.Errorf("pending deletions after hydrate = %v, want [p2]", ids)
	}
}

func TestSwitchTenantIsolatesScopes(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Put(schema.Orders, "o1", json.RawMessage(`{"total":5}`))

	if err := s.SwitchTenant(ctx, "biz2"); err != nil {
		t.Fatalf("SwitchTenant(biz2) failed: %v", err)
	}
	recs, _ := s.List(schema.Orders)
	if len(recs) != 0 {
		t.Errorf("biz2 sees %d orders from biz1", len(recs))
	}

	if err := s.SwitchTenant(ctx, "biz1"); err != nil {
		t.Fatalf("SwitchTenant(biz1) failed: %v", err)
	}
	if _, err := s.Get(schema.Orders, "o1"); err != nil {
		t.Errorf("biz1 order lost across tenant switch: %v", err)
	}

	if err := s.SwitchTenant(ctx, ""); err != nil {
		t.Fatalf("sign out failed: %v", err)
	}
	if _, err := s.List(schema.Orders); !errors.Is(err, ErrNoTenant) {
		t.Errorf("List() after sign out error = %v, want ErrNoTenant", err)
	}
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	s, err := New(failingAdapter{persist.NewMemory()}, schema.DefaultCollections(), Config{
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	ctx := context.Background()
	_ = s.SwitchTenant(ctx, "biz1")

	if _, err := s.Put(schema.Products, "p1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Put() failed despite in-memory store: %v", err)
	}

	err = s.Flush(ctx)
	if !persist.IsPersistence(err) {
		t.Errorf("Flush() error = %v, want persistence error", err)
	}

	// Memory stays authoritative and the collection stays dirty
	if _, err := s.Get(schema.Products, "p1"); err != nil {
		t.Errorf("Get() after failed flush: %v", err)
	}
	if !s.Stats()[0].Unsaved {
		t.Error("collection not kept dirty after failed flush")
	}
}

func TestHydrateCorruptEntry(t *testing.T) {
	mem := persist.NewMemory()
	ctx := context.Background()
	_ = mem.SetItem(ctx, CollectionKey("biz1", schema.Orders), "not json")

	s, _ := New(mem, schema.DefaultCollections(), Config{Logger: log.New(io.Discard, "", 0)})
	err := s.SwitchTenant(ctx, "biz1")
	if err == nil {
		t.Error("SwitchTenant() hid the decode error")
	}
	recs, listErr := s.List(schema.Orders)
	if listErr != nil || len(recs) != 0 {
		t.Errorf("List() = %v, %v; want empty collection", recs, listErr)
	}
}

func TestBackgroundFlush(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	_, _ = s.Put(schema.Settings, "currency", json.RawMessage(`{"value":"KES"}`))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok, _ := mem.GetItem(ctx, CollectionKey("biz1", schema.Settings)); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok, _ := mem.GetItem(ctx, CollectionKey("biz1", schema.Settings)); !ok {
		t.Fatal("debounced flush did not persist settings")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func TestTeamSettings(t *testing.T) {
	s, mem, _ := newTestStore(t)
	ctx := context.Background()

	ts, err := s.TeamSettings(ctx)
	if err != nil || ts.Enabled {
		t.Fatalf("TeamSettings() = %+v, %v; want zero value", ts, err)
	}

	if _, err := s.SetTeamSettings(ctx, TeamSettings{Enabled: true}); err == nil {
		t.Error("SetTeamSettings() without team id succeeded")
	}

	saved, err := s.SetTeamSettings(ctx, TeamSettings{Enabled: true, TeamID: "team-7", Role: "cashier"})
	if err != nil {
		t.Fatalf("SetTeamSettings() failed: %v", err)
	}
	if !saved.UpdatedAt.Equal(t0) {
		t.Errorf("UpdatedAt = %v, want %v", saved.UpdatedAt, t0)
	}

	if _, ok, _ := mem.GetItem(ctx, "shopsync:team-sync"); !ok {
		t.Error("team settings not stored under shopsync:team-sync")
	}

	got, _ := s.TeamSettings(ctx)
	if got.TeamID != "team-7" || got.Role != "cashier" {
		t.Errorf("TeamSettings() = %+v", got)
	}
}

func TestSwitchTenantKeepsEditDuringFlush(t *testing.T) {
	ctx := context.Background()
	adapter := &hookAdapter{Memory: persist.NewMemory()}
	s, err := New(adapter, schema.DefaultCollections(), Config{Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.SwitchTenant(ctx, "biz1"); err != nil {
		t.Fatalf("SwitchTenant(biz1) failed: %v", err)
	}
	_, _ = s.Put(schema.Products, "p1", json.RawMessage(`{"name":"Soap"}`))

	// An edit racing the switch must end up in one of the two scopes
	adapter.onSet = func() {
		if _, err := s.Put(schema.Products, "p2", json.RawMessage(`{"name":"Rice"}`)); err != nil {
			t.Errorf("Put(p2) during switch failed: %v", err)
		}
	}
	if err := s.SwitchTenant(ctx, "biz2"); err != nil {
		t.Fatalf("SwitchTenant(biz2) failed: %v", err)
	}

	var old snapshot
	raw, ok, _ := adapter.GetItem(ctx, CollectionKey("biz1", schema.Products))
	if !ok {
		t.Fatal("biz1 products were not persisted on switch")
	}
	if err := json.Unmarshal([]byte(raw), &old); err != nil {
		t.Fatalf("persisted value is not JSON: %v", err)
	}
	inOld := false
	for _, rec := range old.Records {
		if rec.ID == "p2" {
			inOld = true
		}
	}
	_, err = s.Get(schema.Products, "p2")
	inNew := err == nil
	if !inOld && !inNew {
		t.Error("edit made during the tenant switch was lost")
	}
	if inOld && inNew {
		t.Error("edit made during the tenant switch landed in both scopes")
	}
	if len(old.Records) == 0 || old.Records[0].ID != "p1" {
		t.Errorf("biz1 snapshot = %+v, want p1 first", old.Records)
	}
}
