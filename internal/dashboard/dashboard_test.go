package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shopkeep/shopsync/internal/auth"
	"github.com/shopkeep/shopsync/internal/metrics"
	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/remote"
	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/store"
	syncer "github.com/shopkeep/shopsync/internal/sync"
)

type fixture struct {
	store  *store.Store
	coord  syncer.Coordinator
	server *Server
}

func setupFixture(t *testing.T, signIn bool) *fixture {
	t.Helper()

	quiet := log.New(io.Discard, "", 0)
	st, err := store.New(persist.NewMemory(), schema.DefaultCollections(), store.Config{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	coord := syncer.New(remote.NewMemory(nil), st, syncer.Config{
		Cooldown: time.Hour,
		Logger:   quiet,
		Metrics:  metrics.New(reg),
	})
	t.Cleanup(func() {
		coord.Close()
		st.Close()
	})

	if signIn {
		s := auth.Session{BusinessID: "biz1", UserID: "u1", SignedIn: true}
		if err := coord.SetSession(context.Background(), s); err != nil {
			t.Fatal(err)
		}
		coord.Wait()
	}

	server := NewServer(st, coord, &Config{
		Port:     0,
		Host:     "127.0.0.1",
		Gatherer: reg,
		Logger:   quiet,
	})
	return &fixture{store: st, coord: coord, server: server}
}

func getJSON(t *testing.T, url string, wantCode int, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantCode {
		t.Fatalf("GET %s = %d, want %d", url, resp.StatusCode, wantCode)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestServerStartStop(t *testing.T) {
	f := setupFixture(t, false)

	if err := f.server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := f.server.GetAddr(); addr == "" || strings.HasSuffix(addr, ":0") {
		t.Fatalf("Server address = %q, want bound port", addr)
	}
	if err := f.server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := setupFixture(t, true)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	var health map[string]interface{}
	getJSON(t, ts.URL+"/health", http.StatusOK, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "shopsync_cycles_total") {
		t.Error("/metrics does not expose shopsync_cycles_total")
	}
}

func TestStatusEndpoint(t *testing.T) {
	f := setupFixture(t, true)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	var status StatusResponse
	getJSON(t, ts.URL+"/api/status", http.StatusOK, &status)

	if status.Tenant != "biz1" || status.UserID != "u1" {
		t.Errorf("status tenant/user = %q/%q", status.Tenant, status.UserID)
	}
	if status.Status != string(syncer.StatusSynced) {
		t.Errorf("status = %q, want synced", status.Status)
	}
	if status.LastSync == nil || status.LastSync.Reason != string(syncer.ReasonHydrated) {
		t.Errorf("last sync = %+v, want hydrated cycle", status.LastSync)
	}
	if len(status.Collections) != len(schema.DefaultCollections()) {
		t.Errorf("collections = %d, want %d", len(status.Collections), len(schema.DefaultCollections()))
	}
}

func TestCollectionEndpoint(t *testing.T) {
	f := setupFixture(t, true)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	rec, err := f.store.Put(schema.Products, "p1", json.RawMessage(`{"name":"Soap"}`))
	if err != nil {
		t.Fatal(err)
	}

	var resp CollectionResponse
	getJSON(t, ts.URL+"/api/collections/products", http.StatusOK, &resp)
	if resp.Count != 1 || resp.Records[0].ID != "p1" {
		t.Errorf("collection response = %+v", resp)
	}

	since := rec.UpdatedAt.Format(time.RFC3339Nano)
	getJSON(t, ts.URL+"/api/collections/products?since="+since, http.StatusOK, &resp)
	if resp.Count != 0 {
		t.Errorf("changed since last write = %d records, want 0", resp.Count)
	}

	getJSON(t, ts.URL+"/api/collections/nope", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/api/collections/products?since=yesterday", http.StatusBadRequest, nil)
}

func TestCollectionEndpointSignedOut(t *testing.T) {
	f := setupFixture(t, false)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	getJSON(t, ts.URL+"/api/collections/products", http.StatusConflict, nil)
}

func TestSyncEndpoint(t *testing.T) {
	f := setupFixture(t, true)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /api/sync = %d, want 202", resp.StatusCode)
	}

	f.coord.Wait()
	if last := f.coord.LastResult(); last == nil || last.Reason != syncer.ReasonManual {
		t.Errorf("LastResult() = %+v, want manual cycle", last)
	}
}

func TestSyncEndpointSignedOut(t *testing.T) {
	f := setupFixture(t, false)
	ts := httptest.NewServer(f.server.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("POST /api/sync signed out = %d, want 409", resp.StatusCode)
	}
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn, want MessageType) Message {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Failed to read %s message: %v", want, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketBroadcasts(t *testing.T) {
	f := setupFixture(t, true)
	if err := f.server.Start(); err != nil {
		t.Fatal(err)
	}
	defer f.server.Stop()

	h := NewHandler(f.server, log.New(io.Discard, "", 0))
	h.Attach()
	defer h.Detach()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+f.server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Initial stats on connect
	msg := readMessage(t, ctx, conn, MessageTypeStats)
	var stats StatsData
	if err := json.Unmarshal(msg.Data, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Tenant != "biz1" {
		t.Errorf("stats tenant = %q, want biz1", stats.Tenant)
	}

	// Wait until the server has registered the client before writing
	deadline := time.Now().Add(2 * time.Second)
	for f.server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := f.store.Put(schema.Orders, "o1", json.RawMessage(`{"total":5}`)); err != nil {
		t.Fatal(err)
	}
	msg = readMessage(t, ctx, conn, MessageTypeRecordUpdate)
	var upd RecordUpdateData
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		t.Fatal(err)
	}
	if upd.Collection != schema.Orders || upd.ID != "o1" || upd.Action != "put" {
		t.Errorf("record update = %+v", upd)
	}

	if !f.coord.Trigger(syncer.ReasonManual) {
		t.Fatal("Trigger() did not start a cycle")
	}
	for {
		msg = readMessage(t, ctx, conn, MessageTypeSyncStatus)
		var st SyncStatusData
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			t.Fatal(err)
		}
		if st.Status == string(syncer.StatusSynced) {
			if st.Pushed != 1 {
				t.Errorf("sync status pushed = %d, want 1", st.Pushed)
			}
			break
		}
	}
}
