package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/store"
	syncer "github.com/shopkeep/shopsync/internal/sync"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status      string                  `json:"status"`
	Tenant      string                  `json:"tenant"`
	UserID      string                  `json:"user_id,omitempty"`
	LastSync    *SyncStatusData         `json:"last_sync,omitempty"`
	FinishedAt  *time.Time              `json:"finished_at,omitempty"`
	Collections []store.CollectionStats `json:"collections"`
}

// CollectionResponse is returned by GET /api/collections/{collection}.
type CollectionResponse struct {
	Collection string          `json:"collection"`
	Count      int             `json:"count"`
	Records    []schema.Record `json:"records"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>shopsync</title>
</head>
<body>
    <h1>shopsync dashboard</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Status: <a href="/api/status">/api/status</a></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, r.Host)
}

// handleStatus reports the coordinator status and store statistics
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:      string(s.coord.Status()),
		Tenant:      s.store.Tenant(),
		UserID:      s.coord.Session().UserID,
		Collections: s.store.Stats(),
	}

	if res := s.coord.LastResult(); res != nil {
		last := &SyncStatusData{
			Status:    string(res.Status()),
			Reason:    string(res.Reason),
			Tenant:    res.Tenant,
			Discarded: res.Discarded,
		}
		last.Pulled, last.Pushed, last.Deleted = res.Totals()
		for _, c := range res.Collections {
			if c.Err != nil {
				last.Errors = append(last.Errors, c.Collection+": "+c.Err.Error())
			}
		}
		finished := res.FinishedAt
		resp.LastSync = last
		resp.FinishedAt = &finished
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCollection lists a collection, optionally only records changed
// after ?since (RFC 3339).
func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "collection")

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		since = t
	}

	recs, err := s.store.ListChangedSince(name, since)
	switch {
	case errors.Is(err, store.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, store.ErrNoTenant):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if recs == nil {
		recs = []schema.Record{}
	}
	writeJSON(w, http.StatusOK, CollectionResponse{
		Collection: name,
		Count:      len(recs),
		Records:    recs,
	})
}

// handleSync starts a user-initiated refresh
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.store.Tenant() == "" {
		writeError(w, http.StatusConflict, syncer.ErrNoTenant.Error())
		return
	}

	started := s.coord.Trigger(syncer.ReasonManual)
	code := http.StatusAccepted
	if !started {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]interface{}{
		"started": started,
		"status":  s.coord.Status(),
	})
}
