package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopkeep/shopsync/internal/schema"
)

// Ensure REST implements the Gateway interface.
var _ Gateway = (*REST)(nil)

const (
	// DefaultPageSize is the number of rows requested per fetch page.
	DefaultPageSize = 1000

	// deleteChunk bounds the number of ids in one delete URL.
	deleteChunk = 100

	maxErrorBody = 4096
)

// RESTConfig configures a PostgREST gateway.
type RESTConfig struct {
	// BaseURL is the project URL, e.g. https://xyz.supabase.co.
	BaseURL string

	// APIKey is sent both as apikey and as bearer token.
	APIKey string

	// Timeout bounds each HTTP request (default: 30s).
	Timeout time.Duration

	// PageSize is the number of rows per fetch page (default: 1000).
	PageSize int

	// HTTPClient overrides the client (optional).
	HTTPClient *http.Client

	// Now overrides the write clock (optional).
	Now func() time.Time

	// Logger for request logging (optional).
	Logger *log.Logger
}

// REST is a Gateway backed by a Supabase / PostgREST endpoint.
type REST struct {
	base     *url.URL
	apiKey   string
	pageSize int
	client   *http.Client
	now      func() time.Time
	logger   *log.Logger
}

// NewREST creates a REST gateway.
func NewREST(cfg RESTConfig) (*REST, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", base.Scheme)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &REST{
		base:     base,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		client:   client,
		now:      nowFunc(cfg.Now),
		logger:   logger,
	}, nil
}

// wireRow is the JSON shape PostgREST returns. updated_at is parsed by hand
// because timestamp columns may come back without a zone.
type wireRow struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	Data       json.RawMessage `json:"data"`
	CreatedBy  *string         `json:"created_by"`
	UpdatedAt  string          `json:"updated_at"`
}

// FetchCollection implements Gateway.FetchCollection.
//
// Rows are read in id order with keyset paging (id=gt.<last id>) until an
// empty page comes back. A page shorter than PageSize does not end the
// fetch, since PostgREST caps responses at its max-rows setting.
func (r *REST) FetchCollection(ctx context.Context, table, businessID string) ([]schema.RemoteRow, error) {
	if err := checkArgs("fetch", table, businessID); err != nil {
		return nil, err
	}

	var rows []schema.RemoteRow
	last := ""
	for {
		q := url.Values{}
		q.Set("select", "*")
		q.Set("business_id", "eq."+businessID)
		q.Set("order", "id.asc")
		q.Set("limit", strconv.Itoa(r.pageSize))
		if last != "" {
			q.Set("id", "gt."+last)
		}

		body, err := r.do(ctx, "fetch", table, http.MethodGet, q, nil, nil)
		if err != nil {
			return nil, err
		}

		var page []wireRow
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("failed to decode rows: %w", err)}
		}
		if len(page) == 0 {
			break
		}

		for _, w := range page {
			row, err := w.toRemoteRow()
			if err != nil {
				return nil, &TransportError{Op: "fetch", Table: table, Err: err}
			}
			if row.ID <= last {
				return nil, &TransportError{Op: "fetch", Table: table, Err: fmt.Errorf("rows out of id order at %q", row.ID)}
			}
			last = row.ID
			rows = append(rows, row)
		}
	}

	return filterTenant(rows, businessID), nil
}

// UpsertCollection implements Gateway.UpsertCollection.
func (r *REST) UpsertCollection(ctx context.Context, table, businessID string, records []schema.Record) (time.Time, error) {
	if len(records) == 0 {
		return time.Time{}, nil
	}
	if err := checkArgs("upsert", table, businessID); err != nil {
		return time.Time{}, err
	}

	stamp := schema.Stamp(r.now())
	rows, err := buildRows("upsert", table, businessID, records, stamp)
	if err != nil {
		return time.Time{}, err
	}

	// PostgREST bulk inserts need the same keys on every object
	withCreatedBy := false
	for _, row := range rows {
		if row.CreatedBy != "" {
			withCreatedBy = true
			break
		}
	}

	payload := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		obj := map[string]any{
			"id":          row.ID,
			"business_id": row.BusinessID,
			"data":        row.Data,
			"updated_at":  row.UpdatedAt.Format(time.RFC3339Nano),
		}
		if withCreatedBy {
			obj["created_by"] = row.CreatedBy
		}
		payload = append(payload, obj)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return time.Time{}, &TransportError{Op: "upsert", Table: table, Err: fmt.Errorf("failed to encode rows: %w", err)}
	}

	q := url.Values{}
	q.Set("on_conflict", "id,business_id")
	headers := map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	}

	if _, err := r.do(ctx, "upsert", table, http.MethodPost, q, headers, body); err != nil {
		return time.Time{}, err
	}

	r.logger.Printf("Upserted %d rows into %s", len(rows), table)
	return stamp, nil
}

// DeleteByIDs implements Gateway.DeleteByIDs.
func (r *REST) DeleteByIDs(ctx context.Context, table, businessID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := checkArgs("delete", table, businessID); err != nil {
		return err
	}

	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))

		q := url.Values{}
		q.Set("business_id", "eq."+businessID)
		q.Set("id", "in.("+quoteList(ids[start:end])+")")

		if _, err := r.do(ctx, "delete", table, http.MethodDelete, q, nil, nil); err != nil {
			return err
		}
	}

	r.logger.Printf("Deleted %d rows from %s", len(ids), table)
	return nil
}

// Close implements Gateway.Close.
func (r *REST) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// do sends one request and returns the response body on a 2xx status.
func (r *REST) do(ctx context.Context, op, table, method string, q url.Values, headers map[string]string, body []byte) ([]byte, error) {
	u := *r.base
	u.Path = u.Path + "/rest/v1/" + table
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, &TransportError{Op: op, Table: table, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &TransportError{
			Op:         op,
			Table:      table,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(msg))),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Table: table, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return data, nil
}

func (w wireRow) toRemoteRow() (schema.RemoteRow, error) {
	ts, err := parseTimestamp(w.UpdatedAt)
	if err != nil {
		return schema.RemoteRow{}, fmt.Errorf("row %s: %w", w.ID, err)
	}
	row := schema.RemoteRow{
		ID:         w.ID,
		BusinessID: w.BusinessID,
		Data:       w.Data,
		UpdatedAt:  ts,
	}
	if w.CreatedBy != nil {
		row.CreatedBy = *w.CreatedBy
	}
	return row, nil
}

// timestampLayouts are the formats Postgres emits for timestamp columns.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts ISO-8601 timestamps with or without a zone.
// Zone-less values are taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return schema.Stamp(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid updated_at %q", s)
}

// quoteList renders ids as a PostgREST in-list with every value quoted.
func quoteList(ids []string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = `"` + esc.Replace(id) + `"`
	}
	return strings.Join(quoted, ",")
}
