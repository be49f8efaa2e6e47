package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Record is a single persisted entity inside a collection.
// The payload is kept as raw JSON; UpdatedAt drives last-write-wins merging.
type Record struct {
	// ID is unique within a collection and never changes.
	ID string `json:"id"`

	// Data is the full entity as a JSON object.
	Data json.RawMessage `json:"data"`

	// UpdatedAt is stamped on every local mutation and by the gateway on upsert.
	UpdatedAt time.Time `json:"updated_at"`

	// CreatedBy is only written for settings collections.
	CreatedBy string `json:"created_by,omitempty"`
}

// Validate checks if the Record has valid field values.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(r.ID) > 255 {
		return fmt.Errorf("id must be 255 characters or less (got %d)", len(r.ID))
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	if !json.Valid(r.Data) {
		return fmt.Errorf("data must be valid JSON")
	}
	if trimmed := bytes.TrimSpace(r.Data); len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("data must be a JSON object")
	}
	return nil
}

// SameData reports whether two records carry equivalent payloads,
// ignoring insignificant whitespace.
func (r Record) SameData(other Record) bool {
	return bytes.Equal(compact(r.Data), compact(other.Data))
}

// Clone returns a deep copy so callers cannot mutate shared payload bytes.
func (r Record) Clone() Record {
	c := r
	if r.Data != nil {
		c.Data = append(json.RawMessage(nil), r.Data...)
	}
	return c
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// RemoteRow is the wire representation of a record in the backend.
type RemoteRow struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	Data       json.RawMessage `json:"data"`
	CreatedBy  string          `json:"created_by,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ToRemoteRow wraps a record in the current envelope for the given tenant.
func ToRemoteRow(rec Record, businessID string) (RemoteRow, error) {
	if err := rec.Validate(); err != nil {
		return RemoteRow{}, fmt.Errorf("invalid record: %w", err)
	}

	data, err := Wrap(rec.Data)
	if err != nil {
		return RemoteRow{}, fmt.Errorf("failed to wrap record %s: %w", rec.ID, err)
	}

	return RemoteRow{
		ID:         rec.ID,
		BusinessID: businessID,
		Data:       data,
		CreatedBy:  rec.CreatedBy,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}

// ToRecord unwraps the envelope of a remote row.
func (row RemoteRow) ToRecord() (Record, error) {
	payload, _, err := Unwrap(row.Data)
	if err != nil {
		return Record{}, fmt.Errorf("failed to unwrap row %s: %w", row.ID, err)
	}

	return Record{
		ID:        row.ID,
		Data:      payload,
		UpdatedAt: row.UpdatedAt,
		CreatedBy: row.CreatedBy,
	}, nil
}

// Stamp normalizes a timestamp to the precision the backend stores (UTC, microseconds).
func Stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
