package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr string
	}{
		{
			name: "valid",
			rec:  Record{ID: "p1", Data: json.RawMessage(`{"id":"p1"}`)},
		},
		{
			name:    "missing id",
			rec:     Record{Data: json.RawMessage(`{}`)},
			wantErr: "id is required",
		},
		{
			name:    "missing data",
			rec:     Record{ID: "p1"},
			wantErr: "data is required",
		},
		{
			name:    "invalid json",
			rec:     Record{ID: "p1", Data: json.RawMessage(`{"id":`)},
			wantErr: "valid JSON",
		},
		{
			name:    "array payload",
			rec:     Record{ID: "p1", Data: json.RawMessage(`[1,2]`)},
			wantErr: "JSON object",
		},
		{
			name:    "id too long",
			rec:     Record{ID: strings.Repeat("x", 256), Data: json.RawMessage(`{}`)},
			wantErr: "255 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSameData(t *testing.T) {
	a := Record{ID: "p1", Data: json.RawMessage(`{"id":"p1", "name":"Chair"}`)}
	b := Record{ID: "p1", Data: json.RawMessage(`{"id":"p1","name":"Chair"}`)}
	c := Record{ID: "p1", Data: json.RawMessage(`{"id":"p1","name":"Table"}`)}

	if !a.SameData(b) {
		t.Error("expected whitespace-only difference to compare equal")
	}
	if a.SameData(c) {
		t.Error("expected different payloads to compare unequal")
	}
}

func TestRemoteRowRoundTrip(t *testing.T) {
	ts := Stamp(time.Date(2026, 1, 10, 7, 36, 29, 123456789, time.UTC))
	rec := Record{
		ID:        "p1",
		Data:      json.RawMessage(`{"id":"p1","name":"Chair"}`),
		UpdatedAt: ts,
		CreatedBy: "user-7",
	}

	row, err := ToRemoteRow(rec, "biz1")
	if err != nil {
		t.Fatalf("ToRemoteRow() failed: %v", err)
	}
	if row.BusinessID != "biz1" {
		t.Errorf("BusinessID = %q, want biz1", row.BusinessID)
	}
	if !strings.Contains(string(row.Data), `"schema_version":1`) {
		t.Errorf("Data = %s, want versioned envelope", row.Data)
	}

	back, err := row.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord() failed: %v", err)
	}
	if !back.SameData(rec) {
		t.Errorf("payload = %s, want %s", back.Data, rec.Data)
	}
	if !back.UpdatedAt.Equal(ts) {
		t.Errorf("UpdatedAt = %v, want %v", back.UpdatedAt, ts)
	}
	if back.CreatedBy != "user-7" {
		t.Errorf("CreatedBy = %q, want user-7", back.CreatedBy)
	}
}

func TestUnwrap(t *testing.T) {
	t.Run("legacy bare object", func(t *testing.T) {
		payload, version, err := Unwrap(json.RawMessage(`{"id":"p1","name":"Chair"}`))
		if err != nil {
			t.Fatalf("Unwrap() failed: %v", err)
		}
		if version != 0 {
			t.Errorf("version = %d, want 0", version)
		}
		if string(payload) != `{"id":"p1","name":"Chair"}` {
			t.Errorf("payload = %s", payload)
		}
	})

	t.Run("newer version rejected", func(t *testing.T) {
		_, _, err := Unwrap(json.RawMessage(`{"schema_version":99,"payload":{}}`))
		if !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("Unwrap() error = %v, want ErrUnsupportedVersion", err)
		}
	})

	t.Run("current envelope", func(t *testing.T) {
		payload, version, err := Unwrap(json.RawMessage(`{"schema_version":1,"payload":{"id":"p1"}}`))
		if err != nil {
			t.Fatalf("Unwrap() failed: %v", err)
		}
		if version != 1 || string(payload) != `{"id":"p1"}` {
			t.Errorf("Unwrap() = %s, %d", payload, version)
		}
	})

	// Legacy payloads may carry their own schema_version field
	legacy := []string{
		`{"schema_version":1}`,
		`{"schema_version":7,"key":"theme","value":"dark"}`,
		`{"schema_version":"2024-01","payload":{"id":"s1"}}`,
		`{"schema_version":99,"payload":"text"}`,
	}
	for _, in := range legacy {
		t.Run("legacy "+in, func(t *testing.T) {
			payload, version, err := Unwrap(json.RawMessage(in))
			if err != nil {
				t.Fatalf("Unwrap() failed: %v", err)
			}
			if version != 0 || string(payload) != in {
				t.Errorf("Unwrap() = %s, %d, want the whole object as version 0", payload, version)
			}
		})
	}

	t.Run("not an object", func(t *testing.T) {
		_, _, err := Unwrap(json.RawMessage(`"hello"`))
		if err == nil {
			t.Error("Unwrap() expected error for string data")
		}
	})
}

func TestStamp(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	in := time.Date(2026, 1, 1, 12, 0, 0, 999, loc)
	got := Stamp(in)

	if got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
	if got.Nanosecond()%1000 != 0 {
		t.Errorf("nanoseconds = %d, want microsecond precision", got.Nanosecond())
	}
}
