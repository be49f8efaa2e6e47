package ui

import (
	"strings"
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2025-03-14T10:30:00Z", time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC), false},
		{"2025-03-01", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"", time.Time{}, true},
		{"whenever", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseTimeNaturalLanguage(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

	got, err := ParseTime("yesterday", now)
	if err != nil {
		t.Fatalf("ParseTime(yesterday) failed: %v", err)
	}
	if !got.Before(now) || now.Sub(got) > 48*time.Hour {
		t.Errorf("ParseTime(yesterday) = %v, want within the previous day", got)
	}
}

func TestAge(t *testing.T) {
	now := time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		t    time.Time
		want string
	}{
		{time.Time{}, "never"},
		{now.Add(time.Second), "just now"},
		{now.Add(-30 * time.Second), "30s ago"},
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-72 * time.Hour), "3d ago"},
	}
	for _, tt := range tests {
		if got := Age(tt.t, now); got != tt.want {
			t.Errorf("Age(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("héllo world", 5); got != "héll…" {
		t.Errorf("Truncate = %q, want héll…", got)
	}
}

func TestTableContainsCells(t *testing.T) {
	out := Table([]string{"ID", "UPDATED"}, [][]string{{"p1", "1m ago"}, {"p2", "2m ago"}})
	for _, want := range []string{"ID", "UPDATED", "p1", "p2", "2m ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestKeyValuesAligned(t *testing.T) {
	out := KeyValues([2]string{"Tenant", "biz1"}, [2]string{"Status", "synced"})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if strings.Index(lines[0], "biz1") != strings.Index(lines[1], "synced") {
		t.Errorf("values not aligned:\n%s", out)
	}
}
