package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopkeep/shopsync/internal/remote"
	"github.com/shopkeep/shopsync/internal/schema"
)

// TestRunConverges verifies that concurrent editing devices end up identical.
func TestRunConverges(t *testing.T) {
	gw := remote.NewMemory(nil)

	report, err := Run(context.Background(), Config{
		Devices:         3,
		Products:        20,
		WritesPerDevice: 5,
		Gateway:         gw,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !report.Converged {
		t.Fatalf("devices did not converge: %v", report.Mismatches)
	}
	if report.Writes != 15 {
		t.Errorf("Expected 15 writes, got %d", report.Writes)
	}
	// One initial sync plus one per write on each device
	if report.Cycles.TotalCycles != 18 {
		t.Errorf("Expected 18 timed cycles, got %d", report.Cycles.TotalCycles)
	}
	if report.Cycles.Errors > 0 {
		t.Errorf("Got %d errors during cycles", report.Cycles.Errors)
	}
	if rows := gw.Rows(schema.Products, "loadtest"); len(rows) != 20 {
		t.Errorf("Expected 20 remote rows, got %d", len(rows))
	}
}

func TestRunDefaults(t *testing.T) {
	cfg := Config{WritesPerDevice: -1}
	applyDefaults(&cfg)

	if cfg.Devices != 3 || cfg.Products != 100 || cfg.WritesPerDevice != 0 {
		t.Errorf("defaults = %+v", cfg)
	}
	if cfg.Gateway == nil || cfg.Logger == nil {
		t.Error("Expected default gateway and logger")
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Run(ctx, Config{Devices: 2, Products: 5, WritesPerDevice: 2}); err == nil {
		t.Error("Expected error from canceled context")
	}
}

func TestGenerateProducts(t *testing.T) {
	products := generateProducts(50)
	if len(products) != 50 {
		t.Fatalf("Expected 50 products, got %d", len(products))
	}
	seen := make(map[string]bool)
	for _, p := range products {
		if err := p.Validate(); err != nil {
			t.Errorf("product %s invalid: %v", p.ID, err)
		}
		if seen[p.ID] {
			t.Errorf("duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 1; i <= 100; i++ {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond {
		t.Errorf("Min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P99 != 100*time.Millisecond {
		t.Errorf("P99 = %v, want 100ms", stats.P99)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf)
	if !strings.Contains(buf.String(), "Total Cycles:  100") {
		t.Errorf("PrintStats output:\n%s", buf.String())
	}

	if empty := computeLatencyStats(nil); empty.TotalCycles != 0 {
		t.Error("Expected empty stats")
	}
}
