// Package loadtest simulates several devices of one business editing the
// same catalog and syncing through one gateway.
//
// Each simulated device has its own store and coordinator. Devices write and
// sync concurrently, then settle with two sequential sync rounds, after which
// every device must hold the same products. Cycle latencies are collected
// along the way.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/shopkeep/shopsync/internal/auth"
	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/remote"
	"github.com/shopkeep/shopsync/internal/schema"
	"github.com/shopkeep/shopsync/internal/store"
	syncer "github.com/shopkeep/shopsync/internal/sync"
)

// Config controls a load test run.
type Config struct {
	// Devices is the number of simulated devices (default: 3).
	Devices int

	// Products seeded by the first device (default: 100).
	Products int

	// WritesPerDevice is the number of edit-then-sync rounds per device
	// (default: 10).
	WritesPerDevice int

	// BusinessID is the tenant the devices sign in to (default: "loadtest").
	BusinessID string

	// Gateway shared by all devices (default: an in-memory gateway).
	Gateway remote.Gateway

	// Seed makes the edits reproducible (default: 42).
	Seed int64

	// Logger for progress (default: discard).
	Logger *log.Logger
}

// LatencyStats captures sync cycle timings.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalCycles int
	Errors      int
	Durations   []time.Duration
}

// Report summarizes a run.
type Report struct {
	Devices    int
	Products   int
	Writes     int
	Cycles     *LatencyStats
	Pulled     int
	Pushed     int
	Converged  bool
	Mismatches []string // "device N: <reason>"
	Elapsed    time.Duration
}

type device struct {
	name  string
	store *store.Store
	coord syncer.Coordinator
}

// Run executes the load test.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	applyDefaults(&cfg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	devices, err := startDevices(ctx, cfg)
	defer closeDevices(devices)
	if err != nil {
		return nil, err
	}

	// Seed the catalog on the first device and publish it
	first := devices[0]
	products := generateProducts(cfg.Products)
	for _, p := range products {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		if _, err := first.store.Put(schema.Products, p.ID, data); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", p.ID, err)
		}
	}
	if _, err := syncOnce(ctx, first); err != nil {
		return nil, fmt.Errorf("seed sync failed: %w", err)
	}
	cfg.Logger.Printf("Seeded %d products", len(products))

	report := &Report{Devices: cfg.Devices, Products: cfg.Products}

	// Concurrent edit-and-sync phase
	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	errorCount := 0

	for i, d := range devices {
		wg.Add(1)
		go func(idx int, d *device) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(cfg.Seed + int64(idx)))

			local := make([]time.Duration, 0, cfg.WritesPerDevice+1)
			errs := 0
			writes := 0

			// Pick up the seeded catalog first
			if dur, err := syncOnce(ctx, d); err != nil {
				cfg.Logger.Printf("%s initial sync failed: %v", d.name, err)
				errs++
			} else {
				local = append(local, dur)
			}

			for j := 0; j < cfg.WritesPerDevice; j++ {
				if ctx.Err() != nil {
					break
				}
				p := products[rng.Intn(len(products))]
				p.Price = int64(100 + rng.Intn(10000))
				p.Stock = rng.Intn(500)
				data, _ := json.Marshal(p)
				if _, err := d.store.Put(schema.Products, p.ID, data); err != nil {
					errs++
					continue
				}
				writes++

				dur, err := syncOnce(ctx, d)
				if err != nil {
					cfg.Logger.Printf("%s sync %d failed: %v", d.name, j, err)
					errs++
					continue
				}
				local = append(local, dur)
			}

			mu.Lock()
			durations = append(durations, local...)
			errorCount += errs
			report.Writes += writes
			mu.Unlock()
		}(i, d)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Settle: the first round leaves the newest version of every record on
	// the remote, the second pulls it everywhere.
	for round := 0; round < 2; round++ {
		for _, d := range devices {
			res, err := d.coord.Sync(ctx, syncer.ReasonManual)
			if err != nil {
				return nil, fmt.Errorf("%s settle sync failed: %w", d.name, err)
			}
			if res.Failed() {
				return nil, fmt.Errorf("%s settle sync failed: %w", d.name, res.Err())
			}
			pulled, pushed, _ := res.Totals()
			report.Pulled += pulled
			report.Pushed += pushed
		}
	}

	report.Mismatches = compareDevices(devices)
	report.Converged = len(report.Mismatches) == 0

	if len(durations) > 0 {
		report.Cycles = computeLatencyStats(durations)
	} else {
		report.Cycles = &LatencyStats{}
	}
	report.Cycles.Errors = errorCount
	report.Elapsed = time.Since(start)
	return report, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Devices <= 0 {
		cfg.Devices = 3
	}
	if cfg.Products <= 0 {
		cfg.Products = 100
	}
	if cfg.WritesPerDevice < 0 {
		cfg.WritesPerDevice = 0
	} else if cfg.WritesPerDevice == 0 {
		cfg.WritesPerDevice = 10
	}
	if cfg.BusinessID == "" {
		cfg.BusinessID = "loadtest"
	}
	if cfg.Gateway == nil {
		cfg.Gateway = remote.NewMemory(nil)
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
}

func startDevices(ctx context.Context, cfg Config) ([]*device, error) {
	quiet := log.New(io.Discard, "", 0)
	devices := make([]*device, 0, cfg.Devices)

	for i := 0; i < cfg.Devices; i++ {
		st, err := store.New(persist.NewMemory(), []schema.Collection{{Name: schema.Products}}, store.Config{Logger: quiet})
		if err != nil {
			return devices, err
		}
		coord := syncer.New(cfg.Gateway, st, syncer.Config{
			Cooldown: time.Hour,
			Logger:   quiet,
		})
		d := &device{name: fmt.Sprintf("device %d", i), store: st, coord: coord}
		devices = append(devices, d)

		session := auth.Session{BusinessID: cfg.BusinessID, UserID: fmt.Sprintf("user-%d", i), SignedIn: true}
		if err := coord.SetSession(ctx, session); err != nil {
			return devices, fmt.Errorf("%s sign-in failed: %w", d.name, err)
		}
		coord.Wait()
	}
	return devices, nil
}

func closeDevices(devices []*device) {
	for _, d := range devices {
		_ = d.coord.Close()
		_ = d.store.Close()
	}
}

// syncOnce runs one manual cycle and returns its duration.
func syncOnce(ctx context.Context, d *device) (time.Duration, error) {
	res, err := d.coord.Sync(ctx, syncer.ReasonManual)
	if err != nil {
		return 0, err
	}
	if res.Failed() {
		return 0, res.Err()
	}
	if res.Discarded {
		return 0, fmt.Errorf("cycle discarded")
	}
	return res.FinishedAt.Sub(res.StartedAt), nil
}

// compareDevices checks every device holds the same products as the first.
func compareDevices(devices []*device) []string {
	want, err := snapshot(devices[0])
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", devices[0].name, err)}
	}

	var mismatches []string
	for _, d := range devices[1:] {
		got, err := snapshot(d)
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", d.name, err))
			continue
		}
		if len(got) != len(want) {
			mismatches = append(mismatches, fmt.Sprintf("%s: %d products, want %d", d.name, len(got), len(want)))
			continue
		}
		for id, rec := range want {
			other, ok := got[id]
			if !ok {
				mismatches = append(mismatches, fmt.Sprintf("%s: missing %s", d.name, id))
				continue
			}
			if !rec.SameData(other) {
				mismatches = append(mismatches, fmt.Sprintf("%s: %s differs", d.name, id))
			}
		}
	}
	return mismatches
}

func snapshot(d *device) (map[string]schema.Record, error) {
	recs, err := d.store.List(schema.Products)
	if err != nil {
		return nil, err
	}
	out := make(map[string]schema.Record, len(recs))
	for _, rec := range recs {
		out[rec.ID] = rec
	}
	return out, nil
}

// generateProducts creates a deterministic catalog.
func generateProducts(count int) []schema.Product {
	categories := []string{"bath", "kitchen", "garden", "snacks", "stationery"}
	products := make([]schema.Product, count)
	for i := range products {
		products[i] = schema.Product{
			ID:       fmt.Sprintf("prod-%05d", i),
			Name:     fmt.Sprintf("Product %d", i),
			SKU:      fmt.Sprintf("SKU-%05d", i),
			Category: categories[i%len(categories)],
			Price:    int64(100 + (i*37)%5000),
			Stock:    (i * 13) % 200,
			Unit:     "pc",
		}
	}
	return products
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        sum / time.Duration(len(durations)),
		P50:         sorted[len(sorted)*50/100],
		P95:         sorted[len(sorted)*95/100],
		P99:         sorted[len(sorted)*99/100],
		TotalCycles: len(durations),
		Durations:   sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Cycle Latency:\n")
	fmt.Fprintf(w, "  Total Cycles:  %d\n", s.TotalCycles)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
