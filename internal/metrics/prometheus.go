// Package metrics exposes Prometheus metrics for sync cycles and the
// local store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Cycle metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	CycleInFlight prometheus.Gauge

	// Per-collection metrics
	RowsPulled      *prometheus.CounterVec
	RowsPushed      *prometheus.CounterVec
	RowsDeleted     *prometheus.CounterVec
	RowsRejected    *prometheus.CounterVec
	CollectionFails *prometheus.CounterVec

	// Store metrics
	StoreRecords          *prometheus.GaugeVec
	StorePendingDeletions *prometheus.GaugeVec
}

// New creates metrics registered with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_cycles_total",
				Help: "Total number of sync cycles by trigger reason and outcome",
			},
			[]string{"reason", "status"},
		),

		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shopsync_cycle_duration_seconds",
				Help:    "Duration of sync cycles",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		CycleInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shopsync_cycle_in_flight",
				Help: "1 while a sync cycle is running",
			},
		),

		RowsPulled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_rows_pulled_total",
				Help: "Remote rows applied to the local store",
			},
			[]string{"collection"},
		),

		RowsPushed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_rows_pushed_total",
				Help: "Local records upserted to the backend",
			},
			[]string{"collection"},
		),

		RowsDeleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_rows_deleted_total",
				Help: "Pending deletions confirmed by the backend",
			},
			[]string{"collection"},
		),

		RowsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_rows_rejected_total",
				Help: "Remote rows that could not be decoded",
			},
			[]string{"collection"},
		),

		CollectionFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shopsync_collection_failures_total",
				Help: "Collection syncs aborted by a gateway error",
			},
			[]string{"collection", "op"},
		),

		StoreRecords: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopsync_store_records",
				Help: "Records held in the local store",
			},
			[]string{"collection"},
		),

		StorePendingDeletions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shopsync_store_pending_deletions",
				Help: "Local deletions waiting for remote confirmation",
			},
			[]string{"collection"},
		),
	}
}

// RecordCycleStart marks a cycle as running.
func (m *Metrics) RecordCycleStart() {
	if m == nil {
		return
	}
	m.CycleInFlight.Set(1)
}

// RecordCycle records a finished cycle.
func (m *Metrics) RecordCycle(reason, status string, duration float64) {
	if m == nil {
		return
	}
	m.CycleInFlight.Set(0)
	m.CyclesTotal.WithLabelValues(reason, status).Inc()
	m.CycleDuration.WithLabelValues(status).Observe(duration)
}

// RecordCollection records the row counts of one collection sync.
func (m *Metrics) RecordCollection(collection string, pulled, pushed, deleted, rejected int) {
	if m == nil {
		return
	}
	m.RowsPulled.WithLabelValues(collection).Add(float64(pulled))
	m.RowsPushed.WithLabelValues(collection).Add(float64(pushed))
	m.RowsDeleted.WithLabelValues(collection).Add(float64(deleted))
	m.RowsRejected.WithLabelValues(collection).Add(float64(rejected))
}

// RecordCollectionFailure records a gateway failure for a collection.
func (m *Metrics) RecordCollectionFailure(collection, op string) {
	if m == nil {
		return
	}
	m.CollectionFails.WithLabelValues(collection, op).Inc()
}

// UpdateStore sets the store gauges for one collection.
func (m *Metrics) UpdateStore(collection string, records, pendingDeletions int) {
	if m == nil {
		return
	}
	m.StoreRecords.WithLabelValues(collection).Set(float64(records))
	m.StorePendingDeletions.WithLabelValues(collection).Set(float64(pendingDeletions))
}
