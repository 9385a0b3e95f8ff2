// Package metrics provides Prometheus metrics for the monitor.
//
// Metrics are exposed via a dedicated HTTP server on /metrics in Prometheus
// format. The monitor records the observed snapshot population, the cutoff
// it computed, and the outcome of each reclaim pass.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MonitorMetrics holds metrics for the retention monitor loop.
type MonitorMetrics struct {
	// SnapshotFiles tracks the number of .snap files seen by the last scan.
	SnapshotFiles prometheus.Gauge

	// SnapshotDirBytes tracks the aggregate size of the snapshot directory.
	SnapshotDirBytes prometheus.Gauge

	// LastCutoffLSN tracks the cutoff computed by the last cycle, as a
	// raw 64-bit LSN. Zero means no trimming was required.
	LastCutoffLSN prometheus.Gauge

	// Cycles counts monitor cycles attempted, including failed ones.
	// Cycles minus CycleErrors gives the successful count.
	Cycles prometheus.Counter

	// CycleErrors counts cycles aborted by a scan failure.
	CycleErrors prometheus.Counter

	// SlotsDropped counts successfully dropped slots.
	SlotsDropped prometheus.Counter

	// DropFailures counts drop attempts that failed because the slot was
	// reacquired or already removed.
	DropFailures prometheus.Counter

	// OwnerTerminations counts termination signals sent to slot owners.
	OwnerTerminations prometheus.Counter
}

// NewMonitorMetrics creates and registers monitor metrics with the default
// registry via promauto.
func NewMonitorMetrics() *MonitorMetrics {
	return newMonitorMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMonitorMetricsWithRegistry creates monitor metrics registered with a
// custom registry. Useful for testing to avoid conflicts with the default
// registry.
func NewMonitorMetricsWithRegistry(reg prometheus.Registerer) *MonitorMetrics {
	return newMonitorMetrics(promauto.With(reg))
}

func newMonitorMetrics(factory promauto.Factory) *MonitorMetrics {
	return &MonitorMetrics{
		SnapshotFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "snapshot_files",
			Help:      "Number of logical decoding snapshot files seen by the last scan.",
		}),
		SnapshotDirBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "snapshot_dir_bytes",
			Help:      "Aggregate size in bytes of the snapshot directory at the last scan.",
		}),
		LastCutoffLSN: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "last_cutoff_lsn",
			Help:      "Cutoff LSN computed by the last cycle (raw 64-bit value, 0 = none).",
		}),
		Cycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "cycles_total",
			Help:      "Monitor cycles attempted, including failed cycles.",
		}),
		CycleErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "cycle_errors_total",
			Help:      "Monitor cycles aborted by a snapshot scan failure.",
		}),
		SlotsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "slots_dropped_total",
			Help:      "Replication slots dropped by the reclaimer.",
		}),
		DropFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "drop_failures_total",
			Help:      "Slot drop attempts that failed (slot reacquired or already removed).",
		}),
		OwnerTerminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "snapguard",
			Subsystem: "monitor",
			Name:      "owner_terminations_total",
			Help:      "Termination signals sent to slot owner processes.",
		}),
	}
}

// RecordScan updates the snapshot population gauges.
func (m *MonitorMetrics) RecordScan(files int, totalBytes int64) {
	m.SnapshotFiles.Set(float64(files))
	m.SnapshotDirBytes.Set(float64(totalBytes))
}

// RecordCutoff updates the last cutoff gauge.
func (m *MonitorMetrics) RecordCutoff(cutoff uint64) {
	m.LastCutoffLSN.Set(float64(cutoff))
}

// RecordReclaim updates the reclaim outcome counters.
func (m *MonitorMetrics) RecordReclaim(dropped, failed, terminations int) {
	m.SlotsDropped.Add(float64(dropped))
	m.DropFailures.Add(float64(failed))
	m.OwnerTerminations.Add(float64(terminations))
}
