package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getMetricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			switch family.GetType() {
			case dto.MetricType_GAUGE:
				return m.GetGauge().GetValue()
			case dto.MetricType_COUNTER:
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestNewMonitorMetricsRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorMetricsWithRegistry(reg)
	if m == nil {
		t.Fatal("expected non-nil MonitorMetrics")
	}

	expected := map[string]bool{
		"snapguard_monitor_snapshot_files":           false,
		"snapguard_monitor_snapshot_dir_bytes":       false,
		"snapguard_monitor_last_cutoff_lsn":          false,
		"snapguard_monitor_cycles_total":             false,
		"snapguard_monitor_cycle_errors_total":       false,
		"snapguard_monitor_slots_dropped_total":      false,
		"snapguard_monitor_drop_failures_total":      false,
		"snapguard_monitor_owner_terminations_total": false,
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, family := range families {
		if _, ok := expected[family.GetName()]; ok {
			expected[family.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected metric %s to be registered", name)
		}
	}
}

func TestRecordScan(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorMetricsWithRegistry(reg)

	m.RecordScan(305, 131072)

	if got := getMetricValue(t, reg, "snapguard_monitor_snapshot_files"); got != 305 {
		t.Errorf("expected snapshot_files 305, got %v", got)
	}
	if got := getMetricValue(t, reg, "snapguard_monitor_snapshot_dir_bytes"); got != 131072 {
		t.Errorf("expected snapshot_dir_bytes 131072, got %v", got)
	}
}

func TestRecordCutoff(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorMetricsWithRegistry(reg)

	m.RecordCutoff(0x16B374D848)

	if got := getMetricValue(t, reg, "snapguard_monitor_last_cutoff_lsn"); got != float64(0x16B374D848) {
		t.Errorf("expected last_cutoff_lsn %v, got %v", float64(0x16B374D848), got)
	}
}

func TestRecordReclaim(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorMetricsWithRegistry(reg)

	m.RecordReclaim(3, 1, 5)
	m.RecordReclaim(2, 0, 0)

	if got := getMetricValue(t, reg, "snapguard_monitor_slots_dropped_total"); got != 5 {
		t.Errorf("expected slots_dropped_total 5, got %v", got)
	}
	if got := getMetricValue(t, reg, "snapguard_monitor_drop_failures_total"); got != 1 {
		t.Errorf("expected drop_failures_total 1, got %v", got)
	}
	if got := getMetricValue(t, reg, "snapguard_monitor_owner_terminations_total"); got != 5 {
		t.Errorf("expected owner_terminations_total 5, got %v", got)
	}
}
