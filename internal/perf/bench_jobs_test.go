package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/crewnet-hq/crewnet/internal/jobs"
)

func TestCleanupJobReliabilityCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	for i := 0; i < 20; i++ {
		tracker := metrics.Track("relationships:tombstone_cleanup")
		time.Sleep(time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}
	metrics.AddPurged("relationships:tombstone_cleanup", 40)

	for i := 0; i < 3; i++ {
		tracker := metrics.Track("statuscache:warmup")
		if err := tracker.End(errors.New("redis down")); err == nil {
			t.Fatal("expected error to propagate")
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "crewnet_job_runs_total", map[string]string{"job": "relationships:tombstone_cleanup", "status": "success"})
	if success != 20 {
		t.Fatalf("success runs = %v, want 20", success)
	}
	failures := metricValue(t, families, "crewnet_job_failures_total", map[string]string{"job": "statuscache:warmup"})
	if failures != 3 {
		t.Fatalf("failures = %v, want 3", failures)
	}
	purged := metricValue(t, families, "crewnet_job_purged_records_total", map[string]string{"job": "relationships:tombstone_cleanup"})
	if purged != 40 {
		t.Fatalf("purged = %v, want 40", purged)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metric
				}
			}
			if counter := metric.GetCounter(); counter != nil {
				return counter.GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}
