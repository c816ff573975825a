package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronMetricsRecordsRunsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	finished := time.Unix(1_780_000_000, 0)
	m.ObserveRun("payment-reconciliation", CronOutcomeSuccess, 250*time.Millisecond, finished)
	m.ObserveRun("payment-reconciliation", CronOutcomePanic, time.Second, finished.Add(time.Hour))
	m.IncSkipped()
	m.IncSkipped()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, outcome := range []string{CronOutcomeSuccess, CronOutcomePanic} {
		if got, err := fetchCounterValue(mfs, "cron_job_runs_total", "outcome", outcome); err != nil || got != 1 {
			t.Fatalf("expected %s=1, got %f (%v)", outcome, got, err)
		}
	}
	if got, err := fetchHistogramSum(mfs, "cron_job_duration_seconds", "job", "payment-reconciliation"); err != nil || got != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %f (%v)", got, err)
	}

	// a panicking run must not advance the last-success gauge
	mf := findMetricFamily(mfs, "cron_job_last_success_timestamp_seconds")
	if mf == nil || len(mf.GetMetric()) != 1 {
		t.Fatalf("expected one last-success series")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != float64(finished.Unix()) {
		t.Fatalf("expected last success %d, got %f", finished.Unix(), got)
	}

	skipped := findMetricFamily(mfs, "cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("expected two skipped cycles")
	}
}

func TestCronMetricsNilSafe(t *testing.T) {
	var m *CronMetrics
	m.ObserveRun("job", CronOutcomeFailure, time.Second, time.Now())
	m.IncSkipped()
	NewCronMetrics(nil).ObserveRun("", CronOutcomeSuccess, 0, time.Now())
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
