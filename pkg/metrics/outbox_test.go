package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("payment_completed")
	m.IncPublished("payment_completed")
	m.IncFailed("payment_failed")
	m.IncDeadLettered("payment_failed", "max_attempts")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_published_total", "event_type", "payment_completed"); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_publish_failures_total", "event_type", "payment_failed"); err != nil || got != 1 {
		t.Fatalf("expected failed=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_events_dead_lettered_total", "reason", "max_attempts"); err != nil || got != 1 {
		t.Fatalf("expected dead lettered=1, got %f (%v)", got, err)
	}

	var nilMetrics *OutboxMetrics
	nilMetrics.IncPublished("x")
	NewOutboxMetrics(nil).IncDeadLettered("x", "y")
}

func TestConsumerMetricsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConsumerMetrics(reg)
	m.IncConsumed("payment_completed", "handled")
	m.IncConsumed("payment_completed", "duplicate")
	m.IncConsumed("payment_completed", "duplicate")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "payment_events_consumed_total", "outcome", "duplicate"); err != nil || got != 2 {
		t.Fatalf("expected duplicate=2, got %f (%v)", got, err)
	}

	var nilMetrics *ConsumerMetrics
	nilMetrics.IncConsumed("x", "y")
}
