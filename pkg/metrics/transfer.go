package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransferMetrics records push-funds transfer outcomes.
type TransferMetrics struct {
	outcomes     *prometheus.CounterVec
	pollAttempts prometheus.Histogram
	duration     *prometheus.HistogramVec
}

// NewTransferMetrics registers the transfer metrics on the provided registerer.
func NewTransferMetrics(reg prometheus.Registerer) *TransferMetrics {
	if reg == nil {
		return &TransferMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visa_direct_transfers_total",
		Help: "Push-funds transfers by final outcome.",
	}, []string{"outcome"})
	pollAttempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "visa_direct_status_poll_attempts",
		Help:    "Status polls consumed before a transfer resolved or gave up.",
		Buckets: prometheus.LinearBuckets(1, 2, 12),
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "visa_direct_transfer_duration_seconds",
		Help:    "Wall time from submission to final outcome.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
	}, []string{"outcome"})
	reg.MustRegister(outcomes, pollAttempts, duration)
	return &TransferMetrics{
		outcomes:     outcomes,
		pollAttempts: pollAttempts,
		duration:     duration,
	}
}

// ObserveTransfer records one completed Transfer call.
func (m *TransferMetrics) ObserveTransfer(outcome string, pollAttempts int, duration time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.outcomes.WithLabelValues(label).Inc()
	m.duration.WithLabelValues(label).Observe(duration.Seconds())
	if pollAttempts > 0 {
		m.pollAttempts.Observe(float64(pollAttempts))
	}
}

// PaymentMetrics records payment lifecycle transitions.
type PaymentMetrics struct {
	transitions    *prometheus.CounterVec
	reconciliation *prometheus.CounterVec
}

// NewPaymentMetrics registers payment lifecycle metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Payment status transitions committed, by target status.",
	}, []string{"status"})
	reconciliation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_required_total",
		Help: "Payments whose external outcome could not be reflected locally.",
	}, []string{"reason"})
	reg.MustRegister(transitions, reconciliation)
	return &PaymentMetrics{
		transitions:    transitions,
		reconciliation: reconciliation,
	}
}

// IncTransition counts a committed transition into status.
func (m *PaymentMetrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncReconciliation counts a payment flagged for manual reconciliation.
func (m *PaymentMetrics) IncReconciliation(reason string) {
	if m == nil || m.reconciliation == nil {
		return
	}
	m.reconciliation.WithLabelValues(normalizeLabel(reason)).Inc()
}
