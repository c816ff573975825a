package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

type fakeAbandoner struct {
	batches []int
	err     error
	cutoffs []time.Time
	limits  []int
}

func (f *fakeAbandoner) AbandonStale(_ context.Context, startedBefore time.Time, limit int) (int, error) {
	f.cutoffs = append(f.cutoffs, startedBefore)
	f.limits = append(f.limits, limit)
	if len(f.batches) == 0 {
		return 0, f.err
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, f.err
}

func newReconciliationJob(t *testing.T, payments staleAbandoner, staleAfter time.Duration, batch int) *reconciliationJob {
	t.Helper()
	job, err := NewReconciliationJob(ReconciliationJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Payments:   payments,
		StaleAfter: staleAfter,
		BatchSize:  batch,
	})
	require.NoError(t, err)
	typed, ok := job.(*reconciliationJob)
	require.True(t, ok)
	return typed
}

func TestReconciliationJobUsesStaleCutoff(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	payments := &fakeAbandoner{batches: []int{0}}
	job := newReconciliationJob(t, payments, 15*time.Minute, 50)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, payments.cutoffs, 1)
	assert.Equal(t, now.Add(-15*time.Minute), payments.cutoffs[0])
	assert.Equal(t, []int{50}, payments.limits)
}

func TestReconciliationJobDrainsFullBatches(t *testing.T) {
	payments := &fakeAbandoner{batches: []int{2, 2, 1}}
	job := newReconciliationJob(t, payments, 0, 2)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, payments.cutoffs, 3)
	for _, c := range payments.cutoffs {
		assert.Equal(t, payments.cutoffs[0], c)
	}
}

func TestReconciliationJobDefaults(t *testing.T) {
	job := newReconciliationJob(t, &fakeAbandoner{}, 0, 0)
	assert.Equal(t, defaultStaleAfter, job.staleAfter)
	assert.Equal(t, defaultReconcileBatch, job.batch)
	assert.Equal(t, "payment-reconciliation", job.Name())
}

func TestReconciliationJobPropagatesError(t *testing.T) {
	payments := &fakeAbandoner{batches: []int{1}, err: errors.New("db down")}
	job := newReconciliationJob(t, payments, time.Minute, 10)
	assert.Error(t, job.Run(context.Background()))
}

func TestNewReconciliationJobRequiresPayments(t *testing.T) {
	_, err := NewReconciliationJob(ReconciliationJobParams{Logger: logger.New(logger.Options{Output: io.Discard})})
	assert.Error(t, err)
}
