package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

type fakePruner struct {
	remaining int64
	cutoffs   []time.Time
	limits    []int
	err       error
}

func (f *fakePruner) DeletePublishedBefore(_ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	n := min(f.remaining, int64(limit))
	f.remaining -= n
	return n, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func retentionJob(t *testing.T, repo *fakePruner, retention time.Duration, batch int) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         passthroughTx{},
		Repository: repo,
		Retention:  retention,
		BatchSize:  batch,
	})
	require.NoError(t, err)
	typed, ok := job.(*outboxRetentionJob)
	require.True(t, ok)
	typed.now = func() time.Time { return time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC) }
	return typed
}

func TestOutboxRetentionDefaults(t *testing.T) {
	repo := &fakePruner{}
	job := retentionJob(t, repo, 0, 0)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, repo.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC), repo.cutoffs[0])
	assert.Equal(t, []int{defaultRetentionBatch}, repo.limits)
}

func TestOutboxRetentionDeletesUntilShortBatch(t *testing.T) {
	repo := &fakePruner{remaining: 25}
	job := retentionJob(t, repo, 7*24*time.Hour, 10)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, repo.cutoffs, 3)
	assert.Zero(t, repo.remaining)
	assert.Equal(t, time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), repo.cutoffs[0])
}

func TestOutboxRetentionStopsAtBatchCap(t *testing.T) {
	repo := &fakePruner{remaining: 1 << 20}
	job := retentionJob(t, repo, time.Hour, 1)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, repo.cutoffs, maxRetentionBatches)
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job := retentionJob(t, &fakePruner{err: errors.New("boom")}, 0, 0)
	assert.ErrorContains(t, job.Run(context.Background()), "boom")
}

func TestOutboxRetentionHonorsCancellation(t *testing.T) {
	repo := &fakePruner{remaining: 100}
	job := retentionJob(t, repo, 0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Empty(t, repo.cutoffs)
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{})
	assert.Error(t, err)
}
