package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const (
	defaultStaleAfter     = 30 * time.Minute
	defaultReconcileBatch = 100
)

type staleAbandoner interface {
	AbandonStale(ctx context.Context, startedBefore time.Time, limit int) (int, error)
}

type ReconciliationJobParams struct {
	Logger     *logger.Logger
	Payments   staleAbandoner
	StaleAfter time.Duration
	BatchSize  int
}

// NewReconciliationJob fails payments left in PROCESSING longer than StaleAfter,
// which only happens when a process died between the claim and the final commit.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &reconciliationJob{
		logg:       params.Logger,
		payments:   params.Payments,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type reconciliationJob struct {
	logg       *logger.Logger
	payments   staleAbandoner
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *reconciliationJob) Name() string { return "payment-reconciliation" }

// Run drains stale records one batch at a time until a short batch signals the backlog is empty.
func (j *reconciliationJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.payments.AbandonStale(ctx, cutoff, j.batch)
		total += n
		if err != nil {
			return fmt.Errorf("abandon stale payments: %w", err)
		}
		if n < j.batch {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"abandoned": total,
	})
	if total > 0 {
		j.logg.Warn(logCtx, "stale payments abandoned")
		return nil
	}
	j.logg.Info(logCtx, "no stale payments")
	return nil
}
