package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
)

const defaultInterval = 10 * time.Minute

type runMetrics interface {
	ObserveRun(job, outcome string, took time.Duration, finishedAt time.Time)
	IncSkipped()
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  runMetrics
	// Interval is the tick between cycles; per-job cadence is set on the Registry.
	Interval time.Duration
}

// Service wakes every Interval, takes the distributed lock and runs the jobs that are due.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  runMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Run executes one cycle immediately, then one per tick until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	due := s.registry.Due(s.now())
	if len(due) == 0 {
		return nil
	}

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "cron lock held elsewhere; skipping cycle")
		if s.metrics != nil {
			s.metrics.IncSkipped()
		}
		return nil
	}
	defer func() {
		// the cycle context may already be canceled at shutdown
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	ctx = s.logg.WithField(ctx, "due_jobs", len(due))
	s.logg.Info(ctx, "cron cycle starting")
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		s.runJob(ctx, job)
	}
	s.logg.Info(ctx, "cron cycle complete")
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	started := s.now()
	err := runSafely(jobCtx, job)
	finished := s.now()
	took := finished.Sub(started)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())

	outcome := metrics.CronOutcomeSuccess
	var panicked *jobPanic
	switch {
	case errors.As(err, &panicked):
		outcome = metrics.CronOutcomePanic
		s.logg.Error(jobCtx, "job panicked", err)
	case err != nil:
		outcome = metrics.CronOutcomeFailure
		s.logg.Error(jobCtx, "job failed", err)
	default:
		s.registry.MarkRun(job.Name(), finished)
		s.logg.Info(jobCtx, "job completed")
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(job.Name(), outcome, took, finished)
	}
}

type jobPanic struct {
	job   string
	value any
}

func (p *jobPanic) Error() string {
	return fmt.Sprintf("job %s panicked: %v", p.job, p.value)
}

func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jobPanic{job: job.Name(), value: r}
		}
	}()
	return job.Run(ctx)
}
