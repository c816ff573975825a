package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pushpay-backend/internal/cron"
	"github.com/angelmondragon/pushpay-backend/internal/payments"
	"github.com/angelmondragon/pushpay-backend/pkg/bootstrap"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/migrate"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

const lockScope = "cron-worker"

func main() {
	bootstrap.Main("cron-worker", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	reg := prometheus.DefaultRegisterer
	outboxRepo := outbox.NewRepository(dbClient.DB())
	registry, err := scheduleJobs(cfg, logg, dbClient, outboxRepo, reg)
	if err != nil {
		return err
	}

	// The lease outlives one tick so a slow run is not stolen mid-flight.
	interval := cfg.Reconciliation.Interval
	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), interval+interval/2)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronMetrics(reg),
		Interval: interval,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.App.Port, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	return service.Run(ctx)
}

func scheduleJobs(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, outboxRepo *outbox.Repository, reg prometheus.Registerer) (*cron.Registry, error) {
	reconciler, err := payments.NewReconciler(payments.ReconcilerParams{
		Repository: payments.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outbox.NewService(outboxRepo, logg),
		Logger:     logg,
		Metrics:    metrics.NewPaymentMetrics(reg),
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: %w", err)
	}
	reconcileJob, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:     logg,
		Payments:   reconciler,
		StaleAfter: cfg.Reconciliation.StaleAfter,
		BatchSize:  cfg.Reconciliation.BatchSize,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		BatchSize:  cfg.Outbox.RetentionBatch,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry()
	if err := registry.Schedule(reconcileJob, 0); err != nil {
		return nil, err
	}
	if err := registry.Schedule(retentionJob, cfg.Outbox.RetentionEvery); err != nil {
		return nil, err
	}
	return registry, nil
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey(lockScope, env)
}
