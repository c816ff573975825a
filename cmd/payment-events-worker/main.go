package main

import (
	"context"
	"errors"
	"fmt"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pushpay-backend/internal/paymentevents"
	"github.com/angelmondragon/pushpay-backend/pkg/bigquery"
	"github.com/angelmondragon/pushpay-backend/pkg/bootstrap"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/registry"
	"github.com/angelmondragon/pushpay-backend/pkg/pubsub"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
)

func main() {
	bootstrap.Main("payment-events-worker", run)
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() { err = multierr.Append(err, redisClient.Close()) }()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	defer func() { err = multierr.Append(err, pubsubClient.Close()) }()

	if err := pubsubClient.EnsureSubscription(ctx, cfg.PubSub.PaymentsSubscription); err != nil {
		return fmt.Errorf("payments subscription: %w", err)
	}
	subscription := pubsubClient.PaymentsSubscription()
	if subscription == nil {
		return errors.New("payments subscription not configured")
	}

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, bigquery.TableSpec{
		Name:           cfg.BigQuery.PaymentEventsTable,
		PartitionField: paymentevents.RowPartitionField,
		Schema:         paymentevents.RowSchema(),
	})
	if err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}
	defer func() { err = multierr.Append(err, bqClient.Close()) }()

	service, err := newConsumer(cfg, logg, redisClient, bqClient, subscription)
	if err != nil {
		return err
	}

	go func() {
		if err := metrics.Serve(ctx, cfg.Eventing.MetricsPort, prometheus.DefaultGatherer, logg); err != nil {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
	ctx = logg.WithField(ctx, "subscription", cfg.PubSub.PaymentsSubscription)
	return service.Run(ctx)
}

func newConsumer(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, bqClient *bigquery.Client, subscription *gcppubsub.Subscriber) (*paymentevents.Service, error) {
	ledger, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL, cfg.Eventing.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("event ledger: %w", err)
	}
	writer, err := paymentevents.NewBigQueryWriter(bqClient, bqClient.PaymentEventsTable(), paymentevents.RetryPolicy{})
	if err != nil {
		return nil, err
	}
	decoders, err := registry.PaymentDecoders()
	if err != nil {
		return nil, err
	}
	handler, err := paymentevents.NewHandler(decoders, writer, logg)
	if err != nil {
		return nil, err
	}
	return paymentevents.NewService(subscription, handler, ledger, metrics.NewConsumerMetrics(prometheus.DefaultRegisterer), logg)
}
