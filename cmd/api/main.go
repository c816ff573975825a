package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pushpay-backend/api/routes"
	"github.com/angelmondragon/pushpay-backend/internal/payments"
	"github.com/angelmondragon/pushpay-backend/pkg/bootstrap"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/migrate"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/redis"
	"github.com/angelmondragon/pushpay-backend/pkg/visadirect"
)

func main() {
	bootstrap.Main("api", run)
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
	// Certificates load once here; a bad path or key pair stops startup.
	transferClient, err := visadirect.NewFromConfig(cfg.VisaDirect,
		visadirect.WithLogger(logg),
		visadirect.WithMetrics(metrics.NewTransferMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("visa direct client: %w", err)
	}

	paymentService, err := payments.NewService(payments.ServiceParams{
		Repository:          payments.NewRepository(dbClient.DB()),
		Tx:                  dbClient,
		Outbox:              outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Transfer:            transferClient,
		Logger:              logg,
		Metrics:             metrics.NewPaymentMetrics(reg),
		LinkBase:            cfg.Payments.LinkBase(),
		SupportedCurrencies: cfg.Payments.SupportedCurrencies,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: listenAddr(cfg),
		Handler: routes.NewRouter(routes.RouterParams{
			Config:   cfg,
			Logger:   logg,
			DB:       dbClient,
			Redis:    redisClient,
			Payments: paymentService,
			Gatherer: prometheus.DefaultGatherer,
			HTTP:     metrics.NewHTTPMetrics(reg),
		}),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	warnShortDrain(ctx, cfg, logg)
	return serve(ctx, server, cfg.HTTP.ShutdownTimeout, logg)
}

// warnShortDrain flags a drain window that can cut off a transfer still
// polling; such a payment stays PROCESSING until the reconciliation sweep.
func warnShortDrain(ctx context.Context, cfg *config.Config, logg *logger.Logger) bool {
	gap := cfg.ShutdownShortfall()
	if gap <= 0 {
		return false
	}
	logg.Warn(logg.WithFields(ctx, map[string]any{
		"shutdown_timeout": cfg.HTTP.ShutdownTimeout.String(),
		"transfer_budget":  cfg.VisaDirect.TransferBudget().String(),
		"shortfall":        gap.String(),
	}), "http shutdown window is shorter than one transfer budget")
	return true
}

// listenAddr honors a platform-assigned PORT over the configured one.
func listenAddr(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + cfg.App.Port
}

// serve blocks until the listener fails or ctx ends. In-flight process calls
// may still be polling the network, so shutdown waits up to grace for them.
func serve(ctx context.Context, server *http.Server, grace time.Duration, logg *logger.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	logg.Info(logg.WithField(ctx, "addr", server.Addr), "api server listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown incomplete: %w", err)
	}
	return nil
}
