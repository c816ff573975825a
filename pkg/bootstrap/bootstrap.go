// Package bootstrap holds the start-up sequence shared by every binary:
// optional .env file, environment config, service logger and a context that
// is canceled on SIGINT or SIGTERM.
package bootstrap

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

// RunFunc is a binary's body. Clients it opens are closed before it returns.
type RunFunc func(ctx context.Context, cfg *config.Config, logg *logger.Logger) error

type loader func() (*config.Config, error)

// Main runs fn and exits non-zero when it fails. Cancellation by signal is a
// clean stop.
func Main(kind string, fn RunFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, kind, fn, loadEnv, os.Stdout)
	stop()
	os.Exit(code)
}

func loadEnv() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return config.Load()
}

func execute(ctx context.Context, kind string, fn RunFunc, load loader, out io.Writer) int {
	cfg, err := load()
	if err != nil {
		boot := logger.New(logger.Options{ServiceName: kind, Output: out})
		boot.Error(ctx, "failed to load config", err)
		return 1
	}
	cfg.Service.Kind = kind
	logg := Logger(cfg, kind, out)

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "serviceKind": kind})
	logg.Info(ctx, "starting "+kind)
	if err := fn(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, kind+" stopped unexpectedly", err)
		return 1
	}
	logg.Info(ctx, kind+" shut down")
	return 0
}

// Logger builds the service logger from the App section.
func Logger(cfg *config.Config, kind string, out io.Writer) *logger.Logger {
	return logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
		Output:      out,
	})
}
