package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

func staticConfig() (*config.Config, error) {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.App.LogLevel = "info"
	cfg.App.LogFormat = logger.FormatJSON
	return cfg, nil
}

func TestExecuteRunsBodyWithServiceKind(t *testing.T) {
	out := &bytes.Buffer{}
	var kind string
	code := execute(context.Background(), "cron-worker", func(_ context.Context, cfg *config.Config, logg *logger.Logger) error {
		kind = cfg.Service.Kind
		assert.NotNil(t, logg)
		return nil
	}, staticConfig, out)

	assert.Equal(t, 0, code)
	assert.Equal(t, "cron-worker", kind)
	assert.Contains(t, out.String(), "starting cron-worker")
	assert.Contains(t, out.String(), `"serviceKind":"cron-worker"`)
}

func TestExecuteExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"clean", nil, 0},
		{"canceled", fmt.Errorf("serve: %w", context.Canceled), 0},
		{"failure", errors.New("database unreachable"), 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			code := execute(context.Background(), "api", func(context.Context, *config.Config, *logger.Logger) error {
				return tc.err
			}, staticConfig, out)
			assert.Equal(t, tc.code, code)
			if tc.code != 0 {
				assert.Contains(t, out.String(), "api stopped unexpectedly")
			}
		})
	}
}

func TestExecuteFailsOnConfigError(t *testing.T) {
	out := &bytes.Buffer{}
	called := false
	code := execute(context.Background(), "api", func(context.Context, *config.Config, *logger.Logger) error {
		called = true
		return nil
	}, func() (*config.Config, error) { return nil, errors.New("PUSHPAY_DB_DSN missing") }, out)

	assert.Equal(t, 1, code)
	assert.False(t, called)
	assert.Contains(t, out.String(), "failed to load config")
}
