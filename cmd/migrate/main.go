package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/pushpay-backend/pkg/bootstrap"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// dbCommand runs against a live schema.
type dbCommand func(ctx context.Context, m *migrate.Migrator, opts options) error

var dbCommands = map[string]dbCommand{
	"up": func(ctx context.Context, m *migrate.Migrator, _ options) error {
		return m.Up(ctx)
	},
	"down": func(ctx context.Context, m *migrate.Migrator, _ options) error {
		return m.Down(ctx)
	},
	"status": func(ctx context.Context, m *migrate.Migrator, _ options) error {
		pending, err := m.Status(ctx)
		if err == nil {
			fmt.Printf("%d pending migration(s)\n", pending)
		}
		return err
	},
	"version": func(ctx context.Context, m *migrate.Migrator, opts options) error {
		if opts.version == "" {
			return fmt.Errorf("-version is required")
		}
		return m.To(ctx, opts.version)
	},
}

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "migrations directory; the default is embedded in the binary")
	flag.StringVar(&opts.name, "name", "", "migration name for -cmd=create")
	flag.StringVar(&opts.version, "version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	flag.Parse()

	// create and validate are offline and need no config
	switch *cmd {
	case "create":
		path, err := migrate.CreateSQLMigration(opts.dir, opts.name, time.Now())
		exitOn(err, "create migration")
		fmt.Println("created", path)
		return
	case "validate":
		exitOn(migrate.ValidateDir(opts.dir), "validate migrations")
		fmt.Println("migrations valid")
		return
	}

	cmdFn, ok := dbCommands[*cmd]
	if !ok {
		exitOn(fmt.Errorf("unknown -cmd %q", *cmd), "parse flags")
	}

	cfg, err := config.Load()
	exitOn(err, "load config")
	logg := bootstrap.Logger(cfg, "migrate", nil)
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"dir":    opts.dir,
		"driver": cfg.DB.Driver,
	})

	if err := runDB(ctx, cfg, logg, opts, cmdFn); err != nil {
		logg.Error(ctx, "migration command failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration command finished")
}

func runDB(ctx context.Context, cfg *config.Config, logg *logger.Logger, opts options, cmdFn dbCommand) (err error) {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	defer func() { err = multierr.Append(err, dbClient.Close()) }()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return fmt.Errorf("sql handle unavailable: %w", err)
	}
	m, err := migrate.New(sqlDB, cfg.DB.Driver, migrate.Source(opts.dir), logg)
	if err != nil {
		return err
	}
	return cmdFn(ctx, m, opts)
}

func exitOn(err error, step string) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
