// Command migrate applies or rolls back the lendinghub schema migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"

	"lendinghub/internal/platform/config"
	"lendinghub/internal/platform/database"
	"lendinghub/internal/platform/logging"
)

func main() {
	command := flag.String("command", "up", "migration command: up, down, status")
	flag.Parse()

	if err := run(*command); err != nil {
		slog.Error("migrate failed", "command", *command, "error", err)
		os.Exit(1)
	}
}

func run(command string) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level)
	slog.SetDefault(logger)

	action, err := commandFor(command)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database.URL, database.Options{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	database.SetMigrationLogger(logger)
	if err := action(ctx, db); err != nil {
		return err
	}

	version, err := database.Version(ctx, db)
	if err != nil {
		return err
	}
	logger.Info("migrate finished", "command", command, "version", version)
	return nil
}

func commandFor(name string) (func(context.Context, *sqlx.DB) error, error) {
	switch name {
	case "up":
		return database.Migrate, nil
	case "down":
		return database.MigrateDown, nil
	case "status":
		return database.MigrationStatus, nil
	default:
		return nil, fmt.Errorf("unknown command %q, use up, down or status", name)
	}
}
