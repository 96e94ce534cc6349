package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"lendinghub/internal/catalog"
	"lendinghub/internal/circulation"
	"lendinghub/internal/eventstore"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/config"
	"lendinghub/internal/platform/database"
	"lendinghub/internal/platform/lock"
	"lendinghub/internal/platform/logging"
	"lendinghub/internal/platform/telemetry"
	"lendinghub/internal/storage/memory"
)

func main() {
	if err := run(); err != nil {
		slog.Error("lendinghub exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.Logging.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	policy, err := circulation.PolicyFromConfig(cfg.Lending)
	if err != nil {
		return fmt.Errorf("lending policy: %w", err)
	}

	var loanOpts []circulation.Option
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		loanOpts = append(loanOpts, circulation.WithLocker(
			lock.NewRedisLocker(rdb, cfg.Redis.LockTTL(), lock.WithLogger(logger)),
		))
		logger.Info("redis lock enabled", "addr", cfg.Redis.Addr)
	}

	svc := services{
		catalog:    catalog.NewService(store.books, logger),
		membership: membership.NewService(store.users, logger),
		circulation: circulation.NewService(
			store.books, store.users, store.loans, store.journal,
			circulation.NewRules(policy), logger, loanOpts...,
		),
		ready: store.ping,
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(svc, cfg, logger),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lendinghub listening", "addr", srv.Addr, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type storage struct {
	books   catalog.Repository
	users   membership.Repository
	loans   circulation.Repository
	journal circulation.Journal
	ping    func(context.Context) error
	close   func() error
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		logger.Warn("using in-memory storage, data is lost on restart")
		return memoryStorage(memory.NewStore()), nil
	}

	db, err := database.Open(ctx, cfg.Database.URL, database.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		database.SetMigrationLogger(logger)
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		version, err := database.Version(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("database schema applied", "version", version)
	}
	return postgresStorage(db), nil
}

func memoryStorage(store *memory.Store) *storage {
	return &storage{
		books:   store.Books(),
		users:   store.Users(),
		loans:   store.Loans(),
		journal: store.Journal(),
		ping:    func(context.Context) error { return nil },
		close:   func() error { return nil },
	}
}

func postgresStorage(db *sqlx.DB) *storage {
	return &storage{
		books:   catalog.NewPostgresRepository(db),
		users:   membership.NewPostgresRepository(db),
		loans:   circulation.NewPostgresRepository(db),
		journal: eventstore.NewEventStore(db),
		ping:    db.PingContext,
		close:   db.Close,
	}
}
