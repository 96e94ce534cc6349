// Command chaos runs the lending consistency experiments against a
// running lendinghub API and exits non-zero if any hypothesis fails.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"lendinghub/internal/chaos"
	"lendinghub/internal/circulation"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/config"
	"lendinghub/internal/platform/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("chaos run failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level)
	slog.SetDefault(logger)

	policy, err := circulation.PolicyFromConfig(cfg.Lending)
	if err != nil {
		return err
	}

	concurrency, err := strconv.Atoi(getEnv("CHAOS_CONCURRENCY", "16"))
	if err != nil || concurrency <= 0 {
		return fmt.Errorf("invalid CHAOS_CONCURRENCY %q", os.Getenv("CHAOS_CONCURRENCY"))
	}
	pause, err := time.ParseDuration(getEnv("CHAOS_PAUSE", "2s"))
	if err != nil {
		return fmt.Errorf("invalid CHAOS_PAUSE: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	target := chaos.NewTarget(getEnv("LENDINGHUB_URL", "http://localhost:8080"), nil)
	engine := chaos.NewEngine(logger)
	engine.Register(chaos.LendingExperiments(target, concurrency, policy.BorrowLimit(membership.UserTypeStandard))...)

	results := engine.RunAll(ctx, pause)
	if err := json.NewEncoder(os.Stdout).Encode(results); err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if !r.HypothesisHeld {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d experiments failed", failed, len(results))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
