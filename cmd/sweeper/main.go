package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/config"
	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/pkg/database"
	"github.com/launchbase/launchbase-api/internal/pkg/logger"
)

// One-shot expiration sweep for external schedulers (cron, Kubernetes
// CronJob). Exits non-zero when the run itself fails; per-entry errors are
// reported in the summary and do not fail the process.
func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().Str("env", cfg.Env).Msg("Starting credit expiration sweep")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	cache, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(cache)

	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", cfg.SweepTimezone).Msg("Invalid sweep timezone")
	}

	creditRepo := credit.NewPostgresRepository(db)
	creditSvc := credit.NewService(creditRepo, cache)
	sweeper := credit.NewSweeper(creditSvc, creditRepo, credit.SweeperConfig{
		BatchSize:   cfg.SweepBatchSize,
		Concurrency: cfg.SweepConcurrency,
		Location:    loc,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	report, err := sweeper.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Expiration sweep failed")
		os.Exit(1)
	}

	log.Info().
		Time("cutoff", report.Cutoff).
		Int("found", report.Found).
		Int("processed", report.Processed).
		Int("skipped", report.Skipped).
		Int("errors", report.Errors).
		Msg("Expiration sweep complete")
}
