package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-engine/internal/config"
	"github.com/hackgods/availability-engine/internal/db"
	"github.com/hackgods/availability-engine/internal/logging"
	redisclient "github.com/hackgods/availability-engine/internal/redis"
	"github.com/hackgods/availability-engine/internal/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("backfill-worker", "info", true)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("backfill-worker", cfg.LogLevel, cfg.Pretty())
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Dur("horizon", cfg.BackfillHorizon).
		Int("batch_size", cfg.BackfillBatchSize).
		Msg("backfill-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 4,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	svc := schedule.NewService(
		schedule.NewPgStore(pgPool),
		redisclient.NewRedisScheduleLocker(rdb, cfg.LockTTL),
		logger,
	)

	// Run once at startup
	runOnce(rootCtx, svc, cfg, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping backfill worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *schedule.Service, cfg config.Config, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, cfg.WorkerInterval)
	defer cancel()

	start := time.Now()
	res, err := svc.BackfillScheduleRecurringBlocks(runCtx, start.UTC().Add(cfg.BackfillHorizon), cfg.BackfillBatchSize)
	if err != nil {
		logger.Error().Err(err).Msg("backfill run error")
		return
	}
	logger.Info().
		Int("blocks", res.Blocks).
		Int("events_created", res.EventsCreated).
		Int("failed", res.Failed).
		Dur("took", time.Since(start)).
		Msg("backfill run complete")
}
