package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/rentalbooks/internal/app"
	"github.com/odyssey-erp/rentalbooks/internal/balancesheet"
	"github.com/odyssey-erp/rentalbooks/internal/engine"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
	"github.com/odyssey-erp/rentalbooks/internal/invalidation"
	jobmetrics "github.com/odyssey-erp/rentalbooks/internal/jobs"
	"github.com/odyssey-erp/rentalbooks/internal/platform/cache"
	"github.com/odyssey-erp/rentalbooks/internal/platform/db"
	"github.com/odyssey-erp/rentalbooks/internal/store/postgres"
	"github.com/odyssey-erp/rentalbooks/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var statementCache *invalidation.Cache
	if cfg.StatementCacheEnabled {
		redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Warn("statement cache disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			statementCache = invalidation.NewCache(redisClient, cfg.StatementCacheTTL)
		}
	}

	service, err := engine.NewService(postgres.New(pool), engine.Options{
		Cache:   statementCache,
		Income:  incomestatement.DefaultConfig(),
		Balance: balancesheet.Config{LoanLiabilityLevel1: cfg.LoanLiabilityLevel1, LoanMatchByName: cfg.LoanMatchByName},
		Logger:  logger,
	})
	if err != nil {
		logger.Error("init engine", slog.Any("error", err))
		os.Exit(1)
	}

	statementJobs := jobs.NewStatementJobs(service, logger, jobmetrics.NewMetrics(nil))

	var cron []jobs.CronRegistration
	if cfg.WarmupCron != "" && cfg.WarmupYears > 0 {
		warmupTask, err := jobs.NewStatementsWarmupAllTask(cfg.WarmupYears)
		if err != nil {
			logger.Error("build warmup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    statementJobs.Handlers(),
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
