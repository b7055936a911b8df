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
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/rentalbooks/cmd/rentalbooks/cli"
	"github.com/odyssey-erp/rentalbooks/internal/app"
	"github.com/odyssey-erp/rentalbooks/internal/balancesheet"
	"github.com/odyssey-erp/rentalbooks/internal/engine"
	enginehttp "github.com/odyssey-erp/rentalbooks/internal/engine/http"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
	"github.com/odyssey-erp/rentalbooks/internal/invalidation"
	"github.com/odyssey-erp/rentalbooks/internal/observability"
	"github.com/odyssey-erp/rentalbooks/internal/platform/cache"
	"github.com/odyssey-erp/rentalbooks/internal/platform/db"
	"github.com/odyssey-erp/rentalbooks/internal/store/postgres"
	"github.com/odyssey-erp/rentalbooks/jobs"
)

const usage = `usage: rentalbooks [serve | migrate up|down | jobs trigger <task> [args...] | jobs stats]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		err = runMigrate(cfg, logger, args)
	case "jobs":
		err = runJobs(ctx, cfg, args)
	default:
		err = errors.New(usage)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func runMigrate(cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return errors.New(usage)
	}
	migrator, err := postgres.NewMigrator(cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()
	switch args[0] {
	case "up":
		return migrator.Up()
	case "down":
		return migrator.Down()
	default:
		return errors.New(usage)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := jobsCLI.Trigger(ctx, args[1], args[2:])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return errors.New(usage)
	}
	return nil
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	var (
		redisClient    *redis.Client
		statementCache *invalidation.Cache
	)
	if cfg.StatementCacheEnabled {
		redisClient, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Warn("statement cache disabled", slog.Any("error", err))
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
			statementCache = invalidation.NewCache(redisClient, cfg.StatementCacheTTL)
			err := statementCache.Subscribe(ctx, func(b invalidation.Bump) {
				logger.Debug("statement cache bumped", slog.Int64("property_id", b.PropertyID), slog.Int64("version", b.Version))
			})
			if err != nil {
				logger.Warn("statement cache subscription", slog.Any("error", err))
			}
		}
	}

	service, err := engine.NewService(postgres.New(pool), engine.Options{
		Cache:   statementCache,
		Income:  incomestatement.DefaultConfig(),
		Balance: balancesheet.Config{LoanLiabilityLevel1: cfg.LoanLiabilityLevel1, LoanMatchByName: cfg.LoanMatchByName},
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		EngineHandler: enginehttp.NewHandler(logger, service, jobClient),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
		Ready: func(r *http.Request) error {
			return pool.Ping(r.Context())
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
