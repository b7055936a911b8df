package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/rentalbooks/internal/balancesheet"
	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
	jobmetrics "github.com/odyssey-erp/rentalbooks/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	warmupParallelism  = 4
	defaultWarmupYears = 2
)

// Engine is the slice of the bookkeeping service the jobs drive.
type Engine interface {
	Properties(ctx context.Context) ([]books.Property, error)
	RecalculateAmortization(ctx context.Context, propertyID int64) (int, error)
	IncomeStatement(ctx context.Context, propertyID int64, year int) (incomestatement.Statement, error)
	BalanceSheet(ctx context.Context, propertyID int64, year int) (balancesheet.Sheet, error)
}

// StatementJobs handles the amortization and warmup tasks.
type StatementJobs struct {
	Engine  Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStatementJobs wires dependencies for the statement handlers.
func NewStatementJobs(engine Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatementJobs {
	return &StatementJobs{
		Engine:  engine,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task handlers to register on the worker.
func (j *StatementJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAmortizationRecalculate, Handler: j.HandleAmortizationRecalculate},
		{Type: TaskStatementsWarmup, Handler: j.HandleStatementsWarmup},
		{Type: TaskStatementsWarmupAll, Handler: j.HandleStatementsWarmupAll},
	}
}

// HandleAmortizationRecalculate rebuilds every schedule of a property.
func (j *StatementJobs) HandleAmortizationRecalculate(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Engine == nil {
		return errors.New("amortization recalculate: handler not configured")
	}
	var payload AmortizationRecalculatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PropertyID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskAmortizationRecalculate)
	defer func() { err = tracker.End(err) }()

	logger := j.logger(TaskAmortizationRecalculate).With(slog.Int64("property_id", payload.PropertyID))
	n, err := j.Engine.RecalculateAmortization(ctx, payload.PropertyID)
	if books.IsNotFound(err) {
		logger.Warn("property vanished before recalculation", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		logger.Error("recalculate amortization", slog.Any("error", err))
		return err
	}
	logger.Info("amortization recalculated", slog.Int("transactions", n))
	return nil
}

// HandleStatementsWarmup computes statements for each year of the payload range.
func (j *StatementJobs) HandleStatementsWarmup(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Engine == nil {
		return errors.New("statements warmup: handler not configured")
	}
	var payload StatementsWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PropertyID <= 0 || payload.From == 0 || payload.To == 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskStatementsWarmup)
	defer func() { err = tracker.End(err) }()

	err = j.warmProperty(ctx, payload.PropertyID, payload.From, payload.To)
	if books.IsNotFound(err) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return err
}

// HandleStatementsWarmupAll warms the most recent years of every property.
func (j *StatementJobs) HandleStatementsWarmupAll(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Engine == nil {
		return errors.New("statements warmup: handler not configured")
	}
	var payload StatementsWarmupAllPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Years <= 0 {
		payload.Years = defaultWarmupYears
	}
	tracker := j.metrics().Track(TaskStatementsWarmupAll)
	defer func() { err = tracker.End(err) }()

	props, err := j.Engine.Properties(ctx)
	if err != nil {
		return err
	}
	to := j.now().Year()
	from := to - payload.Years + 1
	start := j.now()
	for _, p := range props {
		if err := j.warmProperty(ctx, p.ID, from, to); err != nil {
			return err
		}
	}
	j.logger(TaskStatementsWarmupAll).Info("completed statements warmup",
		slog.Int("properties", len(props)), slog.Int("from", from), slog.Int("to", to),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *StatementJobs) warmProperty(ctx context.Context, propertyID int64, from, to int) error {
	if to < from {
		from, to = to, from
	}
	logger := j.logger(TaskStatementsWarmup).With(slog.Int64("property_id", propertyID))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(warmupParallelism)
	for year := from; year <= to; year++ {
		year := year
		group.Go(func() error {
			if _, err := j.Engine.IncomeStatement(gctx, propertyID, year); err != nil {
				return fmt.Errorf("income statement %d: %w", year, err)
			}
			sheet, err := j.Engine.BalanceSheet(gctx, propertyID, year)
			if err != nil {
				return fmt.Errorf("balance sheet %d: %w", year, err)
			}
			if !sheet.Balanced {
				j.metrics().AddImbalance(propertyID, year)
				logger.Warn("balance sheet out of balance",
					slog.Int("year", year),
					slog.String("difference", sheet.Difference.StringFixed(2)),
					slog.String("difference_percent", sheet.DifferencePercent.StringFixed(2)))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		logger.Error("warm statements", slog.Any("error", err))
		return err
	}
	logger.Info("statements warmed", slog.Int("from", from), slog.Int("to", to))
	return nil
}

func (j *StatementJobs) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *StatementJobs) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatementJobs) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
