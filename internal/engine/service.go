// Package engine orchestrates the bookkeeping components: it applies ledger
// mutations, runs the secondary effects chain and serves cached statements.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/amortization"
	"github.com/odyssey-erp/rentalbooks/internal/balancesheet"
	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/classify"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
	"github.com/odyssey-erp/rentalbooks/internal/invalidation"
	"github.com/odyssey-erp/rentalbooks/internal/ledger"
	"github.com/odyssey-erp/rentalbooks/internal/prorata"
)

// ErrInvalidInput indicates a rejected mutation payload.
var ErrInvalidInput = errors.New("engine: invalid input")

// Options wires optional collaborators.
type Options struct {
	Classifier books.Classifier
	Cache      *invalidation.Cache
	Income     incomestatement.Config
	Balance    balancesheet.Config
	Logger     *slog.Logger
	// Clock returns today; it defaults to time.Now in UTC.
	Clock func() time.Time
}

// Service is the entry point for every bookkeeping operation.
type Service struct {
	store       books.Store
	classifier  books.Classifier
	maintainer  *ledger.Maintainer
	scheduler   *amortization.Service
	income      *incomestatement.Aggregator
	sheet       *balancesheet.Aggregator
	overlay     *prorata.Overlay
	coordinator *invalidation.Coordinator
	dispatcher  *Dispatcher
	logger      *slog.Logger
	clock       func() time.Time
}

// NewService wires the component graph on top of store.
func NewService(store books.Store, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.NewResolver(logger)
	}
	income := incomestatement.NewAggregator(opts.Income, logger)
	sheet, err := balancesheet.NewAggregator(opts.Balance, income, logger)
	if err != nil {
		return nil, err
	}
	s := &Service{
		store:       store,
		classifier:  classifier,
		maintainer:  ledger.NewMaintainer(logger),
		scheduler:   amortization.NewService(logger),
		income:      income,
		sheet:       sheet,
		overlay:     prorata.NewOverlay(map[books.StatementKind][]string{books.StatementIncome: income.Config().CalculatedCategories()}, logger),
		coordinator: invalidation.NewCoordinator(opts.Cache, logger),
		logger:      logger,
		clock:       opts.Clock,
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	s.dispatcher = NewDispatcher(store, logger,
		balanceHandler{maintainer: s.maintainer},
		scheduleHandler{scheduler: s.scheduler},
		invalidationHandler{coordinator: s.coordinator},
	)
	return s, nil
}

// TransactionInput is the editable part of a transaction.
type TransactionInput struct {
	Date        time.Time       `json:"date" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=512"`
}

func (in TransactionInput) validate() error {
	if in.Date.IsZero() {
		return fmt.Errorf("%w: date required", ErrInvalidInput)
	}
	return nil
}

// Outcome is the result of a ledger mutation: the committed rows and the
// report of the secondary effects that followed.
type Outcome struct {
	Transactions []books.Transaction `json:"transactions"`
	Effects      Report              `json:"effects"`
}

func (s *Service) classifyInput(ctx context.Context, tx books.Tx, propertyID int64, description string) (*books.Classification, error) {
	mappings, err := tx.ListCategoryMappings(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("engine: list mappings: %w", err)
	}
	return s.classifier.Classify(description, mappings), nil
}

// CreateTransaction inserts a classified transaction and runs the chain.
func (s *Service) CreateTransaction(ctx context.Context, propertyID int64, in TransactionInput) (Outcome, error) {
	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	var created books.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		c, err := s.classifyInput(ctx, tx, propertyID, in.Description)
		if err != nil {
			return err
		}
		created, err = tx.InsertTransaction(ctx, books.Transaction{
			PropertyID:     propertyID,
			Date:           in.Date,
			Amount:         in.Amount,
			Description:    strings.TrimSpace(in.Description),
			Classification: c,
		})
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	report := s.dispatcher.Dispatch(ctx, NewTransactionChanged(ChangeCreated, propertyID, created.Date, created.ID))
	return s.outcome(ctx, report, created.ID)
}

// UpdateTransaction rewrites a transaction. The chain starts at the earlier of
// the old and new dates.
func (s *Service) UpdateTransaction(ctx context.Context, id int64, in TransactionInput) (Outcome, error) {
	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	var before, after books.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		var err error
		before, err = tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		after = before
		after.Date = in.Date
		after.Amount = in.Amount
		after.Description = strings.TrimSpace(in.Description)
		after.Classification, err = s.classifyInput(ctx, tx, before.PropertyID, after.Description)
		if err != nil {
			return err
		}
		return tx.UpdateTransaction(ctx, after)
	})
	if err != nil {
		return Outcome{}, err
	}
	ev := NewTransactionChanged(ChangeUpdated, after.PropertyID, after.Date, id)
	prev := before.Date
	ev.PreviousDate = &prev
	return s.outcome(ctx, s.dispatcher.Dispatch(ctx, ev), id)
}

// DeleteTransaction removes a transaction and its schedule.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) (Outcome, error) {
	var removed books.Transaction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		var err error
		removed, err = tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		return tx.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return Outcome{}, err
	}
	report := s.dispatcher.Dispatch(ctx, NewTransactionChanged(ChangeDeleted, removed.PropertyID, removed.Date, id))
	return Outcome{Transactions: []books.Transaction{removed}, Effects: report}, nil
}

// ImportTransactions inserts a batch atomically and runs the chain once from
// the earliest imported date.
func (s *Service) ImportTransactions(ctx context.Context, propertyID int64, batch []TransactionInput) (Outcome, error) {
	dates := make([]time.Time, 0, len(batch))
	for _, in := range batch {
		if err := in.validate(); err != nil {
			return Outcome{}, err
		}
		dates = append(dates, in.Date)
	}
	start, ok := ledger.ImportWindow(dates)
	if !ok {
		return Outcome{}, nil
	}
	ids := make([]int64, 0, len(batch))
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		mappings, err := tx.ListCategoryMappings(ctx, propertyID)
		if err != nil {
			return fmt.Errorf("engine: list mappings: %w", err)
		}
		for _, in := range batch {
			desc := strings.TrimSpace(in.Description)
			created, err := tx.InsertTransaction(ctx, books.Transaction{
				PropertyID:     propertyID,
				Date:           in.Date,
				Amount:         in.Amount,
				Description:    desc,
				Classification: s.classifier.Classify(desc, mappings),
			})
			if err != nil {
				return err
			}
			ids = append(ids, created.ID)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	s.logger.InfoContext(ctx, "transactions imported",
		slog.Int64("property_id", propertyID),
		slog.Int("count", len(ids)),
		slog.String("from", start.Format(time.DateOnly)))
	report := s.dispatcher.Dispatch(ctx, NewTransactionChanged(ChangeImported, propertyID, start, ids...))
	return s.outcome(ctx, report, ids...)
}

// Reclassify re-resolves every transaction of a property after its category
// mappings changed. Only transactions whose classification moved go through
// the chain.
func (s *Service) Reclassify(ctx context.Context, propertyID int64) (Outcome, error) {
	var (
		changed  []int64
		earliest time.Time
	)
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		mappings, err := tx.ListCategoryMappings(ctx, propertyID)
		if err != nil {
			return fmt.Errorf("engine: list mappings: %w", err)
		}
		txs, err := tx.ListTransactions(ctx, books.TransactionFilter{PropertyID: propertyID})
		if err != nil {
			return fmt.Errorf("engine: list transactions: %w", err)
		}
		for _, t := range txs {
			next := s.classifier.Classify(t.Description, mappings)
			if sameClassification(t.Classification, next) {
				continue
			}
			if err := tx.UpdateClassification(ctx, t.ID, next); err != nil {
				return err
			}
			if len(changed) == 0 || t.Date.Before(earliest) {
				earliest = t.Date
			}
			changed = append(changed, t.ID)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(changed) == 0 {
		return Outcome{}, nil
	}
	report := s.dispatcher.Dispatch(ctx, NewTransactionChanged(ChangeReclassified, propertyID, earliest, changed...))
	return s.outcome(ctx, report, changed...)
}

func sameClassification(a, b *books.Classification) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) outcome(ctx context.Context, report Report, ids ...int64) (Outcome, error) {
	out := Outcome{Effects: report}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		for _, id := range ids {
			t, err := tx.GetTransaction(ctx, id)
			if err != nil {
				return err
			}
			out.Transactions = append(out.Transactions, t)
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// RecalculateAmortization rebuilds every schedule of a property and drops its
// cached statements. It returns the number of schedule rows.
func (s *Service) RecalculateAmortization(ctx context.Context, propertyID int64) (int, error) {
	var rows int
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		var err error
		rows, err = s.scheduler.RecalculateAll(ctx, tx, propertyID)
		if err != nil {
			return err
		}
		return s.coordinator.Invalidate(ctx, tx, propertyID, nil)
	})
	return rows, err
}

// RecalculateAmortizationType rebuilds schedules after an amortization type edit.
func (s *Service) RecalculateAmortizationType(ctx context.Context, typeID int64) (int, error) {
	var rows int
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		typ, err := tx.GetAmortizationType(ctx, typeID)
		if err != nil {
			return err
		}
		rows, err = s.scheduler.RecalculateType(ctx, tx, typeID)
		if err != nil {
			return err
		}
		return s.coordinator.Invalidate(ctx, tx, typ.PropertyID, nil)
	})
	return rows, err
}

// SetOverride replaces the net result of a year. Balance sheets from that
// year onward depend on it.
func (s *Service) SetOverride(ctx context.Context, propertyID int64, year int, value decimal.Decimal) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		if err := tx.UpsertIncomeStatementOverride(ctx, books.IncomeStatementOverride{PropertyID: propertyID, Year: year, Value: value}); err != nil {
			return err
		}
		return s.coordinator.InvalidateRange(ctx, tx, propertyID, year, 0)
	})
}

// LoanChanged drops every cached statement of a property after its loan
// configuration or payments changed.
func (s *Service) LoanChanged(ctx context.Context, propertyID int64) error {
	return s.Invalidate(ctx, propertyID, nil)
}

// Invalidate drops cached statements of a property from year onward, or all
// of them when year is nil.
func (s *Service) Invalidate(ctx context.Context, propertyID int64, year *int) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		return s.coordinator.Invalidate(ctx, tx, propertyID, year)
	})
}

// Properties lists every property.
func (s *Service) Properties(ctx context.Context) ([]books.Property, error) {
	var out []books.Property
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		var err error
		out, err = tx.ListProperties(ctx)
		return err
	})
	return out, err
}

// AmortizationCumulative returns, per amortization category, the depreciation
// accumulated up to today. The current year counts in full and schedules
// starting after this year contribute nothing.
func (s *Service) AmortizationCumulative(ctx context.Context, propertyID int64) (map[string]decimal.Decimal, error) {
	var out map[string]decimal.Decimal
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		var err error
		out, err = s.scheduler.CumulativeToDate(ctx, tx, propertyID, s.clock())
		return err
	})
	return out, err
}
