package amortization

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// ResultReader reads stored schedule rows.
type ResultReader interface {
	ListAmortizationResults(ctx context.Context, filter books.AmortizationFilter) ([]books.AmortizationResult, error)
}

// Store is the subset of books.Tx the scheduler needs.
type Store interface {
	ResultReader
	GetAmortizationType(ctx context.Context, id int64) (books.AmortizationType, error)
	ListAmortizationTypes(ctx context.Context, propertyID int64) ([]books.AmortizationType, error)
	ListTransactions(ctx context.Context, filter books.TransactionFilter) ([]books.Transaction, error)
	InsertAmortizationResults(ctx context.Context, rows []books.AmortizationResult) error
	DeleteAmortizationResults(ctx context.Context, transactionID int64) (int64, error)
	DeletePropertyAmortizationResults(ctx context.Context, propertyID int64) (int64, error)
}

// Service persists schedules for depreciable transactions.
type Service struct {
	logger *slog.Logger
}

// NewService constructs the scheduler service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ResolveType returns the first type, in id order, whose filters select the
// classification.
func ResolveType(types []books.AmortizationType, c *books.Classification) (books.AmortizationType, bool) {
	for _, t := range types {
		if t.Matches(c) {
			return t, true
		}
	}
	return books.AmortizationType{}, false
}

// Rows converts a schedule into result rows for tx under typ.
func Rows(tx books.Transaction, typ books.AmortizationType, s Schedule) []books.AmortizationResult {
	rows := make([]books.AmortizationResult, 0, len(s.Buckets))
	for _, b := range s.Buckets {
		rows = append(rows, books.AmortizationResult{
			TransactionID: tx.ID,
			PropertyID:    tx.PropertyID,
			TypeID:        typ.ID,
			Year:          b.Year,
			Category:      typ.Name,
			Amount:        b.Amount,
		})
	}
	return rows
}

func (s *Service) schedule(ctx context.Context, tx books.Transaction, typ books.AmortizationType) Schedule {
	start := tx.Date
	if typ.StartDateOverride != nil {
		start = *typ.StartDateOverride
	}
	sched := BuildSchedule(start, tx.Amount, typ.DurationYears, typ.AnnualAmountOverride)
	if diag := Verify(sched, tx.Amount); diag != nil {
		s.logger.WarnContext(ctx, "amortization schedule does not sum to amount",
			slog.Int64("transaction_id", tx.ID),
			slog.String("type", typ.Name),
			slog.String("expected", diag.Expected.String()),
			slog.String("actual", diag.Actual.String()))
	}
	return sched
}

// RecalculateTransaction replaces the schedule of a single transaction. It
// returns the number of rows written.
func (s *Service) RecalculateTransaction(ctx context.Context, store Store, tx books.Transaction) (int, error) {
	if _, err := store.DeleteAmortizationResults(ctx, tx.ID); err != nil {
		return 0, fmt.Errorf("amortization: delete rows: %w", err)
	}
	if tx.Classification == nil {
		return 0, nil
	}
	types, err := store.ListAmortizationTypes(ctx, tx.PropertyID)
	if err != nil {
		return 0, fmt.Errorf("amortization: list types: %w", err)
	}
	typ, ok := ResolveType(types, tx.Classification)
	if !ok {
		return 0, nil
	}
	if err := typ.Validate(); err != nil {
		return 0, err
	}
	rows := Rows(tx, typ, s.schedule(ctx, tx, typ))
	if len(rows) == 0 {
		return 0, nil
	}
	if err := store.InsertAmortizationResults(ctx, rows); err != nil {
		return 0, fmt.Errorf("amortization: insert rows: %w", err)
	}
	return len(rows), nil
}

// Remove drops the schedule of a deleted transaction.
func (s *Service) Remove(ctx context.Context, store Store, transactionID int64) (int64, error) {
	n, err := store.DeleteAmortizationResults(ctx, transactionID)
	if err != nil {
		return 0, fmt.Errorf("amortization: delete rows: %w", err)
	}
	return n, nil
}

// RecalculateAll rebuilds every schedule of a property and returns the number
// of rows created.
func (s *Service) RecalculateAll(ctx context.Context, store Store, propertyID int64) (int, error) {
	if _, err := store.DeletePropertyAmortizationResults(ctx, propertyID); err != nil {
		return 0, fmt.Errorf("amortization: clear property: %w", err)
	}
	types, err := store.ListAmortizationTypes(ctx, propertyID)
	if err != nil {
		return 0, fmt.Errorf("amortization: list types: %w", err)
	}
	if len(types) == 0 {
		return 0, nil
	}
	for _, typ := range types {
		if err := typ.Validate(); err != nil {
			return 0, err
		}
	}
	txs, err := store.ListTransactions(ctx, books.TransactionFilter{PropertyID: propertyID, ClassifiedOnly: true})
	if err != nil {
		return 0, fmt.Errorf("amortization: list transactions: %w", err)
	}
	var rows []books.AmortizationResult
	for _, tx := range txs {
		typ, ok := ResolveType(types, tx.Classification)
		if !ok {
			continue
		}
		rows = append(rows, Rows(tx, typ, s.schedule(ctx, tx, typ))...)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := store.InsertAmortizationResults(ctx, rows); err != nil {
		return 0, fmt.Errorf("amortization: insert rows: %w", err)
	}
	s.logger.InfoContext(ctx, "amortization recalculated",
		slog.Int64("property_id", propertyID),
		slog.Int("rows", len(rows)))
	return len(rows), nil
}

// RecalculateType rebuilds the schedules of the property owning typeID after
// the type's filters, duration or overrides changed.
func (s *Service) RecalculateType(ctx context.Context, store Store, typeID int64) (int, error) {
	typ, err := store.GetAmortizationType(ctx, typeID)
	if err != nil {
		return 0, fmt.Errorf("amortization: load type: %w", err)
	}
	return s.RecalculateAll(ctx, store, typ.PropertyID)
}

// CumulativeToDate sums, per type name, every scheduled amount for years up to
// and including asOf.Year(). The current year counts in full.
func (s *Service) CumulativeToDate(ctx context.Context, store ResultReader, propertyID int64, asOf time.Time) (map[string]decimal.Decimal, error) {
	rows, err := store.ListAmortizationResults(ctx, books.AmortizationFilter{PropertyID: propertyID, MaxYear: asOf.Year()})
	if err != nil {
		return nil, fmt.Errorf("amortization: list results: %w", err)
	}
	out := make(map[string]decimal.Decimal)
	for _, r := range rows {
		if r.Year > asOf.Year() {
			continue
		}
		out[r.Category] = out[r.Category].Add(r.Amount)
	}
	return out, nil
}

// YearTotal sums every scheduled amount of a property for one year.
func YearTotal(ctx context.Context, store ResultReader, propertyID int64, year int) (decimal.Decimal, error) {
	rows, err := store.ListAmortizationResults(ctx, books.AmortizationFilter{PropertyID: propertyID, Year: year})
	if err != nil {
		return decimal.Zero, fmt.Errorf("amortization: list results: %w", err)
	}
	total := decimal.Zero
	for _, r := range rows {
		if r.Year == year {
			total = total.Add(r.Amount)
		}
	}
	return total, nil
}
