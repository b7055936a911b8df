// Package ledger maintains the running balance column of a property ledger.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// Store is the subset of books.Tx the maintainer needs.
type Store interface {
	ListTransactions(ctx context.Context, filter books.TransactionFilter) ([]books.Transaction, error)
	LastTransactionBefore(ctx context.Context, propertyID int64, date time.Time) (*books.Transaction, error)
	UpdateRunningBalances(ctx context.Context, updates []books.BalanceUpdate) error
}

// Maintainer recomputes running balances from a starting date forward.
type Maintainer struct {
	logger *slog.Logger
}

// NewMaintainer constructs a Maintainer.
func NewMaintainer(logger *slog.Logger) *Maintainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintainer{logger: logger}
}

// Recompute rewrites the running balance of every transaction dated on or after
// from, seeded from the last transaction strictly before the window. It returns
// the number of rows that changed.
func (m *Maintainer) Recompute(ctx context.Context, store Store, propertyID int64, from time.Time) (int, error) {
	seed := decimal.Zero
	prev, err := store.LastTransactionBefore(ctx, propertyID, from)
	if err != nil {
		return 0, fmt.Errorf("ledger: load seed: %w", err)
	}
	if prev != nil {
		seed = prev.RunningBalance
	}
	txs, err := store.ListTransactions(ctx, books.TransactionFilter{PropertyID: propertyID, From: &from})
	if err != nil {
		return 0, fmt.Errorf("ledger: list window: %w", err)
	}
	updates := ComputeBalances(seed, txs)
	if len(updates) == 0 {
		return 0, nil
	}
	if err := store.UpdateRunningBalances(ctx, updates); err != nil {
		return 0, fmt.Errorf("ledger: write balances: %w", err)
	}
	m.logger.DebugContext(ctx, "running balances recomputed",
		slog.Int64("property_id", propertyID),
		slog.String("from", from.Format(time.DateOnly)),
		slog.Int("window", len(txs)),
		slog.Int("updated", len(updates)))
	return len(updates), nil
}

// ComputeBalances walks txs in (date, id) order starting from seed and returns
// the rows whose stored balance differs from the recomputed one.
func ComputeBalances(seed decimal.Decimal, txs []books.Transaction) []books.BalanceUpdate {
	ordered := make([]books.Transaction, len(txs))
	copy(ordered, txs)
	sortLedger(ordered)

	updates := make([]books.BalanceUpdate, 0, len(ordered))
	balance := seed
	for _, tx := range ordered {
		balance = balance.Add(tx.Amount)
		if tx.RunningBalance.Equal(balance) {
			continue
		}
		updates = append(updates, books.BalanceUpdate{TransactionID: tx.ID, RunningBalance: balance})
	}
	return updates
}

// EditWindow returns the start of the window touched by moving a transaction
// from oldDate to newDate.
func EditWindow(oldDate, newDate time.Time) time.Time {
	if newDate.Before(oldDate) {
		return newDate
	}
	return oldDate
}

// ImportWindow returns the earliest date of an imported batch. ok is false
// for an empty batch.
func ImportWindow(dates []time.Time) (time.Time, bool) {
	if len(dates) == 0 {
		return time.Time{}, false
	}
	earliest := dates[0]
	for _, d := range dates[1:] {
		if d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, true
}
