package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/store/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedLedger(t *testing.T) (*memory.Store, int64) {
	t.Helper()
	store := memory.New()
	pid := store.AddProperty("Rue des Lilas")
	for _, row := range []struct {
		date   time.Time
		amount string
	}{
		{day(2024, 1, 5), "1000"},
		{day(2024, 1, 5), "-200.50"},
		{day(2024, 2, 1), "750"},
		{day(2024, 3, 10), "-49.50"},
	} {
		store.AddTransaction(books.Transaction{PropertyID: pid, Date: row.date, Amount: decimal.RequireFromString(row.amount)})
	}
	return store, pid
}

func balances(t *testing.T, store *memory.Store, pid int64) []string {
	t.Helper()
	var out []string
	err := store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		rows, err := tx.ListTransactions(ctx, books.TransactionFilter{PropertyID: pid})
		if err != nil {
			return err
		}
		for _, r := range rows {
			out = append(out, r.RunningBalance.StringFixed(2))
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRecomputeFromStart(t *testing.T) {
	store, pid := seedLedger(t)
	m := NewMaintainer(nil)
	var updated int
	err := store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		var err error
		updated, err = m.Recompute(ctx, tx, pid, day(2024, 1, 1))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 4, updated)
	require.Equal(t, []string{"1000.00", "799.50", "1549.50", "1500.00"}, balances(t, store, pid))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	store, pid := seedLedger(t)
	m := NewMaintainer(nil)
	run := func() int {
		var updated int
		err := store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
			var err error
			updated, err = m.Recompute(ctx, tx, pid, day(2020, 1, 1))
			return err
		})
		require.NoError(t, err)
		return updated
	}
	run()
	first := balances(t, store, pid)
	if n := run(); n != 0 {
		t.Fatalf("expected no changes on second run, got %d", n)
	}
	require.Equal(t, first, balances(t, store, pid))
}

func TestRecomputeSeedsFromPriorBalance(t *testing.T) {
	store, pid := seedLedger(t)
	m := NewMaintainer(nil)
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		_, err := m.Recompute(ctx, tx, pid, day(2024, 1, 1))
		return err
	}))

	late := store.AddTransaction(books.Transaction{PropertyID: pid, Date: day(2024, 2, 15), Amount: decimal.NewFromInt(100)})
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		n, err := m.Recompute(ctx, tx, pid, late.Date)
		if err != nil {
			return err
		}
		if n != 2 {
			t.Fatalf("expected 2 rows rewritten, got %d", n)
		}
		return nil
	}))
	require.Equal(t, []string{"1000.00", "799.50", "1549.50", "1649.50", "1600.00"}, balances(t, store, pid))
}

func TestComputeBalancesOrdersByDateThenID(t *testing.T) {
	txs := []books.Transaction{
		{ID: 3, Date: day(2024, 1, 2), Amount: decimal.NewFromInt(5)},
		{ID: 2, Date: day(2024, 1, 1), Amount: decimal.NewFromInt(1)},
		{ID: 1, Date: day(2024, 1, 1), Amount: decimal.NewFromInt(10)},
	}
	updates := ComputeBalances(decimal.NewFromInt(100), txs)
	require.Len(t, updates, 3)
	require.Equal(t, int64(1), updates[0].TransactionID)
	require.Equal(t, "110", updates[0].RunningBalance.String())
	require.Equal(t, "111", updates[1].RunningBalance.String())
	require.Equal(t, "116", updates[2].RunningBalance.String())
}

func TestWindows(t *testing.T) {
	require.Equal(t, day(2023, 5, 1), EditWindow(day(2024, 1, 1), day(2023, 5, 1)))
	require.Equal(t, day(2023, 5, 1), EditWindow(day(2023, 5, 1), day(2024, 1, 1)))

	start, ok := ImportWindow([]time.Time{day(2024, 3, 1), day(2023, 12, 31), day(2024, 1, 1)})
	require.True(t, ok)
	require.Equal(t, day(2023, 12, 31), start)

	_, ok = ImportWindow(nil)
	require.False(t, ok)
}
