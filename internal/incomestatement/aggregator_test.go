package incomestatement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/store/memory"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func addTx(store *memory.Store, pid int64, date time.Time, amount string, l1, l3 string) {
	store.AddTransaction(books.Transaction{
		PropertyID:     pid,
		Date:           date,
		Amount:         decimal.RequireFromString(amount),
		Classification: &books.Classification{Level1: l1, Level2: l1, Level3: l3},
	})
}

func seedStatement(t *testing.T) (*memory.Store, int64) {
	t.Helper()
	store := memory.New()
	pid := store.AddProperty("T2 Croix-Rousse")
	store.SetScope(pid, books.StatementIncome, "Exploitation")
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Loyers", Kind: books.LineProduits, Level1Filters: []string{"Loyer"}, Active: true})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Loyers", Kind: books.LineProduits, Level1Filters: []string{"Charges locatives"}, Active: true})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Taxe foncière", Kind: books.LineCharges, Level1Filters: []string{"Taxe foncière"}, Active: true})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Assurance PNO", Kind: books.LineCharges, Level1Filters: []string{"Assurance"}, Active: true})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Ancien", Kind: books.LineCharges, Level1Filters: []string{"Loyer"}, Active: false})

	addTx(store, pid, d(2024, 1, 5), "800", "Loyer", "Exploitation")
	addTx(store, pid, d(2024, 2, 5), "800", "Loyer", "Exploitation")
	addTx(store, pid, d(2024, 2, 5), "50", "Charges locatives", "Exploitation")
	addTx(store, pid, d(2024, 10, 15), "-1200", "Taxe foncière", "Exploitation")
	addTx(store, pid, d(2024, 3, 1), "-100", "Assurance", "Exploitation")
	addTx(store, pid, d(2024, 4, 1), "100", "Assurance", "Exploitation")
	addTx(store, pid, d(2024, 5, 1), "-9000", "Taxe foncière", "Patrimoine")
	addTx(store, pid, d(2023, 12, 31), "800", "Loyer", "Exploitation")

	store.AddAmortizationType(books.AmortizationType{PropertyID: pid, Name: "Travaux"})
	for _, year := range []int{2024, 2025} {
		require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
			return tx.InsertAmortizationResults(ctx, []books.AmortizationResult{{PropertyID: pid, TransactionID: 99, Year: year, Category: "Travaux", Amount: decimal.NewFromInt(300)}})
		}))
	}

	loan := store.AddLoan(books.LoanConfig{PropertyID: pid, Name: "Prêt principal", Active: true})
	store.AddLoanPayment(books.LoanPayment{LoanID: loan.ID, PropertyID: pid, Date: d(2024, 1, 10), Capital: decimal.NewFromInt(400), Interest: decimal.NewFromInt(60), Insurance: decimal.NewFromInt(10)})
	store.AddLoanPayment(books.LoanPayment{LoanID: loan.ID, PropertyID: pid, Date: d(2025, 1, 10), Capital: decimal.NewFromInt(400), Interest: decimal.NewFromInt(55), Insurance: decimal.NewFromInt(10)})
	inactive := store.AddLoan(books.LoanConfig{PropertyID: pid, Name: "Ancien prêt", Active: false})
	store.AddLoanPayment(books.LoanPayment{LoanID: inactive.ID, PropertyID: pid, Date: d(2024, 6, 10), Interest: decimal.NewFromInt(999)})
	return store, pid
}

func compute(t *testing.T, store *memory.Store, agg *Aggregator, pid int64, year int) Statement {
	t.Helper()
	var stmt Statement
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		var err error
		stmt, err = agg.Compute(ctx, tx, pid, year)
		return err
	}))
	return stmt
}

func TestComputeStatement(t *testing.T) {
	store, pid := seedStatement(t)
	agg := NewAggregator(Config{}, nil)
	stmt := compute(t, store, agg, pid, 2024)

	require.Equal(t, "1650", stmt.Produits["Loyers"].String())
	require.Equal(t, "1200", stmt.Charges["Taxe foncière"].String())
	_, ok := stmt.Charges["Assurance PNO"]
	require.False(t, ok, "zero sum categories are omitted")
	_, ok = stmt.Charges["Ancien"]
	require.False(t, ok, "inactive mappings are ignored")

	require.Equal(t, "300", stmt.AmortizationTotal.String())
	require.Equal(t, "70", stmt.FinancingCost.String())
	require.Equal(t, "1650", stmt.TotalProduits.String())
	require.Equal(t, "1570", stmt.TotalCharges.String())
	require.Equal(t, "80", stmt.NetResult.String())
}

func TestComputeEmptyScope(t *testing.T) {
	store, pid := seedStatement(t)
	store.SetScope(pid, books.StatementIncome)
	stmt := compute(t, store, NewAggregator(Config{}, nil), pid, 2024)
	require.True(t, stmt.Empty())
	require.True(t, stmt.NetResult.IsZero())
	require.Empty(t, stmt.Produits)
}

func TestComputeRejectsConflictingKinds(t *testing.T) {
	store, pid := seedStatement(t)
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Loyers", Kind: books.LineCharges, Level1Filters: []string{"Divers"}, Active: true})
	err := store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		_, err := NewAggregator(Config{}, nil).Compute(ctx, tx, pid, 2024)
		return err
	})
	if !errors.Is(err, books.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestResolveNetResultPrefersOverride(t *testing.T) {
	store, pid := seedStatement(t)
	agg := NewAggregator(Config{}, nil)
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		net, err := agg.ResolveNetResult(ctx, tx, pid, 2024)
		if err != nil {
			return err
		}
		require.Equal(t, "80", net.String())
		if err := tx.UpsertIncomeStatementOverride(ctx, books.IncomeStatementOverride{PropertyID: pid, Year: 2024, Value: decimal.NewFromInt(-250)}); err != nil {
			return err
		}
		net, err = agg.ResolveNetResult(ctx, tx, pid, 2024)
		if err != nil {
			return err
		}
		require.Equal(t, "-250", net.String())
		return nil
	}))
}

func TestLinesRoundTrip(t *testing.T) {
	store, pid := seedStatement(t)
	agg := NewAggregator(Config{AmortizationCategory: "Amortissements"}, nil)
	stmt := compute(t, store, agg, pid, 2024)
	lines := agg.Lines(stmt)
	require.Len(t, lines, 4)
	require.Equal(t, "Amortissements", lines[2].Category)

	back := FromLines(pid, 2024, lines)
	require.True(t, back.NetResult.Equal(stmt.NetResult))
	require.True(t, back.TotalCharges.Equal(stmt.TotalCharges))

	amounts := agg.Amounts(stmt)
	require.Equal(t, "80", amounts["Résultat net"].String())
}

func TestApplyOverrideReplacesOnlyNetResult(t *testing.T) {
	store, pid := seedStatement(t)
	agg := NewAggregator(Config{}, nil)
	stmt := compute(t, store, agg, pid, 2024)
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		same, err := agg.ApplyOverride(ctx, tx, stmt)
		if err != nil {
			return err
		}
		require.False(t, same.Overridden)
		require.Equal(t, "80", same.NetResult.String())

		if err := tx.UpsertIncomeStatementOverride(ctx, books.IncomeStatementOverride{PropertyID: pid, Year: 2024, Value: decimal.RequireFromString("1200.50")}); err != nil {
			return err
		}
		out, err := agg.ApplyOverride(ctx, tx, stmt)
		if err != nil {
			return err
		}
		require.True(t, out.Overridden)
		require.Equal(t, "1200.5", out.NetResult.String())
		require.Equal(t, "1650", out.TotalProduits.String())
		require.Equal(t, "1570", out.TotalCharges.String())
		require.Equal(t, "1200", out.Charges["Taxe foncière"].String())
		return nil
	}))
}
