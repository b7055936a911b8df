package balancesheet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
	"github.com/odyssey-erp/rentalbooks/internal/store/memory"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func seedSheet(t *testing.T) (*memory.Store, int64) {
	t.Helper()
	store := memory.New()
	pid := store.AddProperty("Maison Annecy")
	store.SetScope(pid, books.StatementBalance, "Bilan")
	store.SetScope(pid, books.StatementIncome, "Exploitation")
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Loyers", Kind: books.LineProduits, Level1Filters: []string{"Loyer"}, Active: true})

	rows := []struct {
		date       time.Time
		amount, rb string
		l1, l2, l3 string
	}{
		{d(2023, 3, 1), "100000", "100000", "Emprunt bancaire", "Prêt principal", "Bilan"},
		{d(2023, 3, 2), "-90000", "10000", "Immobilisations", "Achat", "Bilan"},
		{d(2023, 6, 1), "1000", "11000", "Loyer", "Loyer", "Exploitation"},
		{d(2024, 2, 1), "-120", "10880", "Caution", "Caution", "Bilan"},
		{d(2024, 5, 1), "500", "11380", "Apport", "Apport", "Bilan"},
		{d(2025, 1, 10), "50", "11430", "Apport", "Apport", "Bilan"},
	}
	for _, r := range rows {
		store.AddTransaction(books.Transaction{
			PropertyID:     pid,
			Date:           r.date,
			Amount:         dec(r.amount),
			RunningBalance: dec(r.rb),
			Classification: &books.Classification{Level1: r.l1, Level2: r.l2, Level3: r.l3},
		})
	}
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		var results []books.AmortizationResult
		for _, y := range []int{2023, 2024, 2025} {
			results = append(results, books.AmortizationResult{PropertyID: pid, TransactionID: 2, Year: y, Category: "Travaux", Amount: dec("1000")})
		}
		return tx.InsertAmortizationResults(ctx, results)
	}))

	loan := store.AddLoan(books.LoanConfig{PropertyID: pid, Name: "Prêt principal", CreditAmount: dec("120000"), Active: true})
	store.AddLoanPayment(books.LoanPayment{LoanID: loan.ID, PropertyID: pid, Date: d(2023, 12, 5), Capital: dec("2000"), Interest: dec("100")})
	store.AddLoanPayment(books.LoanPayment{LoanID: loan.ID, PropertyID: pid, Date: d(2024, 6, 5), Capital: dec("2000")})
	store.AddLoanPayment(books.LoanPayment{LoanID: loan.ID, PropertyID: pid, Date: d(2025, 1, 5), Capital: dec("2000")})

	for _, m := range []books.BalanceSheetMapping{
		{CategoryName: "Apport personnel", Side: books.SideAsset, Group: "Immobilisations", Level1Filters: []string{"Apport"}},
		{CategoryName: "Amortissements cumulés", Side: books.SideAsset, Group: "Immobilisations", IsSpecial: true, SpecialSource: books.SourceAmortizationCumulative},
		{CategoryName: "Banque", Side: books.SideAsset, Group: "Trésorerie", IsSpecial: true, SpecialSource: books.SourceBankBalance},
		{CategoryName: "Caution", Side: books.SideLiability, Group: "Dettes", Level1Filters: []string{"Caution"}},
		{CategoryName: "Emprunt", Side: books.SideLiability, Group: "Dettes", IsSpecial: true, SpecialSource: books.SourceLoanPrincipalOutstanding},
		{CategoryName: "Résultat", Side: books.SideLiability, Group: "Capitaux", IsSpecial: true, SpecialSource: books.SourceIncomeStatementResult},
		{CategoryName: "Report à nouveau", Side: books.SideLiability, Group: "Capitaux", IsSpecial: true, SpecialSource: books.SourceIncomeStatementCarryforward},
	} {
		m.PropertyID = pid
		store.AddBalanceSheetMapping(m)
	}
	return store, pid
}

func newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(Config{}, incomestatement.NewAggregator(incomestatement.Config{}, nil), nil)
	require.NoError(t, err)
	return agg
}

func computeSheet(t *testing.T, store *memory.Store, agg *Aggregator, pid int64, year int) Sheet {
	t.Helper()
	var sheet Sheet
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		var err error
		sheet, err = agg.Compute(ctx, tx, pid, year)
		return err
	}))
	return sheet
}

func TestComputeSheet(t *testing.T) {
	store, pid := seedSheet(t)
	sheet := computeSheet(t, store, newAggregator(t), pid, 2024)

	require.Equal(t, "500", sheet.Amount(books.SideAsset, "Apport personnel").String())
	require.Equal(t, "-2000", sheet.Amount(books.SideAsset, "Amortissements cumulés").String())
	require.Equal(t, "11380", sheet.Amount(books.SideAsset, "Banque").String())
	require.True(t, sheet.Amount(books.SideLiability, "Caution").IsZero(), "negative liability floors at zero")
	_, present := sheet.Sides[books.SideLiability]["Dettes"]["Caution"]
	require.True(t, present, "zero categories stay on the sheet")
	require.Equal(t, "96000", sheet.Amount(books.SideLiability, "Emprunt").String())
	require.Equal(t, "-1000", sheet.Amount(books.SideLiability, "Résultat").String())
	require.Equal(t, "-100", sheet.Amount(books.SideLiability, "Report à nouveau").String())

	require.Equal(t, "9880", sheet.ActifTotal.String())
	require.Equal(t, "94900", sheet.PassifTotal.String())
	require.True(t, sheet.Difference.Equal(sheet.ActifTotal.Sub(sheet.PassifTotal)))
	require.Equal(t, "-89.59", sheet.DifferencePercent.String())
	require.False(t, sheet.Balanced)
	require.Equal(t, "-1500", sheet.GroupTotals[books.SideAsset]["Immobilisations"].String())
	require.Equal(t, "11380", sheet.GroupTotals[books.SideAsset]["Trésorerie"].String())
}

func TestCarryforwardUsesOverrides(t *testing.T) {
	store, pid := seedSheet(t)
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		return tx.UpsertIncomeStatementOverride(ctx, books.IncomeStatementOverride{PropertyID: pid, Year: 2023, Value: dec("500")})
	}))
	sheet := computeSheet(t, store, newAggregator(t), pid, 2024)
	require.Equal(t, "500", sheet.Amount(books.SideLiability, "Report à nouveau").String())
	// The sheet year itself is reported by the result line only.
	require.Equal(t, "-1000", sheet.Amount(books.SideLiability, "Résultat").String())
}

func TestComputeRejectsUnknownSource(t *testing.T) {
	store, pid := seedSheet(t)
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Mystère", Side: books.SideAsset, Group: "X", IsSpecial: true, SpecialSource: "vat_balance"})
	err := store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		_, err := newAggregator(t).Compute(ctx, tx, pid, 2024)
		return err
	})
	if !errors.Is(err, books.ErrUnknownSpecialSource) {
		t.Fatalf("expected unknown special source, got %v", err)
	}
	if !errors.Is(err, books.ErrInvalidConfiguration) {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestDifferencePercent(t *testing.T) {
	require.Equal(t, "0", DifferencePercent(decimal.Zero, decimal.Zero).String())
	require.Equal(t, "100", DifferencePercent(dec("10"), decimal.Zero).String())
	require.Equal(t, "25", DifferencePercent(dec("125"), dec("100")).String())
}

func TestLinesRoundTrip(t *testing.T) {
	store, pid := seedSheet(t)
	sheet := computeSheet(t, store, newAggregator(t), pid, 2024)
	lines := Lines(sheet)
	require.Len(t, lines, 7)
	require.Equal(t, books.SideAsset, lines[0].Side)

	back := FromLines(pid, 2024, lines)
	require.True(t, back.Difference.Equal(sheet.Difference))
	require.True(t, back.PassifTotal.Equal(sheet.PassifTotal))
}

func TestEmptyLedger(t *testing.T) {
	store := memory.New()
	pid := store.AddProperty("Vide")
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Banque", Side: books.SideAsset, Group: "Trésorerie", IsSpecial: true, SpecialSource: books.SourceBankBalance})
	sheet := computeSheet(t, store, newAggregator(t), pid, 2024)
	require.True(t, sheet.ActifTotal.IsZero())
	require.True(t, sheet.Balanced)
}

func loanSheet(t *testing.T, cfg Config, level2 string, withDisbursement bool) Sheet {
	t.Helper()
	store := memory.New()
	pid := store.AddProperty("Duplex Vieux-Lyon")
	store.SetScope(pid, books.StatementBalance, "Bilan")
	if withDisbursement {
		store.AddTransaction(books.Transaction{
			PropertyID:     pid,
			Date:           d(2024, 2, 1),
			Amount:         dec("150000"),
			RunningBalance: dec("150000"),
			Classification: &books.Classification{Level1: "Emprunt bancaire", Level2: level2, Level3: "Bilan"},
		})
	}
	loan := store.AddLoan(books.LoanConfig{PropertyID: pid, Name: "Prêt immobilier", CreditAmount: dec("150000"), Active: true})
	store.AddLoanPayment(books.LoanPayment{LoanID: loan.ID, PropertyID: pid, Date: d(2024, 3, 5), Capital: dec("500")})
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Emprunt", Side: books.SideLiability, Group: "Dettes", IsSpecial: true, SpecialSource: books.SourceLoanPrincipalOutstanding})

	agg, err := NewAggregator(cfg, nil, nil)
	require.NoError(t, err)
	return computeSheet(t, store, agg, pid, 2024)
}

func TestLoanPrincipalIgnoresLevel2ByDefault(t *testing.T) {
	sheet := loanSheet(t, Config{}, "Crédit principal", true)
	require.Equal(t, "149500", sheet.Amount(books.SideLiability, "Emprunt").String())
}

func TestLoanPrincipalMatchByName(t *testing.T) {
	sheet := loanSheet(t, Config{LoanMatchByName: true}, "Crédit principal", true)
	require.True(t, sheet.Amount(books.SideLiability, "Emprunt").IsZero())

	sheet = loanSheet(t, Config{LoanMatchByName: true}, "Prêt immobilier", true)
	require.Equal(t, "149500", sheet.Amount(books.SideLiability, "Emprunt").String())
}

func TestLoanPrincipalWithoutTransactionsIsZero(t *testing.T) {
	sheet := loanSheet(t, Config{}, "", false)
	require.True(t, sheet.Amount(books.SideLiability, "Emprunt").IsZero(), "credit amount is never used as a fallback")
}
