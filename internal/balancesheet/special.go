package balancesheet

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

type handler func(ctx context.Context, in *computeInput) (decimal.Decimal, error)

// computeInput carries the request being computed and lazily loads the
// cumulative ledger up to December 31st.
type computeInput struct {
	store      Store
	propertyID int64
	year       int
	txs        []books.Transaction
	loaded     bool
}

func (in *computeInput) transactions(ctx context.Context) ([]books.Transaction, error) {
	if in.loaded {
		return in.txs, nil
	}
	to := books.YearEnd(in.year)
	txs, err := in.store.ListTransactions(ctx, books.TransactionFilter{PropertyID: in.propertyID, To: &to, ClassifiedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("balancesheet: list transactions: %w", err)
	}
	in.txs, in.loaded = txs, true
	return txs, nil
}

func (a *Aggregator) specialHandlers() map[books.SpecialSource]handler {
	return map[books.SpecialSource]handler{
		books.SourceAmortizationCumulative:      a.amortizationCumulative,
		books.SourceBankBalance:                 a.bankBalance,
		books.SourceIncomeStatementResult:       a.incomeResult,
		books.SourceIncomeStatementCarryforward: a.carryforward,
		books.SourceLoanPrincipalOutstanding:    a.loanPrincipal,
	}
}

// amortizationCumulative reports accumulated depreciation as a negative asset.
func (a *Aggregator) amortizationCumulative(ctx context.Context, in *computeInput) (decimal.Decimal, error) {
	rows, err := in.store.ListAmortizationResults(ctx, books.AmortizationFilter{PropertyID: in.propertyID, MaxYear: in.year})
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		if r.Year <= in.year {
			total = total.Add(r.Amount)
		}
	}
	return total.Neg(), nil
}

func (a *Aggregator) bankBalance(ctx context.Context, in *computeInput) (decimal.Decimal, error) {
	last, err := in.store.LastTransactionBefore(ctx, in.propertyID, books.YearStart(in.year+1))
	if err != nil {
		return decimal.Zero, err
	}
	if last == nil {
		return decimal.Zero, nil
	}
	return last.RunningBalance, nil
}

func (a *Aggregator) incomeResult(ctx context.Context, in *computeInput) (decimal.Decimal, error) {
	return a.income.ResolveNetResult(ctx, in.store, in.propertyID, in.year)
}

// carryforward sums the resolved net result of every year before the sheet
// year, starting at the first ledger year.
func (a *Aggregator) carryforward(ctx context.Context, in *computeInput) (decimal.Decimal, error) {
	first, err := in.store.FirstTransactionDate(ctx, in.propertyID)
	if err != nil {
		return decimal.Zero, err
	}
	if first == nil {
		return decimal.Zero, nil
	}
	total := decimal.Zero
	for year := first.Year(); year < in.year; year++ {
		net, err := a.income.ResolveNetResult(ctx, in.store, in.propertyID, year)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(net)
	}
	return total, nil
}

// loanPrincipal is, per active loan, the principal received through loan
// liability transactions minus the capital repaid, floored at zero. The
// configured credit amount is never used.
func (a *Aggregator) loanPrincipal(ctx context.Context, in *computeInput) (decimal.Decimal, error) {
	loans, err := in.store.ListLoanConfigs(ctx, in.propertyID)
	if err != nil {
		return decimal.Zero, err
	}
	txs, err := in.transactions(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	to := books.YearEnd(in.year)
	total := decimal.Zero
	for _, loan := range loans {
		if !loan.Active {
			continue
		}
		granted := decimal.Zero
		for _, tx := range txs {
			if !strings.EqualFold(strings.TrimSpace(tx.Level1()), a.cfg.LoanLiabilityLevel1) {
				continue
			}
			if a.cfg.LoanMatchByName && loan.Name != "" && !strings.EqualFold(strings.TrimSpace(tx.Level2()), strings.TrimSpace(loan.Name)) {
				continue
			}
			granted = granted.Add(tx.Amount)
		}
		payments, err := in.store.ListLoanPayments(ctx, books.LoanPaymentFilter{PropertyID: in.propertyID, LoanID: loan.ID, To: &to})
		if err != nil {
			return decimal.Zero, err
		}
		repaid := decimal.Zero
		for _, p := range payments {
			repaid = repaid.Add(p.Capital)
		}
		outstanding := granted.Sub(repaid)
		if outstanding.IsPositive() {
			total = total.Add(outstanding)
		}
	}
	return total, nil
}
