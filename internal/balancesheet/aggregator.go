// Package balancesheet aggregates a property ledger into a cumulative balance
// sheet (actif and passif) as of December 31st of a year.
package balancesheet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
)

// Store is the subset of books.Tx the aggregator reads.
type Store interface {
	incomestatement.Store
	ListBalanceSheetMappings(ctx context.Context, propertyID int64) ([]books.BalanceSheetMapping, error)
	LastTransactionBefore(ctx context.Context, propertyID int64, date time.Time) (*books.Transaction, error)
	FirstTransactionDate(ctx context.Context, propertyID int64) (*time.Time, error)
}

// DefaultLoanLiabilityLevel1 is the level1 value of loan disbursement transactions.
const DefaultLoanLiabilityLevel1 = "Emprunt bancaire"

// BalanceTolerance is the largest difference still reported as balanced.
var BalanceTolerance = decimal.New(1, -2)

// Config tunes special source resolution.
type Config struct {
	LoanLiabilityLevel1 string
	// LoanMatchByName narrows the principal of a named loan to liability
	// transactions whose level2 equals the loan name.
	LoanMatchByName bool
}

// Sheet is the balance sheet of one property at the end of a year.
type Sheet struct {
	PropertyID        int64                                                `json:"property_id"`
	Year              int                                                  `json:"year"`
	Sides             map[books.Side]map[string]map[string]decimal.Decimal `json:"sides"`
	GroupTotals       map[books.Side]map[string]decimal.Decimal            `json:"group_totals"`
	ActifTotal        decimal.Decimal                                      `json:"actif_total"`
	PassifTotal       decimal.Decimal                                      `json:"passif_total"`
	Difference        decimal.Decimal                                      `json:"difference"`
	DifferencePercent decimal.Decimal                                      `json:"difference_percent"`
	Balanced          bool                                                 `json:"balanced"`
}

func newSheet(propertyID int64, year int) Sheet {
	return Sheet{
		PropertyID:  propertyID,
		Year:        year,
		Sides:       map[books.Side]map[string]map[string]decimal.Decimal{},
		GroupTotals: map[books.Side]map[string]decimal.Decimal{},
	}
}

func (s *Sheet) add(side books.Side, group, category string, amount decimal.Decimal) {
	groups, ok := s.Sides[side]
	if !ok {
		groups = map[string]map[string]decimal.Decimal{}
		s.Sides[side] = groups
	}
	cats, ok := groups[group]
	if !ok {
		cats = map[string]decimal.Decimal{}
		groups[group] = cats
	}
	cats[category] = cats[category].Add(amount)
}

// Amount returns the value of a category regardless of its group.
func (s Sheet) Amount(side books.Side, category string) decimal.Decimal {
	for _, cats := range s.Sides[side] {
		if v, ok := cats[category]; ok {
			return v
		}
	}
	return decimal.Zero
}

func (s *Sheet) total() {
	s.ActifTotal, s.PassifTotal = decimal.Zero, decimal.Zero
	s.GroupTotals = map[books.Side]map[string]decimal.Decimal{}
	for side, groups := range s.Sides {
		totals := map[string]decimal.Decimal{}
		for group, cats := range groups {
			sum := decimal.Zero
			for _, v := range cats {
				sum = sum.Add(v)
			}
			totals[group] = sum
			switch side {
			case books.SideAsset:
				s.ActifTotal = s.ActifTotal.Add(sum)
			case books.SideLiability:
				s.PassifTotal = s.PassifTotal.Add(sum)
			}
		}
		s.GroupTotals[side] = totals
	}
	s.Difference = s.ActifTotal.Sub(s.PassifTotal)
	s.DifferencePercent = DifferencePercent(s.ActifTotal, s.PassifTotal)
	s.Balanced = s.Difference.Abs().LessThanOrEqual(BalanceTolerance)
}

// DifferencePercent expresses actif - passif relative to passif. A zero passif
// gives 100 when actif is non-zero and 0 otherwise.
func DifferencePercent(actif, passif decimal.Decimal) decimal.Decimal {
	if passif.IsZero() {
		if actif.IsZero() {
			return decimal.Zero
		}
		return decimal.NewFromInt(100)
	}
	return actif.Sub(passif).Div(passif).Mul(decimal.NewFromInt(100)).Round(2)
}

// Aggregator computes balance sheets.
type Aggregator struct {
	cfg      Config
	income   *incomestatement.Aggregator
	handlers map[books.SpecialSource]handler
	logger   *slog.Logger
}

// NewAggregator wires the special source table. It fails when a known source
// has no handler.
func NewAggregator(cfg Config, income *incomestatement.Aggregator, logger *slog.Logger) (*Aggregator, error) {
	cfg.LoanLiabilityLevel1 = strings.TrimSpace(cfg.LoanLiabilityLevel1)
	if cfg.LoanLiabilityLevel1 == "" {
		cfg.LoanLiabilityLevel1 = DefaultLoanLiabilityLevel1
	}
	if income == nil {
		income = incomestatement.NewAggregator(incomestatement.Config{}, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{cfg: cfg, income: income, logger: logger}
	a.handlers = a.specialHandlers()
	for _, src := range books.SpecialSources() {
		if _, ok := a.handlers[src]; !ok {
			return nil, fmt.Errorf("%w: no handler for %s", books.ErrUnknownSpecialSource, src)
		}
	}
	return a, nil
}

// Compute builds the sheet of propertyID as of December 31st of year.
func (a *Aggregator) Compute(ctx context.Context, store Store, propertyID int64, year int) (Sheet, error) {
	sheet := newSheet(propertyID, year)
	mappings, err := store.ListBalanceSheetMappings(ctx, propertyID)
	if err != nil {
		return Sheet{}, fmt.Errorf("balancesheet: list mappings: %w", err)
	}
	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return Sheet{}, err
		}
	}
	scope, err := store.GetStatementScope(ctx, propertyID, books.StatementBalance)
	if err != nil {
		return Sheet{}, fmt.Errorf("balancesheet: load scope: %w", err)
	}

	in := &computeInput{store: store, propertyID: propertyID, year: year}
	for _, m := range mappings {
		var amount decimal.Decimal
		if m.IsSpecial {
			h, ok := a.handlers[m.SpecialSource]
			if !ok {
				return Sheet{}, fmt.Errorf("%w: %s", books.ErrUnknownSpecialSource, m.SpecialSource)
			}
			amount, err = h(ctx, in)
			if err != nil {
				return Sheet{}, fmt.Errorf("balancesheet: %s: %w", m.SpecialSource, err)
			}
		} else {
			txs, err := in.transactions(ctx)
			if err != nil {
				return Sheet{}, err
			}
			amount = normalAmount(txs, scope, m.Level1Filters)
		}
		sheet.add(m.Side, m.Group, m.CategoryName, amount)
	}
	sheet.total()
	if !sheet.Balanced {
		a.logger.InfoContext(ctx, "balance sheet not balanced",
			slog.Int64("property_id", propertyID),
			slog.Int("year", year),
			slog.String("difference", sheet.Difference.String()))
	}
	return sheet, nil
}

// normalAmount sums cumulative transactions in scope whose level1 is in
// filters. Negative sums are floored at zero.
func normalAmount(txs []books.Transaction, scope books.StatementScope, filters []string) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range txs {
		if !scope.Contains(tx.Level3()) || !books.ContainsFold(filters, tx.Level1()) {
			continue
		}
		sum = sum.Add(tx.Amount)
	}
	if sum.IsNegative() {
		return decimal.Zero
	}
	return sum
}

// Lines flattens the sheet into cache rows ordered by side, group, category.
func Lines(s Sheet) []books.BalanceSheetLine {
	var lines []books.BalanceSheetLine
	for _, side := range []books.Side{books.SideAsset, books.SideLiability} {
		groups := s.Sides[side]
		for _, group := range sortedKeys(groups) {
			cats := groups[group]
			names := make([]string, 0, len(cats))
			for name := range cats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				lines = append(lines, books.BalanceSheetLine{PropertyID: s.PropertyID, Year: s.Year, Side: side, Group: group, Category: name, Amount: cats[name]})
			}
		}
	}
	return lines
}

// FromLines rebuilds a sheet and its totals from cached rows.
func FromLines(propertyID int64, year int, lines []books.BalanceSheetLine) Sheet {
	sheet := newSheet(propertyID, year)
	for _, l := range lines {
		sheet.add(l.Side, l.Group, l.Category, l.Amount)
	}
	sheet.total()
	return sheet
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
