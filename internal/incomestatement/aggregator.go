// Package incomestatement aggregates a property ledger into a yearly income
// statement (produits, charges and net result).
package incomestatement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/amortization"
	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// Store is the subset of books.Tx the aggregator reads.
type Store interface {
	amortization.ResultReader
	GetStatementScope(ctx context.Context, propertyID int64, kind books.StatementKind) (books.StatementScope, error)
	ListIncomeStatementMappings(ctx context.Context, propertyID int64) ([]books.IncomeStatementMapping, error)
	ListTransactions(ctx context.Context, filter books.TransactionFilter) ([]books.Transaction, error)
	ListLoanConfigs(ctx context.Context, propertyID int64) ([]books.LoanConfig, error)
	ListLoanPayments(ctx context.Context, filter books.LoanPaymentFilter) ([]books.LoanPayment, error)
	GetIncomeStatementOverride(ctx context.Context, propertyID int64, year int) (*books.IncomeStatementOverride, error)
}

// Config names the computed lines.
type Config struct {
	AmortizationCategory string
	FinancingCategory    string
	NetResultCategory    string
}

// DefaultConfig returns the labels used when none are configured.
func DefaultConfig() Config {
	return Config{
		AmortizationCategory: "Dotations aux amortissements",
		FinancingCategory:    "Frais financiers",
		NetResultCategory:    "Résultat net",
	}
}

// CalculatedCategories lists the labels that never come from mappings.
func (c Config) CalculatedCategories() []string {
	return []string{c.AmortizationCategory, c.FinancingCategory, c.NetResultCategory}
}

// Statement is the income statement of one property and year.
type Statement struct {
	PropertyID        int64                      `json:"property_id"`
	Year              int                        `json:"year"`
	Produits          map[string]decimal.Decimal `json:"produits"`
	Charges           map[string]decimal.Decimal `json:"charges"`
	AmortizationTotal decimal.Decimal            `json:"amortization_total"`
	FinancingCost     decimal.Decimal            `json:"financing_cost"`
	TotalProduits     decimal.Decimal            `json:"total_produits"`
	TotalCharges      decimal.Decimal            `json:"total_charges"`
	NetResult         decimal.Decimal            `json:"net_result"`
	Overridden        bool                       `json:"overridden"`
}

func emptyStatement(propertyID int64, year int) Statement {
	return Statement{
		PropertyID: propertyID,
		Year:       year,
		Produits:   map[string]decimal.Decimal{},
		Charges:    map[string]decimal.Decimal{},
	}
}

// Empty reports whether the statement carries no amount at all.
func (s Statement) Empty() bool {
	return len(s.Produits) == 0 && len(s.Charges) == 0 && s.AmortizationTotal.IsZero() && s.FinancingCost.IsZero()
}

func (s *Statement) total() {
	s.TotalProduits = sumValues(s.Produits)
	s.TotalCharges = sumValues(s.Charges).Add(s.AmortizationTotal).Add(s.FinancingCost)
	s.NetResult = s.TotalProduits.Sub(s.TotalCharges)
}

// Aggregator computes income statements.
type Aggregator struct {
	cfg    Config
	logger *slog.Logger
}

// NewAggregator constructs an Aggregator. Empty labels fall back to the defaults.
func NewAggregator(cfg Config, logger *slog.Logger) *Aggregator {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.AmortizationCategory) == "" {
		cfg.AmortizationCategory = def.AmortizationCategory
	}
	if strings.TrimSpace(cfg.FinancingCategory) == "" {
		cfg.FinancingCategory = def.FinancingCategory
	}
	if strings.TrimSpace(cfg.NetResultCategory) == "" {
		cfg.NetResultCategory = def.NetResultCategory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

// Config exposes the resolved labels.
func (a *Aggregator) Config() Config {
	return a.cfg
}

type category struct {
	name    string
	kind    books.LineKind
	filters []string
}

// groupMappings merges active mappings sharing a category name into one line
// whose level1 filters are the union of theirs.
func groupMappings(mappings []books.IncomeStatementMapping) ([]category, error) {
	index := make(map[string]int)
	var out []category
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		name := strings.TrimSpace(m.CategoryName)
		pos, ok := index[name]
		if !ok {
			index[name] = len(out)
			out = append(out, category{name: name, kind: m.Kind, filters: append([]string(nil), m.Level1Filters...)})
			continue
		}
		if out[pos].kind != m.Kind {
			return nil, fmt.Errorf("%w: category %s is both %s and %s", books.ErrInvalidConfiguration, name, out[pos].kind, m.Kind)
		}
		out[pos].filters = append(out[pos].filters, m.Level1Filters...)
	}
	return out, nil
}

// Compute builds the statement of propertyID for year. An empty level3 scope
// yields an empty statement.
func (a *Aggregator) Compute(ctx context.Context, store Store, propertyID int64, year int) (Statement, error) {
	stmt := emptyStatement(propertyID, year)
	scope, err := store.GetStatementScope(ctx, propertyID, books.StatementIncome)
	if err != nil {
		return Statement{}, fmt.Errorf("incomestatement: load scope: %w", err)
	}
	if scope.Empty() {
		a.logger.DebugContext(ctx, "income statement scope empty", slog.Int64("property_id", propertyID), slog.Int("year", year))
		return stmt, nil
	}
	mappings, err := store.ListIncomeStatementMappings(ctx, propertyID)
	if err != nil {
		return Statement{}, fmt.Errorf("incomestatement: list mappings: %w", err)
	}
	categories, err := groupMappings(mappings)
	if err != nil {
		return Statement{}, err
	}

	from, to := books.YearStart(year), books.YearEnd(year)
	txs, err := store.ListTransactions(ctx, books.TransactionFilter{PropertyID: propertyID, From: &from, To: &to, ClassifiedOnly: true})
	if err != nil {
		return Statement{}, fmt.Errorf("incomestatement: list transactions: %w", err)
	}
	sums := make([]decimal.Decimal, len(categories))
	for _, tx := range txs {
		if !scope.Contains(tx.Level3()) {
			continue
		}
		for i, c := range categories {
			if books.ContainsFold(c.filters, tx.Level1()) {
				sums[i] = sums[i].Add(tx.Amount)
			}
		}
	}
	for i, c := range categories {
		if sums[i].IsZero() {
			continue
		}
		switch c.kind {
		case books.LineProduits:
			stmt.Produits[c.name] = sums[i]
		case books.LineCharges:
			stmt.Charges[c.name] = sums[i].Neg()
		}
	}

	stmt.AmortizationTotal, err = amortization.YearTotal(ctx, store, propertyID, year)
	if err != nil {
		return Statement{}, fmt.Errorf("incomestatement: amortization: %w", err)
	}
	stmt.FinancingCost, err = FinancingCost(ctx, store, propertyID, year)
	if err != nil {
		return Statement{}, err
	}
	stmt.total()
	return stmt, nil
}

// FinancingCost sums interest and insurance paid during year on active loans.
func FinancingCost(ctx context.Context, store Store, propertyID int64, year int) (decimal.Decimal, error) {
	loans, err := store.ListLoanConfigs(ctx, propertyID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("incomestatement: list loans: %w", err)
	}
	from, to := books.YearStart(year), books.YearEnd(year)
	total := decimal.Zero
	for _, loan := range loans {
		if !loan.Active {
			continue
		}
		payments, err := store.ListLoanPayments(ctx, books.LoanPaymentFilter{PropertyID: propertyID, LoanID: loan.ID, From: &from, To: &to})
		if err != nil {
			return decimal.Zero, fmt.Errorf("incomestatement: list payments: %w", err)
		}
		for _, p := range payments {
			total = total.Add(p.FinancingCost())
		}
	}
	return total, nil
}

// ResolveNetResult returns the override for the year when one exists and the
// computed net result otherwise.
func (a *Aggregator) ResolveNetResult(ctx context.Context, store Store, propertyID int64, year int) (decimal.Decimal, error) {
	override, err := store.GetIncomeStatementOverride(ctx, propertyID, year)
	if err != nil {
		return decimal.Zero, fmt.Errorf("incomestatement: load override: %w", err)
	}
	if override != nil {
		return override.Value, nil
	}
	stmt, err := a.Compute(ctx, store, propertyID, year)
	if err != nil {
		return decimal.Zero, err
	}
	return stmt.NetResult, nil
}

// ApplyOverride replaces the net result of stmt with the override stored for
// its year. Produits and charges are left untouched.
func (a *Aggregator) ApplyOverride(ctx context.Context, store Store, stmt Statement) (Statement, error) {
	override, err := store.GetIncomeStatementOverride(ctx, stmt.PropertyID, stmt.Year)
	if err != nil {
		return Statement{}, fmt.Errorf("incomestatement: load override: %w", err)
	}
	if override != nil {
		stmt.NetResult = override.Value
		stmt.Overridden = true
	}
	return stmt, nil
}

// Lines flattens the statement into cache rows, computed lines included.
func (a *Aggregator) Lines(s Statement) []books.IncomeStatementLine {
	lines := make([]books.IncomeStatementLine, 0, len(s.Produits)+len(s.Charges)+2)
	for _, name := range sortedKeys(s.Produits) {
		lines = append(lines, books.IncomeStatementLine{PropertyID: s.PropertyID, Year: s.Year, Category: name, Kind: books.LineProduits, Amount: s.Produits[name]})
	}
	for _, name := range sortedKeys(s.Charges) {
		lines = append(lines, books.IncomeStatementLine{PropertyID: s.PropertyID, Year: s.Year, Category: name, Kind: books.LineCharges, Amount: s.Charges[name]})
	}
	if !s.AmortizationTotal.IsZero() {
		lines = append(lines, books.IncomeStatementLine{PropertyID: s.PropertyID, Year: s.Year, Category: a.cfg.AmortizationCategory, Kind: books.LineAmortization, Amount: s.AmortizationTotal})
	}
	if !s.FinancingCost.IsZero() {
		lines = append(lines, books.IncomeStatementLine{PropertyID: s.PropertyID, Year: s.Year, Category: a.cfg.FinancingCategory, Kind: books.LineFinancing, Amount: s.FinancingCost})
	}
	return lines
}

// FromLines rebuilds a statement from cached rows.
func FromLines(propertyID int64, year int, lines []books.IncomeStatementLine) Statement {
	stmt := emptyStatement(propertyID, year)
	for _, l := range lines {
		switch l.Kind {
		case books.LineProduits:
			stmt.Produits[l.Category] = l.Amount
		case books.LineCharges:
			stmt.Charges[l.Category] = l.Amount
		case books.LineAmortization:
			stmt.AmortizationTotal = stmt.AmortizationTotal.Add(l.Amount)
		case books.LineFinancing:
			stmt.FinancingCost = stmt.FinancingCost.Add(l.Amount)
		}
	}
	stmt.total()
	return stmt
}

// Amounts flattens every line of the statement, computed lines included, into
// a category keyed map.
func (a *Aggregator) Amounts(s Statement) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.Produits)+len(s.Charges)+3)
	for k, v := range s.Produits {
		out[k] = v
	}
	for k, v := range s.Charges {
		out[k] = v
	}
	out[a.cfg.AmortizationCategory] = s.AmortizationTotal
	out[a.cfg.FinancingCategory] = s.FinancingCost
	out[a.cfg.NetResultCategory] = s.NetResult
	return out
}

func sumValues(m map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range m {
		total = total.Add(v)
	}
	return total
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
