package books

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Property owns a ledger and every derived statement.
type Property struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Classification is the derived three level taxonomy of a transaction.
type Classification struct {
	Level1 string `json:"level1"`
	Level2 string `json:"level2"`
	Level3 string `json:"level3"`
}

// Transaction is a single signed ledger movement.
type Transaction struct {
	ID             int64
	PropertyID     int64
	Date           time.Time
	Amount         decimal.Decimal
	Description    string
	RunningBalance decimal.Decimal
	Classification *Classification
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Level1 returns the first taxonomy level or an empty string when unclassified.
func (t Transaction) Level1() string {
	if t.Classification == nil {
		return ""
	}
	return t.Classification.Level1
}

// Level2 returns the second taxonomy level or an empty string when unclassified.
func (t Transaction) Level2() string {
	if t.Classification == nil {
		return ""
	}
	return t.Classification.Level2
}

// Level3 returns the third taxonomy level or an empty string when unclassified.
func (t Transaction) Level3() string {
	if t.Classification == nil {
		return ""
	}
	return t.Classification.Level3
}

// Before reports whether t sorts before other in ledger order (date, id).
func (t Transaction) Before(other Transaction) bool {
	if !t.Date.Equal(other.Date) {
		return t.Date.Before(other.Date)
	}
	return t.ID < other.ID
}

// BalanceUpdate carries a recomputed running balance.
type BalanceUpdate struct {
	TransactionID  int64
	RunningBalance decimal.Decimal
}

// MatchMode enumerates how a mapping pattern is compared to a description.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchPrefix   MatchMode = "prefix"
	MatchRegex    MatchMode = "regex"
)

// CategoryMapping resolves descriptions into a classification.
type CategoryMapping struct {
	ID         int64
	PropertyID int64
	Pattern    string
	Level1     string
	Level2     string
	Level3     string
	MatchMode  MatchMode
	Priority   int
	Active     bool
}

// Classification returns the taxonomy carried by the mapping.
func (m CategoryMapping) Classification() *Classification {
	return &Classification{Level1: m.Level1, Level2: m.Level2, Level3: m.Level3}
}

// Classifier resolves a description against the property mapping set. A nil
// result means the description is unclassified.
type Classifier interface {
	Classify(description string, mappings []CategoryMapping) *Classification
}

// AmortizationType describes a class of depreciable transactions.
type AmortizationType struct {
	ID                   int64
	PropertyID           int64
	Name                 string
	Level2Filter         string
	Level1Filters        []string
	StartDateOverride    *time.Time
	DurationYears        float64
	AnnualAmountOverride decimal.Decimal
}

// MaxAmortizationYears bounds the duration of an amortization type.
const MaxAmortizationYears = 100

// Validate rejects durations a schedule cannot be built from. A zero
// duration is valid and yields no rows.
func (t AmortizationType) Validate() error {
	d := t.DurationYears
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 || d > MaxAmortizationYears {
		return fmt.Errorf("%w: amortization type %q duration %v outside [0, %d] years", ErrInvalidConfiguration, t.Name, d, MaxAmortizationYears)
	}
	return nil
}

// Matches reports whether the classification selects this type.
func (t AmortizationType) Matches(c *Classification) bool {
	if c == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(c.Level2), strings.TrimSpace(t.Level2Filter)) {
		return false
	}
	return ContainsFold(t.Level1Filters, c.Level1)
}

// AmortizationResult is one (transaction, year) row of a depreciation schedule.
type AmortizationResult struct {
	ID            int64
	TransactionID int64
	PropertyID    int64
	TypeID        int64
	Year          int
	Category      string
	Amount        decimal.Decimal
}

// StatementKind identifies a derived statement.
type StatementKind string

const (
	StatementIncome  StatementKind = "income_statement"
	StatementBalance StatementKind = "balance_sheet"
)

// StatementScope lists the level3 values a statement considers.
type StatementScope struct {
	PropertyID int64
	Statement  StatementKind
	Level3     []string
}

// Contains reports whether level3 is inside the scope.
func (s StatementScope) Contains(level3 string) bool {
	return ContainsFold(s.Level3, level3)
}

// Empty reports whether the scope selects nothing.
func (s StatementScope) Empty() bool {
	return len(s.Level3) == 0
}

// LineKind tags an income statement line.
type LineKind string

const (
	LineProduits     LineKind = "produits"
	LineCharges      LineKind = "charges"
	LineAmortization LineKind = "amortization"
	LineFinancing    LineKind = "financing"
)

// IncomeStatementMapping groups level1 values into a named statement line.
type IncomeStatementMapping struct {
	ID            int64
	PropertyID    int64
	CategoryName  string
	Kind          LineKind
	Level1Filters []string
	Active        bool
}

// IncomeStatementLine is a cached derived amount per (year, category).
type IncomeStatementLine struct {
	PropertyID int64
	Year       int
	Category   string
	Kind       LineKind
	Amount     decimal.Decimal
}

// IncomeStatementOverride replaces the computed net result of a year.
type IncomeStatementOverride struct {
	PropertyID int64
	Year       int
	Value      decimal.Decimal
	UpdatedAt  time.Time
}

// Side of the balance sheet.
type Side string

const (
	SideAsset     Side = "ASSET"
	SideLiability Side = "LIABILITY"
)

// Valid reports whether the side is known.
func (s Side) Valid() bool {
	return s == SideAsset || s == SideLiability
}

// BalanceSheetMapping defines one balance sheet category.
type BalanceSheetMapping struct {
	ID            int64
	PropertyID    int64
	CategoryName  string
	Side          Side
	Group         string
	Level1Filters []string
	IsSpecial     bool
	SpecialSource SpecialSource
}

// BalanceSheetLine is a cached derived amount per (year, category).
type BalanceSheetLine struct {
	PropertyID int64
	Year       int
	Side       Side
	Group      string
	Category   string
	Amount     decimal.Decimal
}

// LoanConfig describes an amortizing loan.
type LoanConfig struct {
	ID             int64
	PropertyID     int64
	Name           string
	CreditAmount   decimal.Decimal
	Rate           decimal.Decimal
	DurationMonths int
	StartDate      time.Time
	Active         bool
}

// LoanPayment is a realized monthly installment.
type LoanPayment struct {
	ID         int64
	LoanID     int64
	PropertyID int64
	Date       time.Time
	Total      decimal.Decimal
	Capital    decimal.Decimal
	Interest   decimal.Decimal
	Insurance  decimal.Decimal
}

// FinancingCost is the part of the installment booked as an expense.
func (p LoanPayment) FinancingCost() decimal.Decimal {
	return p.Interest.Add(p.Insurance)
}

// ProRataSetting toggles the forecast overlay for a property.
type ProRataSetting struct {
	PropertyID int64
	Enabled    bool
}

// PlannedAmount is a forecast value for a statement category.
type PlannedAmount struct {
	ID         int64
	PropertyID int64
	Kind       StatementKind
	Category   string
	Year       int
	Amount     decimal.Decimal
	GrowthRate float64
}

// YearStart returns January 1st of year in UTC.
func YearStart(year int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// YearEnd returns December 31st of year in UTC.
func YearEnd(year int) time.Time {
	return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// ContainsFold reports whether needle is in values, ignoring case and padding.
func ContainsFold(values []string, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), needle) {
			return true
		}
	}
	return false
}
