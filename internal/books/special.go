package books

import (
	"fmt"
	"strings"
)

// SpecialSource names a balance sheet category whose amount is pulled from
// another subsystem instead of aggregated from transactions.
type SpecialSource string

const (
	SourceAmortizationCumulative      SpecialSource = "amortization_cumulative"
	SourceBankBalance                 SpecialSource = "bank_balance"
	SourceIncomeStatementResult       SpecialSource = "income_statement_result"
	SourceIncomeStatementCarryforward SpecialSource = "income_statement_carryforward"
	SourceLoanPrincipalOutstanding    SpecialSource = "loan_principal_outstanding"
)

// SpecialSources lists every supported source in presentation order.
func SpecialSources() []SpecialSource {
	return []SpecialSource{
		SourceAmortizationCumulative,
		SourceBankBalance,
		SourceIncomeStatementResult,
		SourceIncomeStatementCarryforward,
		SourceLoanPrincipalOutstanding,
	}
}

// Valid reports whether the source is one of the closed set.
func (s SpecialSource) Valid() bool {
	for _, known := range SpecialSources() {
		if s == known {
			return true
		}
	}
	return false
}

// ParseSpecialSource converts raw configuration into a SpecialSource.
func ParseSpecialSource(raw string) (SpecialSource, error) {
	src := SpecialSource(strings.ToLower(strings.TrimSpace(raw)))
	if !src.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownSpecialSource, raw)
	}
	return src, nil
}

// Validate rejects malformed balance sheet mappings.
func (m BalanceSheetMapping) Validate() error {
	if strings.TrimSpace(m.CategoryName) == "" {
		return fmt.Errorf("%w: balance sheet category name required", ErrInvalidConfiguration)
	}
	if !m.Side.Valid() {
		return fmt.Errorf("%w: unsupported side %q for %s", ErrInvalidConfiguration, m.Side, m.CategoryName)
	}
	if m.IsSpecial {
		if !m.SpecialSource.Valid() {
			return fmt.Errorf("%w: %q for %s", ErrUnknownSpecialSource, m.SpecialSource, m.CategoryName)
		}
		return nil
	}
	if m.SpecialSource != "" {
		return fmt.Errorf("%w: %s has a special source but is not special", ErrInvalidConfiguration, m.CategoryName)
	}
	if len(m.Level1Filters) == 0 {
		return fmt.Errorf("%w: %s requires level1 filters", ErrInvalidConfiguration, m.CategoryName)
	}
	return nil
}

// Validate rejects malformed income statement mappings.
func (m IncomeStatementMapping) Validate() error {
	if strings.TrimSpace(m.CategoryName) == "" {
		return fmt.Errorf("%w: income statement category name required", ErrInvalidConfiguration)
	}
	if m.Kind != LineProduits && m.Kind != LineCharges {
		return fmt.Errorf("%w: unsupported line kind %q for %s", ErrInvalidConfiguration, m.Kind, m.CategoryName)
	}
	return nil
}
