package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/balancesheet"
	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/incomestatement"
	"github.com/odyssey-erp/rentalbooks/internal/prorata"
	"github.com/odyssey-erp/rentalbooks/internal/report"
)

// Pivot sections of the multi-year overview.
const (
	SectionProduits  = "produits"
	SectionCharges   = "charges"
	SectionResult    = "resultat"
	SectionActif     = "actif"
	SectionPassif    = "passif"
	SectionControl   = "controle"
	maxOverviewYears = 50
)

// IncomeStatement returns the statement of a year, served from the Redis
// cache, then the stored lines, then a fresh computation.
func (s *Service) IncomeStatement(ctx context.Context, propertyID int64, year int) (incomestatement.Statement, error) {
	key, err := s.coordinator.Cache().Key(ctx, propertyID, books.StatementIncome, strconv.Itoa(year))
	if err != nil {
		return incomestatement.Statement{}, fmt.Errorf("engine: cache key: %w", err)
	}
	var stmt incomestatement.Statement
	err = s.coordinator.Cache().FetchJSON(ctx, key, &stmt, func(ctx context.Context) (interface{}, error) {
		return s.loadIncomeStatement(ctx, propertyID, year)
	})
	return stmt, err
}

func (s *Service) loadIncomeStatement(ctx context.Context, propertyID int64, year int) (incomestatement.Statement, error) {
	var stmt incomestatement.Statement
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		lines, err := tx.ListIncomeStatementLines(ctx, propertyID, year)
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			stmt = incomestatement.FromLines(propertyID, year, lines)
		} else {
			stmt, err = s.income.Compute(ctx, tx, propertyID, year)
			if err != nil {
				return err
			}
			if err := tx.ReplaceIncomeStatementLines(ctx, propertyID, year, s.income.Lines(stmt)); err != nil {
				return err
			}
		}
		stmt, err = s.income.ApplyOverride(ctx, tx, stmt)
		return err
	})
	return stmt, err
}

// BalanceSheet returns the sheet of a year, served like IncomeStatement.
func (s *Service) BalanceSheet(ctx context.Context, propertyID int64, year int) (balancesheet.Sheet, error) {
	key, err := s.coordinator.Cache().Key(ctx, propertyID, books.StatementBalance, strconv.Itoa(year))
	if err != nil {
		return balancesheet.Sheet{}, fmt.Errorf("engine: cache key: %w", err)
	}
	var sheet balancesheet.Sheet
	err = s.coordinator.Cache().FetchJSON(ctx, key, &sheet, func(ctx context.Context) (interface{}, error) {
		return s.loadBalanceSheet(ctx, propertyID, year)
	})
	return sheet, err
}

func (s *Service) loadBalanceSheet(ctx context.Context, propertyID int64, year int) (balancesheet.Sheet, error) {
	var sheet balancesheet.Sheet
	err := s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		if _, err := tx.GetProperty(ctx, propertyID); err != nil {
			return err
		}
		lines, err := tx.ListBalanceSheetLines(ctx, propertyID, year)
		if err != nil {
			return err
		}
		if len(lines) > 0 {
			sheet = balancesheet.FromLines(propertyID, year, lines)
			return nil
		}
		sheet, err = s.sheet.Compute(ctx, tx, propertyID, year)
		if err != nil {
			return err
		}
		return tx.ReplaceBalanceSheetLines(ctx, propertyID, year, balancesheet.Lines(sheet))
	})
	return sheet, err
}

// IncomeStatementOverlay applies the pro-rata overlay to a statement's lines.
func (s *Service) IncomeStatementOverlay(ctx context.Context, propertyID int64, year int) (map[string]prorata.Value, error) {
	stmt, err := s.IncomeStatement(ctx, propertyID, year)
	if err != nil {
		return nil, err
	}
	var out map[string]prorata.Value
	err = s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		var err error
		out, err = s.overlay.Apply(ctx, tx, propertyID, year, books.StatementIncome, s.income.Amounts(stmt))
		return err
	})
	return out, err
}

// BalanceSheetOverlay applies the pro-rata overlay to a sheet's categories,
// keyed "group / category" like the overview rows. Special categories are
// treated as calculated.
func (s *Service) BalanceSheetOverlay(ctx context.Context, propertyID int64, year int) (map[string]prorata.Value, error) {
	sheet, err := s.BalanceSheet(ctx, propertyID, year)
	if err != nil {
		return nil, err
	}
	amounts := make(map[string]decimal.Decimal)
	for _, groups := range sheet.Sides {
		for group, cats := range groups {
			for name, v := range cats {
				amounts[SheetKey(group, name)] = v
			}
		}
	}
	var out map[string]prorata.Value
	err = s.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
		mappings, err := tx.ListBalanceSheetMappings(ctx, propertyID)
		if err != nil {
			return err
		}
		var special []string
		for _, m := range mappings {
			if m.IsSpecial {
				special = append(special, SheetKey(m.Group, m.CategoryName))
			}
		}
		out, err = s.overlay.Apply(ctx, tx, propertyID, year, books.StatementBalance, amounts, special...)
		return err
	})
	return out, err
}

// SheetKey names a balance sheet category within its group.
func SheetKey(group, category string) string {
	return group + " / " + category
}

// Overview lays the statements of years [from, to] out as a pivot.
func (s *Service) Overview(ctx context.Context, propertyID int64, from, to int) (*report.Pivot, error) {
	if to < from {
		from, to = to, from
	}
	if to-from >= maxOverviewYears {
		return nil, fmt.Errorf("%w: overview spans more than %d years", ErrInvalidInput, maxOverviewYears)
	}
	pivot := report.NewPivot(SectionProduits, SectionCharges, SectionResult, SectionActif, SectionPassif, SectionControl)
	cfg := s.income.Config()
	for year := from; year <= to; year++ {
		pivot.AddColumn(year)
		stmt, err := s.IncomeStatement(ctx, propertyID, year)
		if err != nil {
			return nil, err
		}
		for name, v := range stmt.Produits {
			pivot.Set(report.RowKey{Section: SectionProduits, Category: name}, year, v)
		}
		for name, v := range stmt.Charges {
			pivot.Set(report.RowKey{Section: SectionCharges, Category: name}, year, v)
		}
		pivot.Set(report.RowKey{Section: SectionCharges, Category: cfg.AmortizationCategory}, year, stmt.AmortizationTotal)
		pivot.Set(report.RowKey{Section: SectionCharges, Category: cfg.FinancingCategory}, year, stmt.FinancingCost)
		pivot.Set(report.RowKey{Section: SectionResult, Category: cfg.NetResultCategory}, year, stmt.NetResult)

		sheet, err := s.BalanceSheet(ctx, propertyID, year)
		if err != nil {
			return nil, err
		}
		for side, section := range map[books.Side]string{books.SideAsset: SectionActif, books.SideLiability: SectionPassif} {
			for group, cats := range sheet.Sides[side] {
				for name, v := range cats {
					pivot.Set(report.RowKey{Section: section, Category: SheetKey(group, name)}, year, v)
				}
			}
		}
		pivot.Set(report.RowKey{Section: SectionControl, Category: "Total actif"}, year, sheet.ActifTotal)
		pivot.Set(report.RowKey{Section: SectionControl, Category: "Total passif"}, year, sheet.PassifTotal)
		pivot.Set(report.RowKey{Section: SectionControl, Category: "Écart"}, year, sheet.Difference)
	}
	return pivot, nil
}
