package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

func (t *pgTx) GetStatementScope(ctx context.Context, propertyID int64, kind books.StatementKind) (books.StatementScope, error) {
	scope := books.StatementScope{PropertyID: propertyID, Statement: kind}
	err := t.tx.QueryRow(ctx,
		`SELECT level3 FROM statement_scopes WHERE property_id = $1 AND statement = $2`,
		propertyID, string(kind),
	).Scan(&scope.Level3)
	if errors.Is(err, pgx.ErrNoRows) {
		return scope, nil
	}
	if err != nil {
		return books.StatementScope{}, wrap("get statement scope", err)
	}
	return scope, nil
}

func (t *pgTx) ListIncomeStatementMappings(ctx context.Context, propertyID int64) ([]books.IncomeStatementMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, property_id, category_name, kind, level1_filters, active
		FROM income_statement_mappings WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, wrap("list income statement mappings", err)
	}
	defer rows.Close()

	out := make([]books.IncomeStatementMapping, 0)
	for rows.Next() {
		var (
			m    books.IncomeStatementMapping
			kind string
		)
		if err := rows.Scan(&m.ID, &m.PropertyID, &m.CategoryName, &kind, &m.Level1Filters, &m.Active); err != nil {
			return nil, wrap("scan income statement mapping", err)
		}
		m.Kind = books.LineKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) GetIncomeStatementOverride(ctx context.Context, propertyID int64, year int) (*books.IncomeStatementOverride, error) {
	o := books.IncomeStatementOverride{PropertyID: propertyID, Year: year}
	err := t.tx.QueryRow(ctx,
		`SELECT value, updated_at FROM income_statement_overrides WHERE property_id = $1 AND year = $2`,
		propertyID, year,
	).Scan(&o.Value, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get override", err)
	}
	return &o, nil
}

func (t *pgTx) UpsertIncomeStatementOverride(ctx context.Context, o books.IncomeStatementOverride) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO income_statement_overrides (property_id, year, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (property_id, year) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		o.PropertyID, o.Year, o.Value)
	if err != nil {
		return wrap("upsert override", err)
	}
	return nil
}

func (t *pgTx) ListBalanceSheetMappings(ctx context.Context, propertyID int64) ([]books.BalanceSheetMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, property_id, category_name, side, grp, level1_filters, is_special, special_source
		FROM balance_sheet_mappings WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, wrap("list balance sheet mappings", err)
	}
	defer rows.Close()

	out := make([]books.BalanceSheetMapping, 0)
	for rows.Next() {
		var (
			m      books.BalanceSheetMapping
			side   string
			source *string
		)
		if err := rows.Scan(&m.ID, &m.PropertyID, &m.CategoryName, &side, &m.Group, &m.Level1Filters, &m.IsSpecial, &source); err != nil {
			return nil, wrap("scan balance sheet mapping", err)
		}
		m.Side = books.Side(side)
		m.SpecialSource = books.SpecialSource(deref(source))
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *pgTx) ListLoanConfigs(ctx context.Context, propertyID int64) ([]books.LoanConfig, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, property_id, name, credit_amount, rate, duration_months, start_date, active
		FROM loan_configs WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, wrap("list loan configs", err)
	}
	defer rows.Close()

	out := make([]books.LoanConfig, 0)
	for rows.Next() {
		var l books.LoanConfig
		if err := rows.Scan(&l.ID, &l.PropertyID, &l.Name, &l.CreditAmount, &l.Rate, &l.DurationMonths, &l.StartDate, &l.Active); err != nil {
			return nil, wrap("scan loan config", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ListLoanPayments(ctx context.Context, filter books.LoanPaymentFilter) ([]books.LoanPayment, error) {
	var (
		args  []any
		query = `SELECT id, loan_id, property_id, date, total, capital, interest, insurance FROM loan_payments WHERE TRUE`
	)
	if filter.PropertyID != 0 {
		args = append(args, filter.PropertyID)
		query += fmt.Sprintf(" AND property_id = $%d", len(args))
	}
	if filter.LoanID != 0 {
		args = append(args, filter.LoanID)
		query += fmt.Sprintf(" AND loan_id = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}
	query += " ORDER BY date, id"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list loan payments", err)
	}
	defer rows.Close()

	out := make([]books.LoanPayment, 0)
	for rows.Next() {
		var p books.LoanPayment
		if err := rows.Scan(&p.ID, &p.LoanID, &p.PropertyID, &p.Date, &p.Total, &p.Capital, &p.Interest, &p.Insurance); err != nil {
			return nil, wrap("scan loan payment", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) GetProRataSetting(ctx context.Context, propertyID int64) (books.ProRataSetting, error) {
	setting := books.ProRataSetting{PropertyID: propertyID}
	err := t.tx.QueryRow(ctx, `SELECT enabled FROM prorata_settings WHERE property_id = $1`, propertyID).Scan(&setting.Enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return setting, nil
	}
	if err != nil {
		return books.ProRataSetting{}, wrap("get prorata setting", err)
	}
	return setting, nil
}

func (t *pgTx) ListPlannedAmounts(ctx context.Context, propertyID int64, kind books.StatementKind) ([]books.PlannedAmount, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, property_id, category, year, amount, growth_rate
		FROM planned_amounts WHERE property_id = $1 AND kind = $2
		ORDER BY category, year`, propertyID, string(kind))
	if err != nil {
		return nil, wrap("list planned amounts", err)
	}
	defer rows.Close()

	out := make([]books.PlannedAmount, 0)
	for rows.Next() {
		p := books.PlannedAmount{Kind: kind}
		if err := rows.Scan(&p.ID, &p.PropertyID, &p.Category, &p.Year, &p.Amount, &p.GrowthRate); err != nil {
			return nil, wrap("scan planned amount", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ListIncomeStatementLines(ctx context.Context, propertyID int64, year int) ([]books.IncomeStatementLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT category, kind, amount FROM income_statement_lines
		WHERE property_id = $1 AND year = $2 ORDER BY kind, category`, propertyID, year)
	if err != nil {
		return nil, wrap("list income statement lines", err)
	}
	defer rows.Close()

	out := make([]books.IncomeStatementLine, 0)
	for rows.Next() {
		var (
			l    = books.IncomeStatementLine{PropertyID: propertyID, Year: year}
			kind string
		)
		if err := rows.Scan(&l.Category, &kind, &l.Amount); err != nil {
			return nil, wrap("scan income statement line", err)
		}
		l.Kind = books.LineKind(kind)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ReplaceIncomeStatementLines(ctx context.Context, propertyID int64, year int, lines []books.IncomeStatementLine) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM income_statement_lines WHERE property_id = $1 AND year = $2`, propertyID, year)
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO income_statement_lines (property_id, year, category, kind, amount)
			VALUES ($1, $2, $3, $4, $5)`, propertyID, year, l.Category, string(l.Kind), l.Amount)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("replace income statement lines", err)
	}
	return nil
}

func (t *pgTx) ListBalanceSheetLines(ctx context.Context, propertyID int64, year int) ([]books.BalanceSheetLine, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT side, grp, category, amount FROM balance_sheet_lines
		WHERE property_id = $1 AND year = $2 ORDER BY side, grp, category`, propertyID, year)
	if err != nil {
		return nil, wrap("list balance sheet lines", err)
	}
	defer rows.Close()

	out := make([]books.BalanceSheetLine, 0)
	for rows.Next() {
		var (
			l    = books.BalanceSheetLine{PropertyID: propertyID, Year: year}
			side string
		)
		if err := rows.Scan(&side, &l.Group, &l.Category, &l.Amount); err != nil {
			return nil, wrap("scan balance sheet line", err)
		}
		l.Side = books.Side(side)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *pgTx) ReplaceBalanceSheetLines(ctx context.Context, propertyID int64, year int, lines []books.BalanceSheetLine) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM balance_sheet_lines WHERE property_id = $1 AND year = $2`, propertyID, year)
	for _, l := range lines {
		batch.Queue(`
			INSERT INTO balance_sheet_lines (property_id, year, side, grp, category, amount)
			VALUES ($1, $2, $3, $4, $5, $6)`, propertyID, year, string(l.Side), l.Group, l.Category, l.Amount)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("replace balance sheet lines", err)
	}
	return nil
}

func (t *pgTx) DeleteStatementLines(ctx context.Context, propertyID int64, from, to int) (int64, error) {
	upper := to
	if upper == 0 {
		upper = maxYear
	}
	var removed int64
	for _, table := range []string{"income_statement_lines", "balance_sheet_lines"} {
		tag, err := t.tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE property_id = $1 AND year BETWEEN $2 AND $3`,
			propertyID, from, upper)
		if err != nil {
			return removed, wrap("delete "+table, err)
		}
		removed += tag.RowsAffected()
	}
	return removed, nil
}

const maxYear = 9999
