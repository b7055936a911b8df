package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

const typeColumns = `id, property_id, name, level2_filter, level1_filters, start_date_override,
	duration_years, annual_amount_override`

func scanType(row pgx.Row) (books.AmortizationType, error) {
	var t books.AmortizationType
	err := row.Scan(&t.ID, &t.PropertyID, &t.Name, &t.Level2Filter, &t.Level1Filters, &t.StartDateOverride,
		&t.DurationYears, &t.AnnualAmountOverride)
	return t, err
}

func (t *pgTx) GetAmortizationType(ctx context.Context, id int64) (books.AmortizationType, error) {
	typ, err := scanType(t.tx.QueryRow(ctx, `SELECT `+typeColumns+` FROM amortization_types WHERE id = $1`, id))
	if err != nil {
		return books.AmortizationType{}, notFound(err, books.ErrAmortizationTypeNotFound, id)
	}
	return typ, nil
}

func (t *pgTx) ListAmortizationTypes(ctx context.Context, propertyID int64) ([]books.AmortizationType, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+typeColumns+` FROM amortization_types WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, wrap("list amortization types", err)
	}
	defer rows.Close()

	out := make([]books.AmortizationType, 0)
	for rows.Next() {
		typ, err := scanType(rows)
		if err != nil {
			return nil, wrap("scan amortization type", err)
		}
		out = append(out, typ)
	}
	return out, rows.Err()
}

func (t *pgTx) ListAmortizationResults(ctx context.Context, filter books.AmortizationFilter) ([]books.AmortizationResult, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.PropertyID != 0 {
		add("property_id = $%d", filter.PropertyID)
	}
	if filter.TransactionID != 0 {
		add("transaction_id = $%d", filter.TransactionID)
	}
	if filter.TypeID != 0 {
		add("type_id = $%d", filter.TypeID)
	}
	if filter.Year != 0 {
		add("year = $%d", filter.Year)
	}
	if filter.MaxYear != 0 {
		add("year <= $%d", filter.MaxYear)
	}
	query := `SELECT id, transaction_id, property_id, type_id, year, category, amount FROM amortization_results`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY transaction_id, year`

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list amortization results", err)
	}
	defer rows.Close()

	out := make([]books.AmortizationResult, 0)
	for rows.Next() {
		var r books.AmortizationResult
		if err := rows.Scan(&r.ID, &r.TransactionID, &r.PropertyID, &r.TypeID, &r.Year, &r.Category, &r.Amount); err != nil {
			return nil, wrap("scan amortization result", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertAmortizationResults(ctx context.Context, rows []books.AmortizationResult) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO amortization_results (transaction_id, property_id, type_id, year, category, amount)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.TransactionID, r.PropertyID, r.TypeID, r.Year, r.Category, r.Amount)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("insert amortization results", err)
	}
	return nil
}

func (t *pgTx) DeleteAmortizationResults(ctx context.Context, transactionID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM amortization_results WHERE transaction_id = $1`, transactionID)
	if err != nil {
		return 0, wrap("delete amortization results", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeletePropertyAmortizationResults(ctx context.Context, propertyID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM amortization_results WHERE property_id = $1`, propertyID)
	if err != nil {
		return 0, wrap("delete property amortization results", err)
	}
	return tag.RowsAffected(), nil
}
