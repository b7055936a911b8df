package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

const transactionColumns = `id, property_id, date, amount, description, running_balance,
	level1, level2, level3, created_at, updated_at`

func scanTransaction(row pgx.Row) (books.Transaction, error) {
	var (
		tx                     books.Transaction
		level1, level2, level3 *string
	)
	err := row.Scan(&tx.ID, &tx.PropertyID, &tx.Date, &tx.Amount, &tx.Description, &tx.RunningBalance,
		&level1, &level2, &level3, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return books.Transaction{}, err
	}
	if level1 != nil {
		tx.Classification = &books.Classification{Level1: *level1, Level2: deref(level2), Level3: deref(level3)}
	}
	return tx, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func classificationArgs(c *books.Classification) (any, any, any) {
	if c == nil {
		return nil, nil, nil
	}
	return c.Level1, c.Level2, c.Level3
}

func (t *pgTx) GetTransaction(ctx context.Context, id int64) (books.Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	tx, err := scanTransaction(row)
	if err != nil {
		return books.Transaction{}, notFound(err, books.ErrTransactionNotFound, id)
	}
	return tx, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, in books.Transaction) (books.Transaction, error) {
	l1, l2, l3 := classificationArgs(in.Classification)
	row := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (property_id, date, amount, description, running_balance, level1, level2, level3)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+transactionColumns,
		in.PropertyID, in.Date, in.Amount, in.Description, in.RunningBalance, l1, l2, l3)
	tx, err := scanTransaction(row)
	if err != nil {
		return books.Transaction{}, wrap("insert transaction", err)
	}
	return tx, nil
}

func (t *pgTx) UpdateTransaction(ctx context.Context, in books.Transaction) error {
	l1, l2, l3 := classificationArgs(in.Classification)
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET date = $2, amount = $3, description = $4, running_balance = $5,
		    level1 = $6, level2 = $7, level3 = $8, updated_at = NOW()
		WHERE id = $1`,
		in.ID, in.Date, in.Amount, in.Description, in.RunningBalance, l1, l2, l3)
	if err != nil {
		return wrap("update transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", books.ErrTransactionNotFound, in.ID)
	}
	return nil
}

func (t *pgTx) DeleteTransaction(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return wrap("delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", books.ErrTransactionNotFound, id)
	}
	return nil
}

func (t *pgTx) ListTransactions(ctx context.Context, filter books.TransactionFilter) ([]books.Transaction, error) {
	var (
		clauses = []string{"property_id = $1"}
		args    = []any{filter.PropertyID}
	)
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("date <= $%d", len(args)))
	}
	if filter.ClassifiedOnly {
		clauses = append(clauses, "level1 IS NOT NULL")
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY date, id`

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	defer rows.Close()

	out := make([]books.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, wrap("scan transaction", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (t *pgTx) LastTransactionBefore(ctx context.Context, propertyID int64, date time.Time) (*books.Transaction, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE property_id = $1 AND date < $2
		ORDER BY date DESC, id DESC
		LIMIT 1`, propertyID, date)
	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last transaction", err)
	}
	return &tx, nil
}

func (t *pgTx) FirstTransactionDate(ctx context.Context, propertyID int64) (*time.Time, error) {
	var first *time.Time
	err := t.tx.QueryRow(ctx, `SELECT MIN(date) FROM transactions WHERE property_id = $1`, propertyID).Scan(&first)
	if err != nil {
		return nil, wrap("first transaction date", err)
	}
	return first, nil
}

func (t *pgTx) UpdateRunningBalances(ctx context.Context, updates []books.BalanceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range updates {
		batch.Queue(`UPDATE transactions SET running_balance = $2, updated_at = NOW() WHERE id = $1`,
			u.TransactionID, u.RunningBalance)
	}
	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()
	for _, u := range updates {
		tag, err := results.Exec()
		if err != nil {
			return wrap("update running balance", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: id %d", books.ErrTransactionNotFound, u.TransactionID)
		}
	}
	return nil
}

func (t *pgTx) UpdateClassification(ctx context.Context, transactionID int64, c *books.Classification) error {
	l1, l2, l3 := classificationArgs(c)
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions SET level1 = $2, level2 = $3, level3 = $4, updated_at = NOW()
		WHERE id = $1`, transactionID, l1, l2, l3)
	if err != nil {
		return wrap("update classification", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", books.ErrTransactionNotFound, transactionID)
	}
	return nil
}

func (t *pgTx) ListCategoryMappings(ctx context.Context, propertyID int64) ([]books.CategoryMapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, property_id, pattern, level1, level2, level3, match_mode, priority, active
		FROM category_mappings WHERE property_id = $1 ORDER BY id`, propertyID)
	if err != nil {
		return nil, wrap("list category mappings", err)
	}
	defer rows.Close()

	out := make([]books.CategoryMapping, 0)
	for rows.Next() {
		var (
			m    books.CategoryMapping
			mode string
		)
		if err := rows.Scan(&m.ID, &m.PropertyID, &m.Pattern, &m.Level1, &m.Level2, &m.Level3, &mode, &m.Priority, &m.Active); err != nil {
			return nil, wrap("scan category mapping", err)
		}
		m.MatchMode = books.MatchMode(mode)
		out = append(out, m)
	}
	return out, rows.Err()
}
