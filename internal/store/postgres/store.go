// Package postgres implements books.Store on top of a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/platform/db"
)

// Store opens RepeatableRead units of work against PostgreSQL.
type Store struct {
	db db.Beginner
}

// New wraps a pool (or a single connection in tests).
func New(pool db.Beginner) *Store {
	return &Store{db: pool}
}

var _ books.Store = (*Store)(nil)

// WithTx runs fn in its own transaction.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, books.Tx) error) error {
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

var _ books.Tx = (*pgTx)(nil)

func notFound(err error, sentinel error, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: id %d", sentinel, id)
	}
	return err
}

func wrap(op string, err error) error {
	return fmt.Errorf("store/postgres: %s: %w", op, err)
}

func (t *pgTx) GetProperty(ctx context.Context, id int64) (books.Property, error) {
	var p books.Property
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, created_at, updated_at FROM properties WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return books.Property{}, notFound(err, books.ErrPropertyNotFound, id)
	}
	return p, nil
}

func (t *pgTx) ListProperties(ctx context.Context) ([]books.Property, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, name, created_at, updated_at FROM properties ORDER BY id`)
	if err != nil {
		return nil, wrap("list properties", err)
	}
	defer rows.Close()

	out := make([]books.Property, 0)
	for rows.Next() {
		var p books.Property
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, wrap("scan property", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
