package engine

import (
	"context"

	"github.com/odyssey-erp/rentalbooks/internal/amortization"
	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/invalidation"
	"github.com/odyssey-erp/rentalbooks/internal/ledger"
)

const (
	HandlerBalances     = "balances"
	HandlerSchedules    = "schedules"
	HandlerInvalidation = "invalidation"
)

type balanceHandler struct {
	maintainer *ledger.Maintainer
}

func (h balanceHandler) Name() string { return HandlerBalances }

func (h balanceHandler) Handle(ctx context.Context, tx books.Tx, ev TransactionChanged) error {
	_, err := h.maintainer.Recompute(ctx, tx, ev.PropertyID, ev.Window())
	return err
}

type scheduleHandler struct {
	scheduler *amortization.Service
}

func (h scheduleHandler) Name() string { return HandlerSchedules }

func (h scheduleHandler) Handle(ctx context.Context, tx books.Tx, ev TransactionChanged) error {
	for _, id := range ev.TransactionIDs {
		if ev.Kind == ChangeDeleted {
			if _, err := h.scheduler.Remove(ctx, tx, id); err != nil {
				return err
			}
			continue
		}
		t, err := tx.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if _, err := h.scheduler.RecalculateTransaction(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

type invalidationHandler struct {
	coordinator *invalidation.Coordinator
}

func (h invalidationHandler) Name() string { return HandlerInvalidation }

// Handle drops statements from the change window onward. A type whose start
// date override precedes the window moves the window back to that year.
func (h invalidationHandler) Handle(ctx context.Context, tx books.Tx, ev TransactionChanged) error {
	from := ev.Window().Year()
	types, err := tx.ListAmortizationTypes(ctx, ev.PropertyID)
	if err != nil {
		return err
	}
	for _, t := range types {
		if t.StartDateOverride != nil && t.StartDateOverride.Year() < from {
			from = t.StartDateOverride.Year()
		}
	}
	return h.coordinator.InvalidateRange(ctx, tx, ev.PropertyID, from, 0)
}
