package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// Handler reacts to a committed ledger change inside its own unit of work.
type Handler interface {
	Name() string
	Handle(ctx context.Context, tx books.Tx, ev TransactionChanged) error
}

// HandlerError records a failed secondary effect.
type HandlerError struct {
	Handler string
	Err     error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("engine: %s: %v", e.Handler, e.Err)
}

func (e HandlerError) Unwrap() error {
	return e.Err
}

// Report summarises a dispatch.
type Report struct {
	EventID  uuid.UUID      `json:"event_id"`
	Ran      []string       `json:"ran"`
	Failures []HandlerError `json:"-"`
}

// OK reports whether every handler succeeded.
func (r Report) OK() bool {
	return len(r.Failures) == 0
}

// Err joins the handler failures, nil when there are none.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// Dispatcher runs handlers in a fixed order, each in its own unit of work, so
// a failing handler neither rolls back the primary mutation nor blocks the
// handlers after it.
type Dispatcher struct {
	store    books.Store
	handlers []Handler
	logger   *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store books.Store, logger *slog.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, handlers: handlers, logger: logger}
}

// Dispatch delivers ev to every handler and collects failures.
func (d *Dispatcher) Dispatch(ctx context.Context, ev TransactionChanged) Report {
	report := Report{EventID: ev.ID}
	for _, h := range d.handlers {
		err := d.store.WithTx(ctx, func(ctx context.Context, tx books.Tx) error {
			return h.Handle(ctx, tx, ev)
		})
		report.Ran = append(report.Ran, h.Name())
		if err != nil {
			d.logger.ErrorContext(ctx, "secondary effect failed",
				slog.String("handler", h.Name()),
				slog.String("event_id", ev.ID.String()),
				slog.String("kind", string(ev.Kind)),
				slog.Int64("property_id", ev.PropertyID),
				slog.Any("error", err))
			report.Failures = append(report.Failures, HandlerError{Handler: h.Name(), Err: err})
		}
	}
	return report
}
