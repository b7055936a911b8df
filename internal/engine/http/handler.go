// Package enginehttp exposes the bookkeeping engine as a JSON API.
package enginehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/engine"
	"github.com/odyssey-erp/rentalbooks/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Enqueuer schedules long running work on the job queue.
type Enqueuer interface {
	EnqueueAmortizationRecalculate(ctx context.Context, propertyID int64) error
	EnqueueStatementsWarmup(ctx context.Context, propertyID int64, from, to int) error
}

// Handler wires the engine endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *engine.Service
	jobs      Enqueuer
	validator *validator.Validate
	exportRL  func(http.Handler) http.Handler
}

// NewHandler constructs the handler. jobs may be nil, in which case
// asynchronous requests run inline.
func NewHandler(logger *slog.Logger, service *engine.Service, jobs Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		jobs:      jobs,
		validator: validator.New(),
		exportRL: httprate.Limit(10, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "export rate limit reached")
			}),
		),
	}
}

// MountRoutes registers the API routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Put("/transactions/{id}", h.updateTransaction)
		r.Delete("/transactions/{id}", h.deleteTransaction)
		r.Post("/amortization/types/{typeID}/recalculate", h.recalculateType)

		r.Route("/properties/{propertyID}", func(r chi.Router) {
			r.Post("/transactions", h.createTransaction)
			r.Post("/transactions/import", h.importTransactions)
			r.Post("/reclassify", h.reclassify)
			r.Post("/amortization/recalculate", h.recalculateAmortization)
			r.Get("/amortization/cumulative", h.amortizationCumulative)
			r.Post("/loans/changed", h.loanChanged)
			r.Post("/invalidate", h.invalidate)

			r.Get("/income-statement/{year}", h.incomeStatement)
			r.Get("/income-statement/{year}/overlay", h.incomeStatementOverlay)
			r.Put("/income-statement/{year}/override", h.setOverride)
			r.Get("/balance-sheet/{year}", h.balanceSheet)
			r.Get("/balance-sheet/{year}/overlay", h.balanceSheetOverlay)

			r.Get("/overview", h.overview)
			r.With(h.exportRL).Get("/overview.csv", h.overviewCSV)
			r.Post("/warmup", h.warmup)
		})
	})
}

type transactionRequest struct {
	Date        string `json:"date" validate:"required,datetime=2006-01-02"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Description string `json:"description" validate:"max=512"`
}

func (req transactionRequest) input() (engine.TransactionInput, error) {
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		return engine.TransactionInput{}, httpx.Mark(httpx.ErrValidation, err)
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return engine.TransactionInput{}, httpx.Mark(httpx.ErrValidation, err)
	}
	return engine.TransactionInput{Date: date, Amount: amount, Description: strings.TrimSpace(req.Description)}, nil
}

type importRequest struct {
	Transactions []transactionRequest `json:"transactions" validate:"required,min=1,max=5000,dive"`
}

type overrideRequest struct {
	Value string `json:"value" validate:"required,numeric"`
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req transactionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, err)
		return
	}
	out, err := h.service.CreateTransaction(r.Context(), propertyID, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOutcome(out))
}

func (h *Handler) updateTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req transactionRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	in, err := req.input()
	if err != nil {
		h.fail(w, err)
		return
	}
	out, err := h.service.UpdateTransaction(r.Context(), id, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOutcome(out))
}

func (h *Handler) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.fail(w, err)
		return
	}
	out, err := h.service.DeleteTransaction(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOutcome(out))
}

func (h *Handler) importTransactions(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var req importRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	batch := make([]engine.TransactionInput, 0, len(req.Transactions))
	for i, item := range req.Transactions {
		in, err := item.input()
		if err != nil {
			h.fail(w, fmt.Errorf("row %d: %w", i, err))
			return
		}
		batch = append(batch, in)
	}
	out, err := h.service.ImportTransactions(r.Context(), propertyID, batch)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOutcome(out))
}

func (h *Handler) reclassify(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	out, err := h.service.Reclassify(r.Context(), propertyID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOutcome(out))
}

func (h *Handler) recalculateAmortization(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	if h.jobs != nil && r.URL.Query().Get("async") == "true" {
		if err := h.jobs.EnqueueAmortizationRecalculate(r.Context(), propertyID); err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"property_id": propertyID, "queued": true})
		return
	}
	n, err := h.service.RecalculateAmortization(r.Context(), propertyID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"property_id": propertyID, "transactions": n})
}

func (h *Handler) amortizationCumulative(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	totals, err := h.service.AmortizationCumulative(r.Context(), propertyID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"property_id": propertyID, "categories": totals})
}

func (h *Handler) recalculateType(w http.ResponseWriter, r *http.Request) {
	typeID, err := int64Param(r, "typeID")
	if err != nil {
		h.fail(w, err)
		return
	}
	n, err := h.service.RecalculateAmortizationType(r.Context(), typeID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"type_id": typeID, "transactions": n})
}

func (h *Handler) loanChanged(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := h.service.LoanChanged(r.Context(), propertyID); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		h.fail(w, err)
		return
	}
	var year *int
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := parseYear(raw)
		if err != nil {
			h.fail(w, err)
			return
		}
		year = &y
	}
	if err := h.service.Invalidate(r.Context(), propertyID, year); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) incomeStatement(w http.ResponseWriter, r *http.Request) {
	propertyID, year, err := propertyYear(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	stmt, err := h.service.IncomeStatement(r.Context(), propertyID, year)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stmt)
}

func (h *Handler) incomeStatementOverlay(w http.ResponseWriter, r *http.Request) {
	propertyID, year, err := propertyYear(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	values, err := h.service.IncomeStatementOverlay(r.Context(), propertyID, year)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"property_id": propertyID, "year": year, "categories": values})
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	propertyID, year, err := propertyYear(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	var req overrideRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		h.fail(w, httpx.Mark(httpx.ErrValidation, err))
		return
	}
	if err := h.service.SetOverride(r.Context(), propertyID, year, value); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	propertyID, year, err := propertyYear(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	sheet, err := h.service.BalanceSheet(r.Context(), propertyID, year)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) balanceSheetOverlay(w http.ResponseWriter, r *http.Request) {
	propertyID, year, err := propertyYear(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	values, err := h.service.BalanceSheetOverlay(r.Context(), propertyID, year)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"property_id": propertyID, "year": year, "categories": values})
}

func (h *Handler) overview(w http.ResponseWriter, r *http.Request) {
	propertyID, from, to, err := overviewRange(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	pivot, err := h.service.Overview(r.Context(), propertyID, from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pivot.Table())
}

func (h *Handler) overviewCSV(w http.ResponseWriter, r *http.Request) {
	propertyID, from, to, err := overviewRange(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	pivot, err := h.service.Overview(r.Context(), propertyID, from, to)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=overview_%d_%d_%d.csv", propertyID, from, to))
	if err := pivot.WriteCSV(w); err != nil {
		h.logger.Error("write overview csv", slog.Int64("property_id", propertyID), slog.Any("error", err))
	}
}

func (h *Handler) warmup(w http.ResponseWriter, r *http.Request) {
	propertyID, from, to, err := overviewRange(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if h.jobs == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "job queue not configured")
		return
	}
	if err := h.jobs.EnqueueStatementsWarmup(r.Context(), propertyID, from, to); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"property_id": propertyID, "from": from, "to": to, "queued": true})
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s failed %s", httpx.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
		}
		return httpx.Mark(httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case books.IsNotFound(err):
		err = httpx.Mark(httpx.ErrNotFound, err)
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, books.ErrInvalidConfiguration):
		err = httpx.Mark(httpx.ErrValidation, err)
	case errors.Is(err, httpx.ErrValidation), errors.Is(err, httpx.ErrNotFound):
	default:
		h.logger.Error("engine request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, name)), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", httpx.ErrValidation, name)
	}
	return v, nil
}

func parseYear(raw string) (int, error) {
	y, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || y < 1900 || y > 9999 {
		return 0, fmt.Errorf("%w: invalid year %q", httpx.ErrValidation, raw)
	}
	return y, nil
}

func propertyYear(r *http.Request) (int64, int, error) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		return 0, 0, err
	}
	year, err := parseYear(chi.URLParam(r, "year"))
	if err != nil {
		return 0, 0, err
	}
	return propertyID, year, nil
}

func overviewRange(r *http.Request) (int64, int, int, error) {
	propertyID, err := int64Param(r, "propertyID")
	if err != nil {
		return 0, 0, 0, err
	}
	q := r.URL.Query()
	from, err := parseYear(q.Get("from"))
	if err != nil {
		return 0, 0, 0, err
	}
	to, err := parseYear(q.Get("to"))
	if err != nil {
		return 0, 0, 0, err
	}
	return propertyID, from, to, nil
}
