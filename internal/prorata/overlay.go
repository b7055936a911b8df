// Package prorata overlays forecast (planned) amounts on computed statement
// values when a property has pro-rata enabled.
package prorata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// Source tells where an overlaid amount came from.
type Source string

const (
	SourceCalculated Source = "calculated"
	SourceReal       Source = "real"
	SourcePlanned    Source = "planned"
)

// Value is one overlaid category amount.
type Value struct {
	Amount       decimal.Decimal  `json:"amount"`
	Real         decimal.Decimal  `json:"real"`
	Planned      *decimal.Decimal `json:"planned,omitempty"`
	IsCalculated bool             `json:"is_calculated"`
	Source       Source           `json:"source"`
}

// Store is the subset of books.Tx the overlay reads.
type Store interface {
	GetProRataSetting(ctx context.Context, propertyID int64) (books.ProRataSetting, error)
	ListPlannedAmounts(ctx context.Context, propertyID int64, kind books.StatementKind) ([]books.PlannedAmount, error)
}

// Overlay merges real and planned amounts.
type Overlay struct {
	calculated map[books.StatementKind][]string
	logger     *slog.Logger
}

// NewOverlay constructs an Overlay. calculated lists, per statement kind, the
// categories that always keep their computed value.
func NewOverlay(calculated map[books.StatementKind][]string, logger *slog.Logger) *Overlay {
	if logger == nil {
		logger = slog.Default()
	}
	cp := make(map[books.StatementKind][]string, len(calculated))
	for k, v := range calculated {
		cp[k] = append([]string(nil), v...)
	}
	return &Overlay{calculated: cp, logger: logger}
}

// Apply overlays planned amounts on real for one statement. extraCalculated
// adds categories computed for this property only, such as balance sheet
// special lines.
func (o *Overlay) Apply(ctx context.Context, store Store, propertyID int64, year int, kind books.StatementKind, real map[string]decimal.Decimal, extraCalculated ...string) (map[string]Value, error) {
	calculated := append(append([]string(nil), o.calculated[kind]...), extraCalculated...)
	setting, err := store.GetProRataSetting(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("prorata: load setting: %w", err)
	}
	out := make(map[string]Value, len(real))
	if !setting.Enabled {
		for name, amount := range real {
			out[name] = realValue(amount, books.ContainsFold(calculated, name))
		}
		return out, nil
	}
	rows, err := store.ListPlannedAmounts(ctx, propertyID, kind)
	if err != nil {
		return nil, fmt.Errorf("prorata: list planned: %w", err)
	}
	for name, amount := range real {
		if books.ContainsFold(calculated, name) {
			out[name] = realValue(amount, true)
			continue
		}
		planned, ok := PlannedFor(rows, name, year)
		if !ok {
			out[name] = realValue(amount, false)
			continue
		}
		chosen, src := Choose(amount, planned)
		out[name] = Value{Amount: chosen, Real: amount, Planned: &planned, Source: src}
	}
	for _, row := range rows {
		name := strings.TrimSpace(row.Category)
		if _, seen := out[name]; seen || books.ContainsFold(calculated, name) {
			continue
		}
		planned, ok := PlannedFor(rows, name, year)
		if !ok {
			continue
		}
		out[name] = Value{Amount: planned, Real: decimal.Zero, Planned: &planned, Source: SourcePlanned}
	}
	o.logger.DebugContext(ctx, "pro-rata overlay applied",
		slog.Int64("property_id", propertyID),
		slog.Int("year", year),
		slog.String("statement", string(kind)),
		slog.Int("categories", len(out)))
	return out, nil
}

func realValue(amount decimal.Decimal, calculated bool) Value {
	src := SourceReal
	if calculated {
		src = SourceCalculated
	}
	return Value{Amount: amount, Real: amount, IsCalculated: calculated, Source: src}
}

// Choose keeps whichever operand has the larger magnitude, sign included.
// Ties and a zero real amount favor planned.
func Choose(real, planned decimal.Decimal) (decimal.Decimal, Source) {
	if real.IsZero() {
		return planned, SourcePlanned
	}
	if real.Abs().GreaterThan(planned.Abs()) {
		return real, SourceReal
	}
	return planned, SourcePlanned
}

// Project grows base by growthRate per year from baseYear to targetYear.
func Project(base decimal.Decimal, growthRate float64, baseYear, targetYear int) decimal.Decimal {
	n := targetYear - baseYear
	if n <= 0 || growthRate == 0 {
		return base
	}
	factor := decimal.NewFromFloat(1 + growthRate).Pow(decimal.NewFromInt(int64(n)))
	return base.Mul(factor).Round(2)
}

// PlannedFor returns the planned amount of category for year: the explicit row
// when present, otherwise the nearest earlier row projected forward.
func PlannedFor(rows []books.PlannedAmount, category string, year int) (decimal.Decimal, bool) {
	var base *books.PlannedAmount
	for i := range rows {
		r := &rows[i]
		if !strings.EqualFold(strings.TrimSpace(r.Category), strings.TrimSpace(category)) || r.Year > year {
			continue
		}
		if r.Year == year {
			return r.Amount, true
		}
		if base == nil || r.Year > base.Year {
			base = r
		}
	}
	if base == nil {
		return decimal.Zero, false
	}
	return Project(base.Amount, base.GrowthRate, base.Year, year), true
}

// Amounts flattens overlaid values back to a category map.
func Amounts(values map[string]Value) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(values))
	for k, v := range values {
		out[k] = v.Amount
	}
	return out
}
