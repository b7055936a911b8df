// Package amortization builds 30/360 depreciation schedules for ledger
// transactions and keeps the stored schedule rows in sync with them.
package amortization

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

// DaysPerYear is the length of a 30/360 year.
const DaysPerYear = 360

// Tolerance is the largest accepted gap between a schedule total and the
// depreciated amount.
var Tolerance = decimal.New(1, -2)

// Days360 counts days between from and to under the 30/360 convention. Day of
// month values above 30 are clamped to 30 on both ends.
func Days360(from, to time.Time) int {
	d1 := min(from.Day(), 30)
	d2 := min(to.Day(), 30)
	return (to.Year()-from.Year())*DaysPerYear + (int(to.Month())-int(from.Month()))*30 + (d2 - d1)
}

// OpeningDays is the number of 30/360 days the first bucket covers. A start on
// January 1st covers the whole year.
func OpeningDays(start time.Time) int {
	if start.Month() == time.January && start.Day() == 1 {
		return DaysPerYear
	}
	end := time.Date(start.Year(), time.December, 31, 0, 0, 0, 0, start.Location())
	days := Days360(start, end)
	if days < 0 {
		return 0
	}
	return days
}

// Bucket is the depreciation of one calendar year.
type Bucket struct {
	Year   int
	Days   int
	Amount decimal.Decimal
}

// Schedule is the ordered yearly breakdown of a depreciated amount.
type Schedule struct {
	Annuity decimal.Decimal
	Buckets []Bucket
}

// ByYear indexes the schedule amounts by year.
func (s Schedule) ByYear() map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal, len(s.Buckets))
	for _, b := range s.Buckets {
		out[b.Year] = b.Amount
	}
	return out
}

// Total sums every bucket.
func (s Schedule) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range s.Buckets {
		sum = sum.Add(b.Amount)
	}
	return sum
}

// Annuity is the full-year depreciation: the override when set, otherwise
// |total| spread evenly over the duration.
func Annuity(total decimal.Decimal, durationYears float64, override decimal.Decimal) decimal.Decimal {
	if !override.IsZero() {
		return override.Abs().Round(2)
	}
	if durationYears <= 0 {
		return decimal.Zero
	}
	return total.Abs().Div(decimal.NewFromFloat(durationYears)).Round(2)
}

// BuildSchedule spreads |total| over ceil(durationYears) yearly buckets
// starting at start.Year(). The opening bucket is prorated by its 30/360 day
// count, interior buckets carry the full annuity and the closing bucket takes
// whatever remains, so the buckets always sum to |total|. A zero duration or
// amount yields an empty schedule.
func BuildSchedule(start time.Time, total decimal.Decimal, durationYears float64, annualOverride decimal.Decimal) Schedule {
	if durationYears <= 0 || math.IsNaN(durationYears) || durationYears > books.MaxAmortizationYears || total.IsZero() {
		return Schedule{}
	}
	count := int(math.Ceil(durationYears))
	annuity := Annuity(total, durationYears, annualOverride)
	remaining := total.Abs()

	buckets := make([]Bucket, 0, count)
	for i := 0; i < count; i++ {
		year := start.Year() + i
		days := DaysPerYear
		var amount decimal.Decimal
		switch {
		case i == count-1:
			amount = remaining
			if i == 0 {
				days = OpeningDays(start)
			}
		case i == 0:
			days = OpeningDays(start)
			amount = annuity.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(DaysPerYear)).Round(2)
		default:
			amount = annuity
		}
		amount = capAmount(amount, remaining)
		remaining = remaining.Sub(amount)
		buckets = append(buckets, Bucket{Year: year, Days: days, Amount: amount})
	}
	return Schedule{Annuity: annuity, Buckets: buckets}
}

func capAmount(amount, remaining decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	if amount.GreaterThan(remaining) {
		return remaining
	}
	return amount
}

// Diagnostic reports a schedule whose total drifts from the depreciated amount.
type Diagnostic struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
	Delta    decimal.Decimal
}

// Verify returns a diagnostic when the schedule total differs from |total| by
// more than Tolerance. Empty schedules are never flagged.
func Verify(s Schedule, total decimal.Decimal) *Diagnostic {
	if len(s.Buckets) == 0 {
		return nil
	}
	expected := total.Abs()
	actual := s.Total()
	delta := actual.Sub(expected)
	if delta.Abs().LessThanOrEqual(Tolerance) {
		return nil
	}
	return &Diagnostic{Expected: expected, Actual: actual, Delta: delta}
}
