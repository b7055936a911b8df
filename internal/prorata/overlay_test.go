package prorata

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/store/memory"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestChoose(t *testing.T) {
	cases := []struct {
		real, planned string
		want          string
		src           Source
	}{
		{"5000", "12000", "12000", SourcePlanned},
		{"-5000", "-2000", "-5000", SourceReal},
		{"0", "300", "300", SourcePlanned},
		{"700", "-700", "-700", SourcePlanned},
		{"-900", "100", "-900", SourceReal},
	}
	for _, tc := range cases {
		got, src := Choose(dec(tc.real), dec(tc.planned))
		if got.String() != tc.want || src != tc.src {
			t.Fatalf("Choose(%s, %s) = %s/%s, want %s/%s", tc.real, tc.planned, got, src, tc.want, tc.src)
		}
	}
}

func TestProject(t *testing.T) {
	require.Equal(t, "1102.5", Project(dec("1000"), 0.05, 2024, 2026).String())
	require.Equal(t, "1000", Project(dec("1000"), 0.05, 2024, 2024).String())
	require.Equal(t, "1000", Project(dec("1000"), 0, 2020, 2026).String())
}

func TestPlannedFor(t *testing.T) {
	rows := []books.PlannedAmount{
		{Category: "Loyers", Year: 2022, Amount: dec("10000"), GrowthRate: 0.1},
		{Category: "Loyers", Year: 2024, Amount: dec("12000"), GrowthRate: 0.02},
		{Category: "Travaux", Year: 2030, Amount: dec("5000")},
	}
	got, ok := PlannedFor(rows, "loyers", 2024)
	require.True(t, ok)
	require.Equal(t, "12000", got.String())

	got, ok = PlannedFor(rows, "Loyers", 2023)
	require.True(t, ok)
	require.Equal(t, "11000", got.String())

	got, ok = PlannedFor(rows, "Loyers", 2025)
	require.True(t, ok)
	require.Equal(t, "12240", got.String())

	_, ok = PlannedFor(rows, "Travaux", 2024)
	require.False(t, ok)
}

func seedOverlay(t *testing.T, enabled bool) (*memory.Store, int64) {
	t.Helper()
	store := memory.New()
	pid := store.AddProperty("Loft")
	store.SetProRata(pid, enabled)
	for _, p := range []books.PlannedAmount{
		{Category: "Loyers", Year: 2024, Amount: dec("12000")},
		{Category: "Taxe foncière", Year: 2024, Amount: dec("-2000")},
		{Category: "Dotations aux amortissements", Year: 2024, Amount: dec("99999")},
		{Category: "Entretien", Year: 2024, Amount: dec("-600")},
	} {
		p.PropertyID = pid
		p.Kind = books.StatementIncome
		store.AddPlannedAmount(p)
	}
	return store, pid
}

func apply(t *testing.T, store *memory.Store, pid int64, real map[string]decimal.Decimal) map[string]Value {
	t.Helper()
	overlay := NewOverlay(map[books.StatementKind][]string{
		books.StatementIncome: {"Dotations aux amortissements", "Résultat net"},
	}, nil)
	var out map[string]Value
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx books.Tx) error {
		var err error
		out, err = overlay.Apply(ctx, tx, pid, 2024, books.StatementIncome, real)
		return err
	}))
	return out
}

func TestApplyEnabled(t *testing.T) {
	store, pid := seedOverlay(t, true)
	out := apply(t, store, pid, map[string]decimal.Decimal{
		"Loyers":                       dec("5000"),
		"Taxe foncière":                dec("-5000"),
		"Dotations aux amortissements": dec("4791.67"),
		"Assurance":                    dec("-300"),
	})

	require.Equal(t, "12000", out["Loyers"].Amount.String())
	require.Equal(t, SourcePlanned, out["Loyers"].Source)
	require.Equal(t, "5000", out["Loyers"].Real.String())

	require.Equal(t, "-5000", out["Taxe foncière"].Amount.String())
	require.Equal(t, SourceReal, out["Taxe foncière"].Source)

	amort := out["Dotations aux amortissements"]
	require.True(t, amort.IsCalculated)
	require.Equal(t, SourceCalculated, amort.Source)
	require.Equal(t, "4791.67", amort.Amount.String())
	require.Nil(t, amort.Planned)

	require.Equal(t, SourceReal, out["Assurance"].Source)

	entretien, ok := out["Entretien"]
	require.True(t, ok, "planned-only categories are surfaced")
	require.Equal(t, "-600", entretien.Amount.String())
	require.True(t, entretien.Real.IsZero())
}

func TestApplyDisabled(t *testing.T) {
	store, pid := seedOverlay(t, false)
	out := apply(t, store, pid, map[string]decimal.Decimal{
		"Loyers":       dec("5000"),
		"Résultat net": dec("100"),
	})
	require.Len(t, out, 2)
	require.Equal(t, "5000", out["Loyers"].Amount.String())
	require.Equal(t, SourceReal, out["Loyers"].Source)
	require.Equal(t, SourceCalculated, out["Résultat net"].Source)
	require.Equal(t, "5000", Amounts(out)["Loyers"].String())
}
