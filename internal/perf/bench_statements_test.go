package perf

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/amortization"
	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/engine"
	jobmetrics "github.com/odyssey-erp/rentalbooks/internal/jobs"
	"github.com/odyssey-erp/rentalbooks/internal/ledger"
	"github.com/odyssey-erp/rentalbooks/internal/store/memory"
)

// tenYearLedger seeds a property with monthly rent, yearly tax and a works
// invoice every January for ten years.
func tenYearLedger(tb testing.TB) (*engine.Service, int64) {
	tb.Helper()
	store := memory.New()
	pid := store.AddProperty("Immeuble Guillotière")
	store.SetScope(pid, books.StatementIncome, "Exploitation")
	store.SetScope(pid, books.StatementBalance, "Bilan")
	for _, m := range []books.CategoryMapping{
		{Pattern: "loyer", MatchMode: books.MatchContains, Level1: "Loyer", Level2: "Loyer", Level3: "Exploitation", Active: true},
		{Pattern: "travaux", MatchMode: books.MatchContains, Level1: "Immobilisations", Level2: "Travaux", Level3: "Bilan", Active: true},
		{Pattern: "taxe", MatchMode: books.MatchContains, Level1: "Taxe foncière", Level2: "Impôts", Level3: "Exploitation", Active: true},
	} {
		m.PropertyID = pid
		store.AddCategoryMapping(m)
	}
	store.AddAmortizationType(books.AmortizationType{PropertyID: pid, Name: "Travaux", Level2Filter: "Travaux", Level1Filters: []string{"Immobilisations"}, DurationYears: 10})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Loyers", Kind: books.LineProduits, Level1Filters: []string{"Loyer"}, Active: true})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Taxe foncière", Kind: books.LineCharges, Level1Filters: []string{"Taxe foncière"}, Active: true})
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Banque", Side: books.SideAsset, Group: "Trésorerie", IsSpecial: true, SpecialSource: books.SourceBankBalance})
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Amortissements", Side: books.SideAsset, Group: "Immobilisations", IsSpecial: true, SpecialSource: books.SourceAmortizationCumulative})
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Résultat", Side: books.SideLiability, Group: "Capitaux", IsSpecial: true, SpecialSource: books.SourceIncomeStatementResult})
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Report à nouveau", Side: books.SideLiability, Group: "Capitaux", IsSpecial: true, SpecialSource: books.SourceIncomeStatementCarryforward})

	svc, err := engine.NewService(store, engine.Options{})
	if err != nil {
		tb.Fatalf("new service: %v", err)
	}
	var batch []engine.TransactionInput
	for year := 2015; year < 2025; year++ {
		batch = append(batch,
			engine.TransactionInput{Date: time.Date(year, 1, 20, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(-6000), Description: fmt.Sprintf("Facture travaux %d", year)},
			engine.TransactionInput{Date: time.Date(year, 10, 15, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(-950), Description: "Taxe foncière"},
		)
		for month := time.January; month <= time.December; month++ {
			batch = append(batch, engine.TransactionInput{Date: time.Date(year, month, 5, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(780), Description: "Loyer " + month.String()})
		}
	}
	if _, err := svc.ImportTransactions(context.Background(), pid, batch); err != nil {
		tb.Fatalf("import: %v", err)
	}
	return svc, pid
}

func TestStatementThroughputAndReliability(t *testing.T) {
	ctx := context.Background()
	svc, pid := tenYearLedger(t)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	var cold, warm []time.Duration
	for pass := 0; pass < 2; pass++ {
		for year := 2015; year < 2025; year++ {
			start := time.Now()
			tracker := metrics.Track("statements.balance_sheet")
			_, err := svc.BalanceSheet(ctx, pid, year)
			if err := tracker.End(err); err != nil {
				t.Fatalf("balance sheet %d: %v", year, err)
			}
			if pass == 0 {
				cold = append(cold, time.Since(start))
			} else {
				warm = append(warm, time.Since(start))
			}
		}
	}

	if p95 := percentile95(cold); p95 > 2*time.Second {
		t.Fatalf("cold balance sheet regression: p95=%s", p95)
	}
	if p95 := percentile95(warm); p95 > 500*time.Millisecond {
		t.Fatalf("cached balance sheet regression: p95=%s", p95)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	success := counterValue(families, "rentalbooks_jobs_total", map[string]string{"job": "statements.balance_sheet", "status": "success"})
	if success != 20 {
		t.Fatalf("expected 20 successful computations, got %v", success)
	}
	if mean := histogramMean(t, families, "rentalbooks_job_duration_seconds", "statements.balance_sheet"); mean > 2.0 {
		t.Fatalf("mean duration above budget: %f", mean)
	}
}

func BenchmarkBuildSchedule(b *testing.B) {
	start := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	total := decimal.RequireFromString("48250.40")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		amortization.BuildSchedule(start, total, 12.5, decimal.Zero)
	}
}

func BenchmarkComputeBalances(b *testing.B) {
	txs := make([]books.Transaction, 0, 5000)
	day := time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < cap(txs); i++ {
		txs = append(txs, books.Transaction{ID: int64(i + 1), Date: day.AddDate(0, 0, i/3), Amount: decimal.NewFromInt(int64(i%7 - 3))})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ledger.ComputeBalances(decimal.Zero, txs)
	}
}

func BenchmarkIncomeStatementCold(b *testing.B) {
	ctx := context.Background()
	svc, pid := tenYearLedger(b)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		year := 2024
		if err := svc.Invalidate(ctx, pid, &year); err != nil {
			b.Fatal(err)
		}
		if _, err := svc.IncomeStatement(ctx, pid, year); err != nil {
			b.Fatal(err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*0.95)]
}

func counterValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name, job string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if !hasLabels(metric, map[string]string{"job": job}) {
				continue
			}
			hist := metric.GetHistogram()
			if hist == nil || hist.GetSampleCount() == 0 {
				t.Fatalf("histogram %s missing samples", name)
			}
			return hist.GetSampleSum() / float64(hist.GetSampleCount())
		}
	}
	t.Fatalf("histogram %s for %s not found", name, job)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}
