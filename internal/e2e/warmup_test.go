package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/rentalbooks/internal/books"
	"github.com/odyssey-erp/rentalbooks/internal/engine"
	jobmetrics "github.com/odyssey-erp/rentalbooks/internal/jobs"
	"github.com/odyssey-erp/rentalbooks/internal/store/memory"
	"github.com/odyssey-erp/rentalbooks/jobs"
)

func seedProperty(t *testing.T, store *memory.Store, name string, withPassif bool) int64 {
	t.Helper()
	pid := store.AddProperty(name)
	store.SetScope(pid, books.StatementIncome, "Exploitation")
	store.SetScope(pid, books.StatementBalance, "Bilan")
	store.AddCategoryMapping(books.CategoryMapping{PropertyID: pid, Pattern: "apport", MatchMode: books.MatchContains, Level1: "Capital", Level2: "Apport", Level3: "Bilan", Active: true})
	store.AddCategoryMapping(books.CategoryMapping{PropertyID: pid, Pattern: "loyer", MatchMode: books.MatchContains, Level1: "Loyer", Level2: "Loyer", Level3: "Exploitation", Active: true})
	store.AddIncomeStatementMapping(books.IncomeStatementMapping{PropertyID: pid, CategoryName: "Loyers", Kind: books.LineProduits, Level1Filters: []string{"Loyer"}, Active: true})
	store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Banque", Side: books.SideAsset, Group: "Trésorerie", IsSpecial: true, SpecialSource: books.SourceBankBalance})
	if withPassif {
		store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Apports", Side: books.SideLiability, Group: "Capitaux propres", Level1Filters: []string{"Capital"}})
		store.AddBalanceSheetMapping(books.BalanceSheetMapping{PropertyID: pid, CategoryName: "Résultat", Side: books.SideLiability, Group: "Capitaux propres", IsSpecial: true, SpecialSource: books.SourceIncomeStatementResult})
	}
	return pid
}

func TestStatementsWarmupJob(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	balanced := seedProperty(t, store, "Studio Croix-Rousse", true)
	lopsided := seedProperty(t, store, "Parking Bellecour", false)

	svc, err := engine.NewService(store, engine.Options{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	for _, pid := range []int64{balanced, lopsided} {
		_, err := svc.ImportTransactions(ctx, pid, []engine.TransactionInput{
			{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(10000), Description: "Apport associé"},
			{Date: time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(1200), Description: "Loyer février"},
		})
		if err != nil {
			t.Fatalf("import %d: %v", pid, err)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := jobs.NewStatementJobs(svc, nil, metrics)

	for _, pid := range []int64{balanced, lopsided} {
		task, err := jobs.NewStatementsWarmupTask(pid, 2024, 2024)
		if err != nil {
			t.Fatalf("create task: %v", err)
		}
		if err := job.HandleStatementsWarmup(ctx, task); err != nil {
			t.Fatalf("warmup %d: %v", pid, err)
		}
	}

	if lines := store.BalanceSheetLines(balanced, 2024); len(lines) != 3 {
		t.Fatalf("expected 3 cached balance sheet lines, got %d", len(lines))
	}
	sheet, err := svc.BalanceSheet(ctx, balanced, 2024)
	if err != nil {
		t.Fatalf("balance sheet: %v", err)
	}
	if !sheet.Balanced || sheet.ActifTotal.StringFixed(2) != "11200.00" {
		t.Fatalf("expected balanced sheet of 11200, got actif=%s passif=%s", sheet.ActifTotal, sheet.PassifTotal)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if v := metricValue(families, "rentalbooks_jobs_total", map[string]string{"job": jobs.TaskStatementsWarmup, "status": "success"}); v != 2 {
		t.Fatalf("expected 2 successful warmups, got %v", v)
	}
	if v := metricValue(families, "rentalbooks_balance_sheet_imbalance_total", map[string]string{"property": itoa(lopsided), "year": "2024"}); v != 1 {
		t.Fatalf("expected imbalance recorded for lopsided property, got %v", v)
	}
	if v := metricValue(families, "rentalbooks_balance_sheet_imbalance_total", map[string]string{"property": itoa(balanced), "year": "2024"}); v != 0 {
		t.Fatalf("unexpected imbalance for balanced property: %v", v)
	}
}

func TestWarmupJobSkipsUnknownProperty(t *testing.T) {
	svc, err := engine.NewService(memory.New(), engine.Options{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	reg := prometheus.NewRegistry()
	job := jobs.NewStatementJobs(svc, nil, jobmetrics.NewMetrics(reg))
	task, err := jobs.NewStatementsWarmupTask(404, 2023, 2024)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := job.HandleStatementsWarmup(context.Background(), task); err == nil {
		t.Fatal("expected warmup of unknown property to fail")
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if v := metricValue(families, "rentalbooks_jobs_failures_total", map[string]string{"job": jobs.TaskStatementsWarmup}); v != 1 {
		t.Fatalf("expected one failure, got %v", v)
	}
}

func itoa(id int64) string {
	return decimal.NewFromInt(id).String()
}

func metricValue(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if !hasLabels(metric, labels) {
				continue
			}
			if fam.GetType() == dto.MetricType_COUNTER {
				return metric.GetCounter().GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		val, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != val {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
