package pipeline_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/config"
	"github.com/dvloznov/spend-analytics/internal/detect"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/enrich"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

func ledger() *domain.Dataset {
	start := time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	var txns []domain.Transaction

	// u1: twelve ordinary purchases and one very large one.
	for i := 0; i < 12; i++ {
		txns = append(txns, domain.Transaction{
			UserID:     "u1",
			TxnDate:    start.AddDate(0, 0, i*3),
			TxnAmount:  20 + float64(i%3),
			FeeAmount:  0.5,
			MerchantID: "grocer",
			TxnType:    "POS",
		})
	}
	txns = append(txns, domain.Transaction{
		UserID: "u1", TxnDate: start.AddDate(0, 1, 10), TxnAmount: 2500, MerchantID: "jeweller", TxnType: "POS",
	})

	// u2: a monthly subscription charged twice by mistake in March.
	for m := 0; m < 3; m++ {
		txns = append(txns, domain.Transaction{
			UserID: "u2", TxnDate: start.AddDate(0, 0, m*30), TxnAmount: 9.99, MerchantID: "stream", TxnType: "ONLINE",
		})
	}
	txns = append(txns, domain.Transaction{
		UserID: "u2", TxnDate: start.AddDate(0, 0, 60), TxnAmount: 9.99, MerchantID: "stream", TxnType: "ONLINE",
	})
	return domain.NewDataset(txns)
}

func newAnalyzer(t *testing.T, cacheEntries int) *pipeline.Analyzer {
	t.Helper()
	cfg := config.Default()
	cfg.CacheEntries = cacheEntries
	a, err := pipeline.NewAnalyzer(cfg)
	if err != nil {
		t.Fatalf("NewAnalyzer failed: %v", err)
	}
	return a
}

func TestAnalyzeFullDataset(t *testing.T) {
	res, err := newAnalyzer(t, 0).Analyze(context.Background(), ledger(), pipeline.Request{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if res.Status != pipeline.StatusAnomaliesFound {
		t.Errorf("Status = %s, want %s", res.Status, pipeline.StatusAnomaliesFound)
	}
	if res.Headline.TotalTransactions != 17 {
		t.Errorf("TotalTransactions = %d, want 17", res.Headline.TotalTransactions)
	}
	if res.Headline.HighestAnomaly == nil || res.Headline.HighestAnomaly.TxnAmount != 2500 {
		t.Errorf("HighestAnomaly = %+v, want 2500", res.Headline.HighestAnomaly)
	}
	if len(res.OutlierSkippedUsers) != 1 || res.OutlierSkippedUsers[0] != "u2" {
		t.Errorf("OutlierSkippedUsers = %v, want [u2]", res.OutlierSkippedUsers)
	}

	var big *domain.Anomaly
	for i, a := range res.Anomalies {
		if a.TxnAmount == 2500 {
			big = &res.Anomalies[i]
		}
	}
	if big == nil || big.Types.String() != "Outlier; Spending Spike" {
		t.Errorf("Expected 2500 purchase labeled Outlier and Spending Spike, got %+v", big)
	}

	dupes := res.AnomaliesOfType(domain.AnomalyDuplicate)
	if len(dupes) != 1 || dupes[0].UserID != "u2" {
		t.Errorf("Duplicate anomalies = %+v, want one u2 record", dupes)
	}
	if res.Report.DuplicateRawRows != 1 {
		t.Errorf("DuplicateRawRows = %d, want 1", res.Report.DuplicateRawRows)
	}
	if len(res.Tables.Recurring) != 0 {
		t.Errorf("Expected the doubled charge to break the monthly pattern, got %+v", res.Tables.Recurring)
	}
	if len(res.Tables.Tiers) != 2 {
		t.Errorf("Tiers = %+v, want 2 users", res.Tables.Tiers)
	}
}

func TestAnalyzeIsIdempotent(t *testing.T) {
	a := newAnalyzer(t, 0)
	first, err := a.Analyze(context.Background(), ledger(), pipeline.Request{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	second, err := a.Analyze(context.Background(), ledger(), pipeline.Request{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if !reflect.DeepEqual(first.Tables, second.Tables) {
		t.Error("Expected identical aggregation tables across runs")
	}
	if !reflect.DeepEqual(first.Anomalies, second.Anomalies) {
		t.Error("Expected identical anomaly ledgers across runs")
	}
	if !reflect.DeepEqual(first.Summary, second.Summary) {
		t.Error("Expected identical summaries across runs")
	}
}

func TestAnalyzeMemoizesOnExactRequest(t *testing.T) {
	a := newAnalyzer(t, 8)
	ctx := context.Background()

	all, err := a.Analyze(ctx, ledger(), pipeline.Request{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	again, err := a.Analyze(ctx, ledger(), pipeline.Request{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if again != all {
		t.Error("Expected memoized result for identical dataset and request")
	}

	u2, err := a.Analyze(ctx, ledger(), pipeline.Request{UserID: "u2"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if u2 == all || u2.Headline.TotalTransactions != 4 {
		t.Errorf("Expected a separate result for u2, got %d rows", u2.Headline.TotalTransactions)
	}

	changed := domain.NewDataset(append(ledger().Transactions(), domain.Transaction{
		UserID: "u3", TxnDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), TxnAmount: 1,
	}))
	fresh, err := a.Analyze(ctx, changed, pipeline.Request{})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if fresh == all || fresh.Headline.TotalTransactions != 18 {
		t.Error("Expected changed dataset to bypass the memo")
	}
}

func TestAnalyzeUserAndDateFilter(t *testing.T) {
	req := pipeline.Request{
		UserID: "u1",
		From:   civil.Date{Year: 2024, Month: time.January, Day: 4},
		To:     civil.Date{Year: 2024, Month: time.January, Day: 10},
	}
	res, err := newAnalyzer(t, 0).Analyze(context.Background(), ledger(), req)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	// Jan 4, 7 and 10 fall in the inclusive range.
	if len(res.Rows) != 3 {
		t.Fatalf("Rows = %d, want 3", len(res.Rows))
	}
	for _, r := range res.Rows {
		if r.UserID != "u1" {
			t.Errorf("Unexpected user %s in filtered rows", r.UserID)
		}
	}
	if res.Status != pipeline.StatusAnomaliesFound {
		t.Errorf("Status = %s", res.Status)
	}
	if len(res.OutlierSkippedUsers) != 1 {
		t.Errorf("Expected u1 to be skipped by the outlier model on 3 rows, got %v", res.OutlierSkippedUsers)
	}
}

func TestAnalyzeEmptySelection(t *testing.T) {
	res, err := newAnalyzer(t, 0).Analyze(context.Background(), ledger(), pipeline.Request{UserID: "nobody"})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Status != pipeline.StatusNoData {
		t.Errorf("Status = %s, want %s", res.Status, pipeline.StatusNoData)
	}
	if len(res.Anomalies) != 0 || len(res.Tables.TotalSpend) != 0 || res.Headline.HighestAnomaly != nil {
		t.Errorf("Expected empty result, got %+v", res)
	}
}

func TestAnalyzeRejectsContractViolation(t *testing.T) {
	ds := domain.NewDataset([]domain.Transaction{{UserID: "", TxnDate: time.Now(), TxnAmount: 1}})

	_, err := newAnalyzer(t, 0).Analyze(context.Background(), ds, pipeline.Request{})
	var cve *enrich.ContractViolationError
	if !errors.As(err, &cve) {
		t.Fatalf("Expected ContractViolationError, got %v", err)
	}
}

func TestAnalyzeRejectsBadRequest(t *testing.T) {
	a := newAnalyzer(t, 0)
	tests := []pipeline.Request{
		{From: civil.Date{Year: 2024, Month: 3, Day: 1}, To: civil.Date{Year: 2024, Month: 2, Day: 1}},
		{DuplicateRounding: detect.Rounding("fortnight")},
	}
	for _, req := range tests {
		if _, err := a.Analyze(context.Background(), ledger(), req); err == nil {
			t.Errorf("Expected error for request %+v", req)
		}
	}
	if _, err := a.Analyze(context.Background(), nil, pipeline.Request{}); err == nil {
		t.Error("Expected error for nil dataset")
	}
}
