package pipeline

import (
	"github.com/dvloznov/spend-analytics/internal/aggregate"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/enrich"
	"github.com/dvloznov/spend-analytics/internal/reconcile"
)

// Status tells callers whether an empty anomaly ledger means "clean" or
// "not enough data to say".
type Status string

const (
	StatusNoData           Status = "NO_DATA"
	StatusInsufficientData Status = "INSUFFICIENT_DATA"
	StatusNoAnomalies      Status = "NO_ANOMALIES"
	StatusAnomaliesFound   Status = "ANOMALIES_FOUND"
)

// Tables holds every aggregation output of a run.
type Tables struct {
	TotalSpend          []aggregate.UserSpend
	MonthlySpend        []aggregate.UserMonthlySpend
	AmountDistribution  []float64
	SpendByType         []aggregate.TypeSpend
	TopMerchantsByCount []aggregate.MerchantCount
	TopMerchantsByValue []aggregate.MerchantValue
	Frequency           []aggregate.Frequency
	Trends              aggregate.Trends
	WeekdayVsWeekend    []aggregate.DayTypeSpend
	PeakHours           []aggregate.HourSpend
	Currency            []aggregate.CurrencySpend
	Fees                aggregate.FeeSummary
	RollingWindowDays   int
	RollingSpend        []aggregate.RollingAvg
	Recurring           []aggregate.RecurringPayment
	Tiers               []aggregate.UserTier
}

// Headline is the overview shown above the detailed tables.
type Headline struct {
	TotalTransactions int
	TotalSpend        float64
	TotalAnomalies    int
	// HighestAnomaly is the anomaly with the largest amount, nil when none.
	HighestAnomaly *domain.Anomaly
}

// Result is the outcome of one analysis run. It is shared with the memo
// cache and must be treated as read-only.
type Result struct {
	RunID       string
	Fingerprint string
	Request     Request
	Status      Status

	Report enrich.Report
	Rows   []domain.EnrichedTransaction
	Tables Tables

	Anomalies []domain.Anomaly
	Summary   []domain.AnomalyCount

	// OutlierSkippedUsers had too few transactions for the outlier model.
	OutlierSkippedUsers []string
	Headline            Headline
}

// AnomaliesOfType returns the anomalies carrying t. An empty t returns all.
func (r *Result) AnomaliesOfType(t domain.AnomalyType) []domain.Anomaly {
	if t == "" {
		return r.Anomalies
	}
	return reconcile.FilterByType(r.Anomalies, t)
}
