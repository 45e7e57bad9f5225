// Package aggregate computes read-only spend projections over an enriched
// transaction table. Every function is pure: it never mutates its input and
// returns an empty result for empty input.
package aggregate

import (
	"sort"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

// UserSpend is one row of the Total_Spend table.
type UserSpend struct {
	UserID     string
	TotalSpend float64
}

// UserMonthlySpend is one row of the per-user monthly trend.
type UserMonthlySpend struct {
	UserID       string
	YearMonth    string
	MonthlySpend float64
}

// TypeSpend is total spend per transaction type.
type TypeSpend struct {
	TxnType    string
	TotalSpend float64
}

// Frequency is the transaction count and mean amount of a user.
type Frequency struct {
	UserID                  string
	TransactionCount        int
	AverageTransactionValue float64
}

// CurrencySpend is total spend per currency.
type CurrencySpend struct {
	Currency   string
	TotalSpend float64
}

// FeeSummary totals fees and averages the defined fee-to-amount ratios.
// Rows whose ratio is undefined are counted, never averaged.
type FeeSummary struct {
	TotalFees       float64
	AverageFeeRatio domain.Ratio
	UndefinedRatios int
}

// TotalSpend sums TxnAmount per user.
func TotalSpend(rows []domain.EnrichedTransaction) []UserSpend {
	totals := make(map[string]float64)
	for _, r := range rows {
		totals[r.UserID] += r.TxnAmount
	}

	out := make([]UserSpend, 0, len(totals))
	for _, user := range sortedKeys(totals) {
		out = append(out, UserSpend{UserID: user, TotalSpend: totals[user]})
	}
	return out
}

// MonthlySpend sums TxnAmount per user and calendar month.
func MonthlySpend(rows []domain.EnrichedTransaction) []UserMonthlySpend {
	type key struct{ user, month string }
	totals := make(map[key]float64)
	for _, r := range rows {
		totals[key{r.UserID, r.YearMonth}] += r.TxnAmount
	}

	out := make([]UserMonthlySpend, 0, len(totals))
	for k, v := range totals {
		out = append(out, UserMonthlySpend{UserID: k.user, YearMonth: k.month, MonthlySpend: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].YearMonth < out[j].YearMonth
	})
	return out
}

// AmountDistribution returns the raw amounts in row order, for histograms.
func AmountDistribution(rows []domain.EnrichedTransaction) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.TxnAmount
	}
	return out
}

// SpendByType sums TxnAmount per transaction type across all users.
func SpendByType(rows []domain.EnrichedTransaction) []TypeSpend {
	totals := make(map[string]float64)
	for _, r := range rows {
		totals[r.TxnType] += r.TxnAmount
	}

	out := make([]TypeSpend, 0, len(totals))
	for _, t := range sortedKeys(totals) {
		out = append(out, TypeSpend{TxnType: t, TotalSpend: totals[t]})
	}
	return out
}

// Frequencies returns the transaction count and average amount per user.
func Frequencies(rows []domain.EnrichedTransaction) []Frequency {
	counts := make(map[string]int)
	totals := make(map[string]float64)
	for _, r := range rows {
		counts[r.UserID]++
		totals[r.UserID] += r.TxnAmount
	}

	out := make([]Frequency, 0, len(totals))
	for _, user := range sortedKeys(totals) {
		out = append(out, Frequency{
			UserID:                  user,
			TransactionCount:        counts[user],
			AverageTransactionValue: totals[user] / float64(counts[user]),
		})
	}
	return out
}

// CurrencyBreakdown sums TxnAmount per currency. Rows without a currency are
// ignored, so a dataset without the column yields an empty table.
func CurrencyBreakdown(rows []domain.EnrichedTransaction) []CurrencySpend {
	totals := make(map[string]float64)
	for _, r := range rows {
		if r.Currency == nil {
			continue
		}
		totals[*r.Currency] += r.TxnAmount
	}

	out := make([]CurrencySpend, 0, len(totals))
	for _, c := range sortedKeys(totals) {
		out = append(out, CurrencySpend{Currency: c, TotalSpend: totals[c]})
	}
	return out
}

// FeeAnalysis totals FeeAmount and averages the defined FeeToTxnRatio values.
func FeeAnalysis(rows []domain.EnrichedTransaction) FeeSummary {
	var summary FeeSummary
	var ratioSum float64
	var defined int
	for _, r := range rows {
		summary.TotalFees += r.FeeAmount
		if !r.FeeToTxnRatio.Defined {
			summary.UndefinedRatios++
			continue
		}
		ratioSum += r.FeeToTxnRatio.Value
		defined++
	}
	summary.AverageFeeRatio = domain.NewRatio(ratioSum, float64(defined))
	return summary
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
