package aggregate

import (
	"sort"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

// DefaultTopN is the number of merchants kept per user.
const DefaultTopN = 10

// MerchantCount ranks a user's merchants by number of transactions.
type MerchantCount struct {
	UserID           string
	MerchantID       string
	TransactionCount int
}

// MerchantValue ranks a user's merchants by total spend.
type MerchantValue struct {
	UserID     string
	MerchantID string
	TotalSpend float64
}

type merchantKey struct{ user, merchant string }

// TopMerchants returns, for every user, at most topN merchants ranked by
// transaction count and at most topN ranked by total spend. Rows are grouped
// by user ascending, then ordered by the metric descending; equal metrics are
// ordered by merchant ID so the result is deterministic. A non-positive topN
// yields empty tables.
func TopMerchants(rows []domain.EnrichedTransaction, topN int) ([]MerchantCount, []MerchantValue) {
	if topN <= 0 {
		return []MerchantCount{}, []MerchantValue{}
	}

	counts := make(map[merchantKey]int)
	totals := make(map[merchantKey]float64)
	for _, r := range rows {
		k := merchantKey{r.UserID, r.MerchantID}
		counts[k]++
		totals[k] += r.TxnAmount
	}

	byCount := make([]MerchantCount, 0, len(counts))
	byValue := make([]MerchantValue, 0, len(totals))
	for k, n := range counts {
		byCount = append(byCount, MerchantCount{UserID: k.user, MerchantID: k.merchant, TransactionCount: n})
		byValue = append(byValue, MerchantValue{UserID: k.user, MerchantID: k.merchant, TotalSpend: totals[k]})
	}

	sort.Slice(byCount, func(i, j int) bool {
		a, b := byCount[i], byCount[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.TransactionCount != b.TransactionCount {
			return a.TransactionCount > b.TransactionCount
		}
		return a.MerchantID < b.MerchantID
	})
	sort.Slice(byValue, func(i, j int) bool {
		a, b := byValue[i], byValue[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		if a.TotalSpend != b.TotalSpend {
			return a.TotalSpend > b.TotalSpend
		}
		return a.MerchantID < b.MerchantID
	})

	return headPerUser(byCount, topN, func(m MerchantCount) string { return m.UserID }),
		headPerUser(byValue, topN, func(m MerchantValue) string { return m.UserID })
}

// TopMerchantsForUser is TopMerchants restricted to one user's rows.
func TopMerchantsForUser(rows []domain.EnrichedTransaction, userID string, topN int) ([]MerchantCount, []MerchantValue) {
	return TopMerchants(FilterUser(rows, userID), topN)
}

// FilterUser returns the rows belonging to userID, preserving order.
func FilterUser(rows []domain.EnrichedTransaction, userID string) []domain.EnrichedTransaction {
	out := make([]domain.EnrichedTransaction, 0)
	for _, r := range rows {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

// headPerUser keeps the first n rows of every user in a user-grouped slice.
func headPerUser[T any](sorted []T, n int, user func(T) string) []T {
	out := make([]T, 0, len(sorted))
	kept := 0
	for i, row := range sorted {
		if i == 0 || user(row) != user(sorted[i-1]) {
			kept = 0
		}
		if kept < n {
			out = append(out, row)
			kept++
		}
	}
	return out
}
