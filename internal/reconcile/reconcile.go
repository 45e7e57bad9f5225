// Package reconcile unions detector outputs into one multi-label record per
// physical transaction and summarizes the result per user and type.
package reconcile

import (
	"sort"

	"github.com/dvloznov/spend-analytics/internal/detect"
	"github.com/dvloznov/spend-analytics/internal/domain"
)

type physicalKey struct {
	userID     string
	date       int64
	amount     float64
	merchantID string
}

func keyOf(k domain.TxnKey) physicalKey {
	return physicalKey{userID: k.UserID, date: k.TxnDate.UnixNano(), amount: k.TxnAmount, merchantID: k.MerchantID}
}

// Merge collapses all flags sharing (user, timestamp, amount, merchant) into
// one Anomaly carrying every matching label. Flags without a known label are
// dropped. Outputs may be empty. The result is ordered by key.
func Merge(outputs ...detect.Output) []domain.Anomaly {
	index := make(map[physicalKey]int)
	merged := make([]domain.Anomaly, 0)

	for _, out := range outputs {
		for _, f := range out.Flags {
			labels := domain.NewLabelSet(f.Type)
			if labels.IsEmpty() {
				continue
			}
			k := keyOf(f.TxnKey)
			if i, ok := index[k]; ok {
				merged[i].Types = merged[i].Types.Union(labels)
				continue
			}
			index[k] = len(merged)
			merged = append(merged, domain.Anomaly{TxnKey: f.TxnKey, Types: labels})
		}
	}

	domain.SortAnomalies(merged)
	return merged
}

// Summarize counts anomalies per (user, type). An anomaly with several labels
// counts once under each of them.
func Summarize(anomalies []domain.Anomaly) []domain.AnomalyCount {
	type key struct {
		userID string
		typ    domain.AnomalyType
	}
	counts := make(map[key]int)
	for _, a := range anomalies {
		for _, t := range a.Types.Types() {
			counts[key{a.UserID, t}]++
		}
	}

	out := make([]domain.AnomalyCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, domain.AnomalyCount{UserID: k.userID, AnomalyType: k.typ, AnomalyCount: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].AnomalyType < out[j].AnomalyType
	})
	return out
}

// FilterByType keeps the anomalies whose label set contains t.
func FilterByType(anomalies []domain.Anomaly, t domain.AnomalyType) []domain.Anomaly {
	out := make([]domain.Anomaly, 0)
	for _, a := range anomalies {
		if a.Types.Has(t) {
			out = append(out, a)
		}
	}
	return out
}

// HighestValue returns the anomaly with the largest amount, ties going to the
// first in key order. ok is false when there are no anomalies.
func HighestValue(anomalies []domain.Anomaly) (top domain.Anomaly, ok bool) {
	for i, a := range anomalies {
		if i == 0 || a.TxnAmount > top.TxnAmount {
			top = a
			ok = true
		}
	}
	return top, ok
}
