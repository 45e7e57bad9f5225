package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// AnomalyType is the label a detector attaches to a transaction.
type AnomalyType string

const (
	AnomalyDuplicate     AnomalyType = "Duplicate Transaction"
	AnomalyOutlier       AnomalyType = "Outlier"
	AnomalySpendingSpike AnomalyType = "Spending Spike"
)

// LabelSeparator joins the labels of a multi-label anomaly at the export boundary.
const LabelSeparator = "; "

// anomalyTypes lists every type in alphabetical order; the bit of a type in a
// LabelSet is its index here.
var anomalyTypes = []AnomalyType{AnomalyDuplicate, AnomalyOutlier, AnomalySpendingSpike}

// AnomalyTypes returns all anomaly types in alphabetical order.
func AnomalyTypes() []AnomalyType {
	out := make([]AnomalyType, len(anomalyTypes))
	copy(out, anomalyTypes)
	return out
}

// ParseAnomalyType validates a label.
func ParseAnomalyType(s string) (AnomalyType, error) {
	for _, t := range anomalyTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown anomaly type %q", s)
}

func (t AnomalyType) bit() LabelSet {
	for i, known := range anomalyTypes {
		if known == t {
			return 1 << i
		}
	}
	return 0
}

// LabelSet is a set of anomaly types attached to one physical transaction.
type LabelSet uint8

// NewLabelSet builds a set from the given types.
func NewLabelSet(types ...AnomalyType) LabelSet {
	var s LabelSet
	for _, t := range types {
		s = s.Add(t)
	}
	return s
}

// Add returns the set with t included. Unknown types are ignored.
func (s LabelSet) Add(t AnomalyType) LabelSet {
	return s | t.bit()
}

// Union returns the set of labels present in either set.
func (s LabelSet) Union(other LabelSet) LabelSet {
	return s | other
}

// Has reports whether t is in the set.
func (s LabelSet) Has(t AnomalyType) bool {
	b := t.bit()
	return b != 0 && s&b != 0
}

// IsEmpty reports whether the set has no labels.
func (s LabelSet) IsEmpty() bool {
	return s == 0
}

// Len returns the number of labels.
func (s LabelSet) Len() int {
	return len(s.Types())
}

// Types returns the labels in alphabetical order.
func (s LabelSet) Types() []AnomalyType {
	var out []AnomalyType
	for _, t := range anomalyTypes {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// String joins the labels alphabetically with LabelSeparator.
func (s LabelSet) String() string {
	types := s.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, LabelSeparator)
}

// ParseLabelSet reads the joined form produced by String.
func ParseLabelSet(joined string) (LabelSet, error) {
	var s LabelSet
	if strings.TrimSpace(joined) == "" {
		return s, nil
	}
	for _, part := range strings.Split(joined, ";") {
		t, err := ParseAnomalyType(strings.TrimSpace(part))
		if err != nil {
			return 0, err
		}
		s = s.Add(t)
	}
	return s, nil
}

// TxnKey identifies a physical transaction.
type TxnKey struct {
	UserID     string
	TxnDate    time.Time
	TxnAmount  float64
	MerchantID string
}

// CompareKeys orders keys by user, timestamp, amount, then merchant.
func CompareKeys(a, b TxnKey) int {
	if c := strings.Compare(a.UserID, b.UserID); c != 0 {
		return c
	}
	if c := a.TxnDate.Compare(b.TxnDate); c != 0 {
		return c
	}
	switch {
	case a.TxnAmount < b.TxnAmount:
		return -1
	case a.TxnAmount > b.TxnAmount:
		return 1
	}
	return strings.Compare(a.MerchantID, b.MerchantID)
}

// Flag is one detector hit: a transaction key and exactly one type.
type Flag struct {
	TxnKey
	Type AnomalyType
}

// Anomaly is a reconciled ledger entry: one physical transaction with every
// label that matched it.
type Anomaly struct {
	TxnKey
	Types LabelSet
}

// AnomalyCount is one row of the per-user anomaly summary.
type AnomalyCount struct {
	UserID       string
	AnomalyType  AnomalyType
	AnomalyCount int
}

// SortAnomalies orders anomalies by key.
func SortAnomalies(anomalies []Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		return CompareKeys(anomalies[i].TxnKey, anomalies[j].TxnKey) < 0
	})
}
