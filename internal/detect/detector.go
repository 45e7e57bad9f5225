// Package detect holds the three independent anomaly scanners: a per-user
// isolation forest, a per-user percentile spike check and a structural
// duplicate match.
package detect

import (
	"context"
	"sort"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

// Detector scans enriched rows and flags each hit with exactly one type.
// Implementations never modify rows.
type Detector interface {
	Type() domain.AnomalyType
	Detect(ctx context.Context, rows []domain.EnrichedTransaction) (Output, error)
}

// Output is the labeled subset produced by one detector.
type Output struct {
	Type  domain.AnomalyType
	Flags []domain.Flag

	// Skipped lists users the detector did not evaluate because they had too
	// few transactions. It is empty for detectors without a minimum.
	Skipped []string
}

// All returns the outlier, spike and duplicate detectors built from cfg.
func All(cfg Config) []Detector {
	return []Detector{
		NewOutlierDetector(cfg),
		NewSpikeDetector(cfg),
		NewDuplicateDetector(cfg),
	}
}

type userRows struct {
	userID string
	rows   []domain.EnrichedTransaction
}

// groupByUser partitions rows by user, users ascending, row order kept.
func groupByUser(rows []domain.EnrichedTransaction) []userRows {
	index := make(map[string]int)
	var groups []userRows
	for _, r := range rows {
		i, ok := index[r.UserID]
		if !ok {
			i = len(groups)
			index[r.UserID] = i
			groups = append(groups, userRows{userID: r.UserID})
		}
		groups[i].rows = append(groups[i].rows, r)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].userID < groups[j].userID })
	return groups
}

func amounts(rows []domain.EnrichedTransaction) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = r.TxnAmount
	}
	return out
}
