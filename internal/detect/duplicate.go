package detect

import (
	"context"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

// DuplicateDetector labels every row that shares (user, timestamp, merchant,
// amount) with at least one other row. Timestamps may be rounded before
// matching to catch near-duplicates; flags keep the original timestamp.
type DuplicateDetector struct {
	rounding Rounding
}

// NewDuplicateDetector creates a duplicate detector from cfg.
func NewDuplicateDetector(cfg Config) *DuplicateDetector {
	return &DuplicateDetector{rounding: cfg.DuplicateRounding}
}

// WithRounding returns a copy of the detector using r.
func (d *DuplicateDetector) WithRounding(r Rounding) *DuplicateDetector {
	return &DuplicateDetector{rounding: r}
}

// Type returns AnomalyDuplicate.
func (d *DuplicateDetector) Type() domain.AnomalyType {
	return domain.AnomalyDuplicate
}

type duplicateKey struct {
	userID     string
	date       int64
	merchantID string
	amount     float64
}

// Detect matches rows structurally.
func (d *DuplicateDetector) Detect(ctx context.Context, rows []domain.EnrichedTransaction) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	keys := make([]duplicateKey, len(rows))
	counts := make(map[duplicateKey]int, len(rows))
	for i, r := range rows {
		keys[i] = duplicateKey{
			userID:     r.UserID,
			date:       d.rounding.Apply(r.TxnDate).UnixNano(),
			merchantID: r.MerchantID,
			amount:     r.TxnAmount,
		}
		counts[keys[i]]++
	}

	out := Output{Type: domain.AnomalyDuplicate, Flags: []domain.Flag{}}
	for i, r := range rows {
		if counts[keys[i]] >= 2 {
			out.Flags = append(out.Flags, domain.Flag{TxnKey: r.Key(), Type: domain.AnomalyDuplicate})
		}
	}
	return out, nil
}
