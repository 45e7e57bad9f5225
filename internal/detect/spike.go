package detect

import (
	"context"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/stats"
)

// SpikeDetector labels every transaction at or above the user's own amount
// percentile. It has no minimum sample size, so small users may over-flag.
type SpikeDetector struct {
	percentile float64
}

// NewSpikeDetector creates a spike detector from cfg.
func NewSpikeDetector(cfg Config) *SpikeDetector {
	return &SpikeDetector{percentile: cfg.SpikePercentile}
}

// Type returns AnomalySpendingSpike.
func (d *SpikeDetector) Type() domain.AnomalyType {
	return domain.AnomalySpendingSpike
}

// Detect applies the percentile threshold per user.
func (d *SpikeDetector) Detect(ctx context.Context, rows []domain.EnrichedTransaction) (Output, error) {
	out := Output{Type: domain.AnomalySpendingSpike, Flags: []domain.Flag{}}
	for _, g := range groupByUser(rows) {
		if err := ctx.Err(); err != nil {
			return Output{}, err
		}
		threshold, ok := stats.Quantile(amounts(g.rows), d.percentile/100)
		if !ok {
			continue
		}
		for _, r := range g.rows {
			if r.TxnAmount >= threshold {
				out.Flags = append(out.Flags, domain.Flag{TxnKey: r.Key(), Type: domain.AnomalySpendingSpike})
			}
		}
	}
	return out, nil
}
