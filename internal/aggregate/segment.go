package aggregate

import (
	"github.com/dvloznov/spend-analytics/internal/stats"
)

// Tier is a population-relative spend class.
type Tier string

const (
	TierBronze Tier = "Bronze"
	TierSilver Tier = "Silver"
	TierGold   Tier = "Gold"
)

const (
	silverQuantile = 0.2
	goldQuantile   = 0.7
)

// UserTier is a Total_Spend row with its assigned tier.
type UserTier struct {
	UserSpend
	UserTier Tier
}

// SegmentUsers assigns Gold to users at or above the 70th percentile of total
// spend, Silver to users at or above the 20th, and Bronze to the rest. The
// boundaries come from the given population, so segmenting a subset moves
// them.
func SegmentUsers(totals []UserSpend) []UserTier {
	out := make([]UserTier, 0, len(totals))
	if len(totals) == 0 {
		return out
	}

	values := make([]float64, len(totals))
	for i, t := range totals {
		values[i] = t.TotalSpend
	}
	q, _ := stats.Quantiles(values, silverQuantile, goldQuantile)

	for _, t := range totals {
		tier := TierBronze
		switch {
		case t.TotalSpend >= q[1]:
			tier = TierGold
		case t.TotalSpend >= q[0]:
			tier = TierSilver
		}
		out = append(out, UserTier{UserSpend: t, UserTier: tier})
	}
	return out
}
