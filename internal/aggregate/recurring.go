package aggregate

import (
	"math"
	"sort"
	"time"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

const (
	// DefaultRecurringIntervalDays is the target gap of a monthly payment.
	DefaultRecurringIntervalDays = 30
	// DefaultRecurringToleranceDays is the allowed distance from the target.
	DefaultRecurringToleranceDays = 5

	minRecurringTxns = 3
)

// RecurringOptions tunes recurring payment detection.
type RecurringOptions struct {
	IntervalDays  float64
	ToleranceDays float64
}

// DefaultRecurringOptions returns the 30 +/- 5 day monthly pattern.
func DefaultRecurringOptions() RecurringOptions {
	return RecurringOptions{
		IntervalDays:  DefaultRecurringIntervalDays,
		ToleranceDays: DefaultRecurringToleranceDays,
	}
}

// RecurringPayment is a (user, merchant) pair paid at a regular interval.
type RecurringPayment struct {
	UserID             string
	MerchantID         string
	AvgDaysBetweenTxns float64
}

// RecurringPayments flags every (user, merchant) pair with at least three
// transactions whose mean gap, in whole days, is within ToleranceDays of
// IntervalDays. Pairs with fewer transactions are never considered.
func RecurringPayments(rows []domain.EnrichedTransaction, opts RecurringOptions) []RecurringPayment {
	dates := make(map[merchantKey][]time.Time)
	for _, r := range rows {
		k := merchantKey{r.UserID, r.MerchantID}
		dates[k] = append(dates[k], r.TxnDate)
	}

	out := make([]RecurringPayment, 0)
	for k, ts := range dates {
		if len(ts) < minRecurringTxns {
			continue
		}
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

		var gapSum float64
		for i := 1; i < len(ts); i++ {
			gapSum += math.Floor(ts[i].Sub(ts[i-1]).Hours() / 24)
		}
		avg := gapSum / float64(len(ts)-1)

		if math.Abs(avg-opts.IntervalDays) <= opts.ToleranceDays {
			out = append(out, RecurringPayment{UserID: k.user, MerchantID: k.merchant, AvgDaysBetweenTxns: avg})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].MerchantID < out[j].MerchantID
	})
	return out
}
