package aggregate

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/domain"
)

// DailySpend is total spend on one calendar date.
type DailySpend struct {
	Date       civil.Date
	DailySpend float64
}

// WeeklySpend is total spend in one ISO week. Week numbers restart every ISO
// year, so ISOYear is part of the key.
type WeeklySpend struct {
	ISOYear     int
	ISOWeek     int
	WeeklySpend float64
}

// PeriodSpend is total spend in one calendar month.
type PeriodSpend struct {
	YearMonth    string
	MonthlySpend float64
}

// Trends groups the three temporal projections.
type Trends struct {
	Daily   []DailySpend
	Weekly  []WeeklySpend
	Monthly []PeriodSpend
}

// DayType labels weekday and weekend spend.
type DayType string

const (
	DayTypeWeekday DayType = "Weekday"
	DayTypeWeekend DayType = "Weekend"
)

// DayTypeSpend is total spend on weekdays or weekends.
type DayTypeSpend struct {
	DayType    DayType
	TotalSpend float64
}

// HourSpend is total spend in one hour of the day.
type HourSpend struct {
	Hour       int
	TotalSpend float64
}

// RollingAvg is a transaction with the mean amount of the user's
// transactions inside the trailing window ending at it.
type RollingAvg struct {
	domain.TxnKey
	RollingAvgSpend float64
}

// TemporalTrends sums spend per calendar date, ISO week and calendar month.
func TemporalTrends(rows []domain.EnrichedTransaction) Trends {
	daily := make(map[civil.Date]float64)
	type week struct{ year, week int }
	weekly := make(map[week]float64)
	monthly := make(map[string]float64)

	for _, r := range rows {
		daily[civil.DateOf(r.TxnDate)] += r.TxnAmount
		y, w := r.TxnDate.ISOWeek()
		weekly[week{y, w}] += r.TxnAmount
		monthly[r.YearMonth] += r.TxnAmount
	}

	trends := Trends{
		Daily:   make([]DailySpend, 0, len(daily)),
		Weekly:  make([]WeeklySpend, 0, len(weekly)),
		Monthly: make([]PeriodSpend, 0, len(monthly)),
	}
	for d, v := range daily {
		trends.Daily = append(trends.Daily, DailySpend{Date: d, DailySpend: v})
	}
	sort.Slice(trends.Daily, func(i, j int) bool {
		return trends.Daily[i].Date.Before(trends.Daily[j].Date)
	})

	for k, v := range weekly {
		trends.Weekly = append(trends.Weekly, WeeklySpend{ISOYear: k.year, ISOWeek: k.week, WeeklySpend: v})
	}
	sort.Slice(trends.Weekly, func(i, j int) bool {
		if trends.Weekly[i].ISOYear != trends.Weekly[j].ISOYear {
			return trends.Weekly[i].ISOYear < trends.Weekly[j].ISOYear
		}
		return trends.Weekly[i].ISOWeek < trends.Weekly[j].ISOWeek
	})

	for _, m := range sortedKeys(monthly) {
		trends.Monthly = append(trends.Monthly, PeriodSpend{YearMonth: m, MonthlySpend: monthly[m]})
	}
	return trends
}

// WeekdayVsWeekend splits spend by day type. Day types with no rows are
// omitted.
func WeekdayVsWeekend(rows []domain.EnrichedTransaction) []DayTypeSpend {
	var weekday, weekend float64
	var hasWeekday, hasWeekend bool
	for _, r := range rows {
		if r.IsWeekend {
			weekend += r.TxnAmount
			hasWeekend = true
		} else {
			weekday += r.TxnAmount
			hasWeekday = true
		}
	}

	out := make([]DayTypeSpend, 0, 2)
	if hasWeekday {
		out = append(out, DayTypeSpend{DayType: DayTypeWeekday, TotalSpend: weekday})
	}
	if hasWeekend {
		out = append(out, DayTypeSpend{DayType: DayTypeWeekend, TotalSpend: weekend})
	}
	return out
}

// PeakHours sums spend per hour of day, for the hours that have rows.
func PeakHours(rows []domain.EnrichedTransaction) []HourSpend {
	var totals [24]float64
	var seen [24]bool
	for _, r := range rows {
		totals[r.Hour] += r.TxnAmount
		seen[r.Hour] = true
	}

	out := make([]HourSpend, 0, 24)
	for h := range totals {
		if seen[h] {
			out = append(out, HourSpend{Hour: h, TotalSpend: totals[h]})
		}
	}
	return out
}

// RollingSpend computes, for every transaction, the mean amount of the same
// user's transactions in the window (t - windowDays, t]. Rows sharing a
// timestamp enter the window in input order. Output is ordered by user then
// timestamp. A non-positive window yields an empty table.
func RollingSpend(rows []domain.EnrichedTransaction, windowDays int) []RollingAvg {
	if windowDays <= 0 {
		return []RollingAvg{}
	}
	window := time.Duration(windowDays) * 24 * time.Hour

	sorted := sortedByUserTime(rows)
	out := make([]RollingAvg, len(sorted))

	lo := 0
	var sum float64
	for i, r := range sorted {
		if i == 0 || r.UserID != sorted[i-1].UserID {
			lo, sum = i, 0
		}
		sum += r.TxnAmount
		for !sorted[lo].TxnDate.After(r.TxnDate.Add(-window)) {
			sum -= sorted[lo].TxnAmount
			lo++
		}
		out[i] = RollingAvg{TxnKey: r.Key(), RollingAvgSpend: sum / float64(i-lo+1)}
	}
	return out
}

func sortedByUserTime(rows []domain.EnrichedTransaction) []domain.EnrichedTransaction {
	sorted := make([]domain.EnrichedTransaction, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UserID != sorted[j].UserID {
			return sorted[i].UserID < sorted[j].UserID
		}
		return sorted[i].TxnDate.Before(sorted[j].TxnDate)
	})
	return sorted
}
