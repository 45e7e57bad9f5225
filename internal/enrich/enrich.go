// Package enrich derives calendar, ratio and rolling-window features from a
// cleaned transaction dataset.
package enrich

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/logger"
)

const day = 24 * time.Hour

// Report summarises the data-quality conditions seen while enriching.
// None of them stop the run.
type Report struct {
	Rows  int
	Users int

	// DuplicateRawRows counts rows repeating an earlier row's
	// (UserID, TXN_DATE, TXN_AMOUNT).
	DuplicateRawRows int

	// UndefinedFeeRatios counts zero-amount rows whose fee ratio is undefined.
	UndefinedFeeRatios int

	// UndefinedMerchantRatios counts rows of users whose total spend is zero.
	UndefinedMerchantRatios int
}

// Result is the enriched table, sorted by user then timestamp, plus its report.
type Result struct {
	Rows   []domain.EnrichedTransaction
	Report Report
}

// Enrich validates the dataset and derives the enriched table.
// The output is a pure function of the dataset contents.
func Enrich(ctx context.Context, ds *domain.Dataset) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("Enrich: %w", err)
	}
	log := logger.FromContext(ctx)

	txns := ds.Transactions()
	if err := validate(txns); err != nil {
		return nil, fmt.Errorf("Enrich: %w", err)
	}

	sort.SliceStable(txns, func(i, j int) bool {
		if txns[i].UserID != txns[j].UserID {
			return txns[i].UserID < txns[j].UserID
		}
		return txns[i].TxnDate.Before(txns[j].TxnDate)
	})

	rows := make([]domain.EnrichedTransaction, len(txns))
	report := Report{Rows: len(txns)}

	for start := 0; start < len(txns); {
		end := start
		for end < len(txns) && txns[end].UserID == txns[start].UserID {
			end++
		}
		enrichUser(txns[start:end], rows[start:end], &report)
		report.Users++
		start = end
	}

	report.DuplicateRawRows = countDuplicateRawRows(ds.Transactions())

	if report.DuplicateRawRows > 0 {
		log.Warn().
			Int("duplicate_rows", report.DuplicateRawRows).
			Msg("Duplicate transactions found based on UserID + TXN_DATE + TXN_AMOUNT")
	}
	if report.UndefinedFeeRatios > 0 {
		log.Warn().
			Int("rows", report.UndefinedFeeRatios).
			Msg("Zero-amount transactions have an undefined fee ratio")
	}
	if report.UndefinedMerchantRatios > 0 {
		log.Warn().
			Int("rows", report.UndefinedMerchantRatios).
			Msg("Users with zero total spend have an undefined merchant spend ratio")
	}
	log.Debug().Int("rows", report.Rows).Int("users", report.Users).Msg("Enrichment complete")

	return &Result{Rows: rows, Report: report}, nil
}

// enrichUser fills out for one user's transactions, already sorted by time.
func enrichUser(txns []domain.Transaction, out []domain.EnrichedTransaction, report *Report) {
	var total float64
	for _, t := range txns {
		total += t.TxnAmount
	}

	rolling7, rolling30 := dailyRollingSums(txns)

	for i, t := range txns {
		e := domain.EnrichedTransaction{
			Transaction: t,
			YearMonth:   t.TxnDate.Format("2006-01"),
			Weekday:     isoWeekday(t.TxnDate),
			Hour:        t.TxnDate.Hour(),
			AmountBin:   domain.BinAmount(t.TxnAmount),
		}
		e.IsWeekend = e.Weekday >= 5

		if i > 0 {
			gap := int(t.TxnDate.Sub(txns[i-1].TxnDate) / day)
			e.DaysSinceLastTxn = &gap
		}

		d := civil.DateOf(t.TxnDate)
		e.Rolling7DSpend = rolling7[d]
		e.Rolling30DSpend = rolling30[d]

		e.MerchantSpendRatio = domain.NewRatio(t.TxnAmount, total)
		if !e.MerchantSpendRatio.Defined {
			report.UndefinedMerchantRatios++
		}
		e.FeeToTxnRatio = domain.NewRatio(t.FeeAmount, t.TxnAmount)
		if !e.FeeToTxnRatio.Defined {
			report.UndefinedFeeRatios++
		}

		out[i] = e
	}
}

// dailyRollingSums totals the user's spend per calendar day, then sums each
// day's trailing 7 and 30 day windows, inclusive of the day itself.
func dailyRollingSums(txns []domain.Transaction) (map[civil.Date]float64, map[civil.Date]float64) {
	var days []civil.Date
	totals := make(map[civil.Date]float64)
	for _, t := range txns {
		d := civil.DateOf(t.TxnDate)
		if _, ok := totals[d]; !ok {
			days = append(days, d)
		}
		totals[d] += t.TxnAmount
	}

	return trailingSums(days, totals, 7), trailingSums(days, totals, 30)
}

// trailingSums expects days in ascending order.
func trailingSums(days []civil.Date, totals map[civil.Date]float64, window int) map[civil.Date]float64 {
	out := make(map[civil.Date]float64, len(days))
	lo := 0
	var sum float64
	for _, d := range days {
		sum += totals[d]
		for d.DaysSince(days[lo]) >= window {
			sum -= totals[days[lo]]
			lo++
		}
		out[d] = sum
	}
	return out
}

// isoWeekday maps Go's Sunday-first weekday to 0 = Monday ... 6 = Sunday.
func isoWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func validate(txns []domain.Transaction) error {
	var emptyUser, zeroDate, badAmount, badFee int
	for _, t := range txns {
		if strings.TrimSpace(t.UserID) == "" {
			emptyUser++
		}
		if t.TxnDate.IsZero() {
			zeroDate++
		}
		if math.IsNaN(t.TxnAmount) || math.IsInf(t.TxnAmount, 0) {
			badAmount++
		}
		if math.IsNaN(t.FeeAmount) || math.IsInf(t.FeeAmount, 0) {
			badFee++
		}
	}

	var violations []Violation
	if badAmount > 0 {
		violations = append(violations, Violation{Column: "TXN_AMOUNT", Reason: "must be a finite number", Rows: badAmount})
	}
	if zeroDate > 0 {
		violations = append(violations, Violation{Column: "TXN_DATE", Reason: "cannot be null", Rows: zeroDate})
	}
	if emptyUser > 0 {
		violations = append(violations, Violation{Column: "UserID", Reason: "cannot be null", Rows: emptyUser})
	}
	if badFee > 0 {
		violations = append(violations, Violation{Column: "FEE_AMOUNT", Reason: "must be a finite number", Rows: badFee})
	}
	if len(violations) > 0 {
		return &ContractViolationError{Violations: violations}
	}
	return nil
}

type rawKey struct {
	userID string
	date   int64
	amount float64
}

func countDuplicateRawRows(txns []domain.Transaction) int {
	seen := make(map[rawKey]struct{}, len(txns))
	dupes := 0
	for _, t := range txns {
		k := rawKey{userID: t.UserID, date: t.TxnDate.UnixNano(), amount: t.TxnAmount}
		if _, ok := seen[k]; ok {
			dupes++
			continue
		}
		seen[k] = struct{}{}
	}
	return dupes
}
