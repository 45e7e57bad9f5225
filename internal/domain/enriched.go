package domain

import (
	"strconv"
)

// AmountBin is the categorical bucket of a transaction amount.
type AmountBin string

const (
	AmountBinUnder10  AmountBin = "<10"     // (-inf, 10]
	AmountBin10To100  AmountBin = "10-100"  // (10, 100]
	AmountBin100To500 AmountBin = "100-500" // (100, 500]
	AmountBin500Plus  AmountBin = "500+"    // (500, +inf)
)

// BinAmount buckets an amount using right-closed intervals at 10, 100 and 500.
func BinAmount(amount float64) AmountBin {
	switch {
	case amount <= 10:
		return AmountBinUnder10
	case amount <= 100:
		return AmountBin10To100
	case amount <= 500:
		return AmountBin100To500
	default:
		return AmountBin500Plus
	}
}

// UndefinedRatio is the textual form of a ratio whose denominator was zero.
const UndefinedRatio = "undefined"

// Ratio is a quotient that may be undefined because its denominator was zero.
// It never carries an infinite or NaN Value.
type Ratio struct {
	Value   float64
	Defined bool
}

// NewRatio divides num by den, returning an undefined Ratio when den is zero.
func NewRatio(num, den float64) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: num / den, Defined: true}
}

// String formats the ratio, or "undefined".
func (r Ratio) String() string {
	if !r.Defined {
		return UndefinedRatio
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// EnrichedTransaction is a Transaction with derived calendar, ratio and
// rolling-window features.
type EnrichedTransaction struct {
	Transaction

	YearMonth string // calendar month bucket, "2006-01"
	Weekday   int    // 0 = Monday ... 6 = Sunday
	IsWeekend bool   // Weekday >= 5
	Hour      int

	AmountBin AmountBin

	// DaysSinceLastTxn is the whole-day gap to the user's previous
	// transaction, nil for the user's first transaction.
	DaysSinceLastTxn *int

	Rolling7DSpend  float64
	Rolling30DSpend float64

	MerchantSpendRatio Ratio // TxnAmount / user's total spend
	FeeToTxnRatio      Ratio // FeeAmount / TxnAmount
}

// Key returns the physical-transaction identity used by the reconciler.
func (e EnrichedTransaction) Key() TxnKey {
	return TxnKey{
		UserID:     e.UserID,
		TxnDate:    e.TxnDate,
		TxnAmount:  e.TxnAmount,
		MerchantID: e.MerchantID,
	}
}
