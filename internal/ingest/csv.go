package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/shopspring/decimal"
)

// Column names of the ledger CSV.
const (
	ColUserID     = "UserID"
	ColTxnDate    = "TXN_DATE"
	ColTxnAmount  = "TXN_AMOUNT"
	ColFeeAmount  = "FEE_AMOUNT"
	ColMerchantID = "MERC_TXN_ID"
	ColTxnType    = "TXN_TYPE"
	ColCurrency   = "CURRENCY"
)

// MandatoryColumns must all be present in the header.
var MandatoryColumns = []string{ColUserID, ColTxnDate, ColTxnAmount, ColFeeAmount, ColMerchantID, ColTxnType}

// ErrMissingColumn is returned when the header lacks a mandatory column.
var ErrMissingColumn = errors.New("missing mandatory column")

// dateLayouts are tried in order. Layouts without a zone are read as UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Report counts what the cleaning step did.
type Report struct {
	RowsRead           int
	RowsDropped        int
	UnparseableAmounts int // TXN_AMOUNT values coerced to null
	UnparseableDates   int // TXN_DATE values coerced to null
	UnparseableFees    int // FEE_AMOUNT values coerced to null, then 0
	HasCurrency        bool
}

// Result is a cleaned dataset and its report.
type Result struct {
	Dataset *domain.Dataset
	Report  Report
}

// LoadFile reads and cleans a CSV file from local disk.
func LoadFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: open %q: %w", path, err)
	}
	defer f.Close()

	res, err := ReadCSV(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("LoadFile: %w", err)
	}
	return res, nil
}

// ReadCSV parses a ledger CSV and cleans it: amounts and dates that do not
// parse become null, a null fee becomes 0, and rows whose user, date or
// amount is null are dropped. Extra columns are ignored.
func ReadCSV(ctx context.Context, r io.Reader) (*Result, error) {
	log := logger.FromContext(ctx)

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("ReadCSV: empty input: %w", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: reading header: %w", err)
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, fmt.Errorf("ReadCSV: %w", err)
	}
	currencyCol, hasCurrency := idx[ColCurrency]

	var (
		report = Report{HasCurrency: hasCurrency}
		txns   []domain.Transaction
		line   = 1
	)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("ReadCSV: line %d: %w", line, err)
		}
		if line%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("ReadCSV: %w", err)
			}
		}
		report.RowsRead++

		field := func(col string) string {
			i := idx[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		userID := field(ColUserID)

		rawDate := field(ColTxnDate)
		txnDate, dateOK := parseDate(rawDate)
		if !dateOK && rawDate != "" {
			report.UnparseableDates++
		}

		rawAmount := field(ColTxnAmount)
		amount, amountOK := parseAmount(rawAmount)
		if !amountOK && rawAmount != "" {
			report.UnparseableAmounts++
		}

		rawFee := field(ColFeeAmount)
		fee, feeOK := parseAmount(rawFee)
		if !feeOK {
			if rawFee != "" {
				report.UnparseableFees++
			}
			fee = 0
		}

		if userID == "" || !dateOK || !amountOK {
			report.RowsDropped++
			log.Debug().
				Int("line", line).
				Str("user_id", userID).
				Bool("date_ok", dateOK).
				Bool("amount_ok", amountOK).
				Msg("Dropping row with null mandatory field")
			continue
		}

		t := domain.Transaction{
			UserID:     userID,
			TxnDate:    txnDate,
			TxnAmount:  amount,
			FeeAmount:  fee,
			MerchantID: field(ColMerchantID),
			TxnType:    field(ColTxnType),
		}
		if hasCurrency && currencyCol < len(record) {
			if c := strings.TrimSpace(record[currencyCol]); c != "" {
				t.Currency = &c
			}
		}
		txns = append(txns, t)
	}

	if report.RowsDropped > 0 {
		log.Warn().
			Int("rows_read", report.RowsRead).
			Int("rows_dropped", report.RowsDropped).
			Msg("Dropped rows with null UserID, TXN_DATE or TXN_AMOUNT")
	}

	return &Result{Dataset: domain.NewDataset(txns), Report: report}, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}

	var missing []string
	for _, col := range MandatoryColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
