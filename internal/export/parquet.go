package export

import (
	"fmt"
	"io"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type enrichedParquetRow struct {
	UserID             string   `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxnDate            int64    `parquet:"name=txn_date, type=INT64, logicaltype=TIMESTAMP, logicaltype.isadjustedtoutc=true, logicaltype.unit=NANOS"`
	TxnAmount          float64  `parquet:"name=txn_amount, type=DOUBLE"`
	FeeAmount          float64  `parquet:"name=fee_amount, type=DOUBLE"`
	MerchantID         string   `parquet:"name=merc_txn_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxnType            string   `parquet:"name=txn_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Currency           *string  `parquet:"name=currency, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	YearMonth          string   `parquet:"name=year_month, type=BYTE_ARRAY, convertedtype=UTF8"`
	Weekday            int32    `parquet:"name=weekday, type=INT32"`
	Weekend            bool     `parquet:"name=weekend, type=BOOLEAN"`
	Hour               int32    `parquet:"name=hour, type=INT32"`
	AmountBin          string   `parquet:"name=txn_amount_bin, type=BYTE_ARRAY, convertedtype=UTF8"`
	DaysSinceLastTxn   *int32   `parquet:"name=days_since_last_txn, type=INT32, repetitiontype=OPTIONAL"`
	Rolling7DSpend     float64  `parquet:"name=rolling_7d_spend, type=DOUBLE"`
	Rolling30DSpend    float64  `parquet:"name=rolling_30d_spend, type=DOUBLE"`
	MerchantSpendRatio *float64 `parquet:"name=merchant_spend_ratio, type=DOUBLE, repetitiontype=OPTIONAL"`
	FeeToTxnRatio      *float64 `parquet:"name=fee_to_txn_ratio, type=DOUBLE, repetitiontype=OPTIONAL"`
}

type anomalyParquetRow struct {
	RunID       string  `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	UserID      string  `parquet:"name=user_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxnDate     int64   `parquet:"name=txn_date, type=INT64, logicaltype=TIMESTAMP, logicaltype.isadjustedtoutc=true, logicaltype.unit=NANOS"`
	TxnAmount   float64 `parquet:"name=txn_amount, type=DOUBLE"`
	MerchantID  string  `parquet:"name=merc_txn_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	AnomalyType string  `parquet:"name=anomaly_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Duplicate   bool    `parquet:"name=is_duplicate, type=BOOLEAN"`
	Outlier     bool    `parquet:"name=is_outlier, type=BOOLEAN"`
	Spike       bool    `parquet:"name=is_spending_spike, type=BOOLEAN"`
}

// WriteEnrichedParquet writes the enriched table as Snappy-compressed
// Parquet. Undefined ratios and first-transaction gaps are written as nulls.
func WriteEnrichedParquet(w io.Writer, rows []domain.EnrichedTransaction) error {
	out := make([]any, len(rows))
	for i, r := range rows {
		pr := &enrichedParquetRow{
			UserID:             r.UserID,
			TxnDate:            r.TxnDate.UnixNano(),
			TxnAmount:          r.TxnAmount,
			FeeAmount:          r.FeeAmount,
			MerchantID:         r.MerchantID,
			TxnType:            r.TxnType,
			Currency:           r.Currency,
			YearMonth:          r.YearMonth,
			Weekday:            int32(r.Weekday),
			Weekend:            r.IsWeekend,
			Hour:               int32(r.Hour),
			AmountBin:          string(r.AmountBin),
			Rolling7DSpend:     r.Rolling7DSpend,
			Rolling30DSpend:    r.Rolling30DSpend,
			MerchantSpendRatio: ratioPtr(r.MerchantSpendRatio),
			FeeToTxnRatio:      ratioPtr(r.FeeToTxnRatio),
		}
		if r.DaysSinceLastTxn != nil {
			gap := int32(*r.DaysSinceLastTxn)
			pr.DaysSinceLastTxn = &gap
		}
		out[i] = pr
	}
	if err := writeParquet(w, new(enrichedParquetRow), out); err != nil {
		return fmt.Errorf("WriteEnrichedParquet: %w", err)
	}
	return nil
}

// WriteAnomaliesParquet writes the anomaly ledger of one run with one
// boolean column per anomaly type next to the joined label.
func WriteAnomaliesParquet(w io.Writer, runID string, anomalies []domain.Anomaly) error {
	out := make([]any, len(anomalies))
	for i, a := range anomalies {
		out[i] = &anomalyParquetRow{
			RunID:       runID,
			UserID:      a.UserID,
			TxnDate:     a.TxnDate.UnixNano(),
			TxnAmount:   a.TxnAmount,
			MerchantID:  a.MerchantID,
			AnomalyType: a.Types.String(),
			Duplicate:   a.Types.Has(domain.AnomalyDuplicate),
			Outlier:     a.Types.Has(domain.AnomalyOutlier),
			Spike:       a.Types.Has(domain.AnomalySpendingSpike),
		}
	}
	if err := writeParquet(w, new(anomalyParquetRow), out); err != nil {
		return fmt.Errorf("WriteAnomaliesParquet: %w", err)
	}
	return nil
}

func writeParquet(w io.Writer, schema any, rows []any) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, schema, 1)
	if err != nil {
		return fmt.Errorf("parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("parquet flush: %w", err)
	}
	return nil
}

func ratioPtr(r domain.Ratio) *float64 {
	if !r.Defined {
		return nil
	}
	v := r.Value
	return &v
}
