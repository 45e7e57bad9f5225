package bigquery

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	bq "github.com/dvloznov/spend-analytics/internal/bigquery"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

// Re-export row types from shared package for backward compatibility
type LedgerRow = bq.LedgerRow
type AnomalyRow = bq.AnomalyRow

// ConversionReport counts ledger rows dropped while converting to a Dataset.
type ConversionReport struct {
	RowsRead    int
	RowsDropped int
}

// ToDataset converts ledger rows into a Dataset, dropping rows whose user,
// date or amount is null, the same rule the CSV loader applies. Null fees
// become zero.
func ToDataset(rows []*LedgerRow) (*domain.Dataset, ConversionReport) {
	report := ConversionReport{RowsRead: len(rows)}
	txns := make([]domain.Transaction, 0, len(rows))

	for _, r := range rows {
		userID := strings.TrimSpace(r.UserID.StringVal)
		if !r.UserID.Valid || userID == "" || !r.TxnDate.Valid || r.TxnAmount == nil {
			report.RowsDropped++
			continue
		}

		t := domain.Transaction{
			UserID:     userID,
			TxnDate:    r.TxnDate.Timestamp.UTC(),
			TxnAmount:  ratToFloat(r.TxnAmount),
			FeeAmount:  ratToFloat(r.FeeAmount),
			MerchantID: r.MerchantID.StringVal,
			TxnType:    r.TxnType.StringVal,
		}
		if r.Currency.Valid {
			c := r.Currency.StringVal
			t.Currency = &c
		}
		txns = append(txns, t)
	}

	return domain.NewDataset(txns), report
}

func ratToFloat(r *big.Rat) float64 {
	if r == nil {
		return 0
	}
	f, _ := r.Float64()
	return f
}

// AnomalyRows converts an analysis result into rows for InsertAnomalies.
func AnomalyRows(res *pipeline.Result, detectedAt time.Time) []*AnomalyRow {
	rows := make([]*AnomalyRow, 0, len(res.Anomalies))
	for _, a := range res.Anomalies {
		rows = append(rows, &AnomalyRow{
			RunID:       res.RunID,
			Fingerprint: res.Fingerprint,
			UserID:      a.UserID,
			TxnDate:     a.TxnDate,
			TxnAmount:   a.TxnAmount,
			MerchantID:  a.MerchantID,
			AnomalyType: a.Types.String(),
			DetectedTS:  detectedAt,
		})
	}
	return rows
}

// TableRef names a BigQuery table.
type TableRef struct {
	ProjectID string
	DatasetID string
	TableID   string
}

// ParseTableRef parses "project.dataset.table".
func ParseTableRef(s string) (TableRef, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return TableRef{}, fmt.Errorf("ParseTableRef: want project.dataset.table, got %q", s)
	}
	ref := TableRef{ProjectID: parts[0], DatasetID: parts[1], TableID: parts[2]}
	if err := ref.validate(); err != nil {
		return TableRef{}, fmt.Errorf("ParseTableRef: %w", err)
	}
	return ref, nil
}

func (t TableRef) String() string {
	return t.ProjectID + "." + t.DatasetID + "." + t.TableID
}

// validate allows only characters that are safe inside a backquoted
// identifier, since table names cannot be query parameters.
func (t TableRef) validate() error {
	for _, part := range []string{t.ProjectID, t.DatasetID, t.TableID} {
		if part == "" {
			return fmt.Errorf("empty component in table %q", t.String())
		}
		for _, c := range part {
			ok := c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
			if !ok {
				return fmt.Errorf("invalid character %q in table %q", c, t.String())
			}
		}
	}
	return nil
}
