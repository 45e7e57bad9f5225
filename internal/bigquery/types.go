package bigquery

import (
	"context"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
)

// LedgerRepository provides read access to the transaction ledger and a sink
// for reconciled anomalies.
type LedgerRepository interface {
	// QueryLedger returns ledger rows with from <= txn_date < to. A zero time
	// leaves that side open.
	QueryLedger(ctx context.Context, from, to time.Time) ([]*LedgerRow, error)

	// ListUsers returns the distinct user IDs in the ledger, sorted.
	ListUsers(ctx context.Context) ([]string, error)

	// InsertAnomalies appends one analysis run's anomaly ledger.
	InsertAnomalies(ctx context.Context, rows []*AnomalyRow) error

	// Close releases the underlying client.
	Close() error
}

// LedgerRow is one row of the ledger table. Columns other than user_id,
// txn_date and txn_amount are nullable.
type LedgerRow struct {
	UserID     bigquery.NullString    `bigquery:"user_id"`
	TxnDate    bigquery.NullTimestamp `bigquery:"txn_date"`
	TxnAmount  *big.Rat               `bigquery:"txn_amount"` // NUMERIC
	FeeAmount  *big.Rat               `bigquery:"fee_amount"` // NUMERIC
	MerchantID bigquery.NullString    `bigquery:"merc_txn_id"`
	TxnType    bigquery.NullString    `bigquery:"txn_type"`
	Currency   bigquery.NullString    `bigquery:"currency"`
}

// AnomalyRow is one reconciled anomaly written back for reporting.
type AnomalyRow struct {
	RunID       string    `bigquery:"run_id"`
	Fingerprint string    `bigquery:"dataset_fingerprint"`
	UserID      string    `bigquery:"user_id"`
	TxnDate     time.Time `bigquery:"txn_date"`
	TxnAmount   float64   `bigquery:"txn_amount"`
	MerchantID  string    `bigquery:"merc_txn_id"`
	AnomalyType string    `bigquery:"anomaly_type"`
	DetectedTS  time.Time `bigquery:"detected_ts"`
}
