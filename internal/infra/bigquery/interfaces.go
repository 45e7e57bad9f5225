package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/spend-analytics/internal/bigquery"
)

// Re-export interface from shared package for backward compatibility
type LedgerRepository = bq.LedgerRepository

// BigQueryLedgerRepository is the concrete implementation of LedgerRepository
// that interacts with BigQuery. It holds a shared BigQuery client to avoid
// creating a new connection for each operation.
type BigQueryLedgerRepository struct {
	client    *bigquery.Client
	ledger    TableRef
	anomalies TableRef
}

// NewBigQueryLedgerRepository creates a repository reading ledger and
// writing anomalies. anomalies may be the zero TableRef when the caller never
// inserts anomalies.
func NewBigQueryLedgerRepository(ctx context.Context, ledger, anomalies TableRef) (*BigQueryLedgerRepository, error) {
	if err := ledger.validate(); err != nil {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: %w", err)
	}
	client, err := bigquery.NewClient(ctx, ledger.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: creating client: %w", err)
	}
	return &BigQueryLedgerRepository{
		client:    client,
		ledger:    ledger,
		anomalies: anomalies,
	}, nil
}

// Close closes the BigQuery client connection. This should be called when
// the repository is no longer needed to release resources.
func (r *BigQueryLedgerRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// QueryLedger delegates to QueryLedgerWithClient with the shared client.
func (r *BigQueryLedgerRepository) QueryLedger(ctx context.Context, from, to time.Time) ([]*LedgerRow, error) {
	return QueryLedgerWithClient(ctx, r.client, r.ledger, from, to)
}

// ListUsers delegates to ListUsersWithClient with the shared client.
func (r *BigQueryLedgerRepository) ListUsers(ctx context.Context) ([]string, error) {
	return ListUsersWithClient(ctx, r.client, r.ledger)
}

// InsertAnomalies delegates to InsertAnomaliesWithClient with the shared client.
func (r *BigQueryLedgerRepository) InsertAnomalies(ctx context.Context, rows []*AnomalyRow) error {
	if r.anomalies == (TableRef{}) {
		return fmt.Errorf("InsertAnomalies: no anomalies table configured")
	}
	return InsertAnomaliesWithClient(ctx, r.client, r.anomalies, rows)
}

var _ LedgerRepository = (*BigQueryLedgerRepository)(nil)
