package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

// QueryLedger queries ledger rows within the specified time range.
func QueryLedger(ctx context.Context, table TableRef, from, to time.Time) ([]*LedgerRow, error) {
	client, err := bigquery.NewClient(ctx, table.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("QueryLedger: bigquery client: %w", err)
	}
	defer client.Close()

	return QueryLedgerWithClient(ctx, client, table, from, to)
}

// QueryLedgerWithClient queries ledger rows with from <= txn_date < to using
// the provided BigQuery client. Zero bounds are open.
func QueryLedgerWithClient(ctx context.Context, client *bigquery.Client, table TableRef, from, to time.Time) ([]*LedgerRow, error) {
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("QueryLedger: %w", err)
	}

	q := client.Query(`
		SELECT
			user_id,
			txn_date,
			txn_amount,
			fee_amount,
			merc_txn_id,
			txn_type,
			currency
		FROM ` + "`" + table.String() + "`" + `
		WHERE (@from_ts IS NULL OR txn_date >= @from_ts)
		  AND (@to_ts IS NULL OR txn_date < @to_ts)
		ORDER BY user_id, txn_date
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "from_ts", Value: nullTimestamp(from)},
		{Name: "to_ts", Value: nullTimestamp(to)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryLedger: query read: %w", err)
	}

	var rows []*LedgerRow
	for {
		var r LedgerRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryLedger: iter next: %w", err)
		}
		rows = append(rows, &r)
	}

	return rows, nil
}

func nullTimestamp(t time.Time) bigquery.NullTimestamp {
	if t.IsZero() {
		return bigquery.NullTimestamp{}
	}
	return bigquery.NullTimestamp{Timestamp: t, Valid: true}
}

// ListUsersWithClient returns the distinct non-null user IDs in the ledger.
func ListUsersWithClient(ctx context.Context, client *bigquery.Client, table TableRef) ([]string, error) {
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}

	q := client.Query(`
		SELECT DISTINCT user_id
		FROM ` + "`" + table.String() + "`" + `
		WHERE user_id IS NOT NULL
		ORDER BY user_id
	`)

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListUsers: query read: %w", err)
	}

	var users []string
	for {
		var r struct {
			UserID string `bigquery:"user_id"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListUsers: iter next: %w", err)
		}
		users = append(users, r.UserID)
	}

	return users, nil
}

// InsertAnomaliesWithClient appends anomaly rows to the given table.
func InsertAnomaliesWithClient(ctx context.Context, client *bigquery.Client, table TableRef, rows []*AnomalyRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := table.validate(); err != nil {
		return fmt.Errorf("InsertAnomalies: %w", err)
	}

	inserter := client.DatasetInProject(table.ProjectID, table.DatasetID).Table(table.TableID).Inserter()
	if err := inserter.Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertAnomalies: inserting rows: %w", err)
	}

	return nil
}
