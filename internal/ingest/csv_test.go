package ingest

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	bqlib "cloud.google.com/go/bigquery"
	bq "github.com/dvloznov/spend-analytics/internal/bigquery"
)

const ledgerCSV = "\ufeffTXN_ID,UserID,TXN_DATE,TXN_AMOUNT,FEE_AMOUNT,MERC_TXN_ID,TXN_TYPE,CURRENCY\n" +
	"t1,u1,2024-03-01 10:15:00,25.50,0.5,m1,POS,USD\n" +
	"t2,u1,2024-03-02T08:00:00+02:00,1e2,,m2,ATM,\n" +
	"t3,u2,2024-03-03,7,abc,m1,POS,EUR\n" +
	"t4,,2024-03-04,5,0,m1,POS,USD\n" +
	"t5,u2,not-a-date,5,0,m1,POS,USD\n" +
	"t6,u2,2024-03-05,N/A,0,m1,POS,USD\n" +
	"t7,u3,2024-03-06,,0,m1,POS,USD\n"

func TestReadCSV(t *testing.T) {
	res, err := ReadCSV(context.Background(), strings.NewReader(ledgerCSV))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}

	want := Report{
		RowsRead:           7,
		RowsDropped:        4,
		UnparseableAmounts: 1,
		UnparseableDates:   1,
		UnparseableFees:    1,
		HasCurrency:        true,
	}
	if res.Report != want {
		t.Errorf("Report = %+v, want %+v", res.Report, want)
	}

	txns := res.Dataset.Transactions()
	if len(txns) != 3 {
		t.Fatalf("Got %d transactions, want 3", len(txns))
	}

	first := txns[0]
	if first.UserID != "u1" || first.TxnAmount != 25.5 || first.FeeAmount != 0.5 {
		t.Errorf("First row = %+v", first)
	}
	if !first.TxnDate.Equal(time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)) {
		t.Errorf("First TxnDate = %v", first.TxnDate)
	}
	if first.Currency == nil || *first.Currency != "USD" {
		t.Errorf("First Currency = %v, want USD", first.Currency)
	}

	second := txns[1]
	if !second.TxnDate.Equal(time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)) || second.TxnDate.Location() != time.UTC {
		t.Errorf("Expected offset timestamp converted to UTC, got %v", second.TxnDate)
	}
	if second.TxnAmount != 100 || second.FeeAmount != 0 {
		t.Errorf("Second amounts = %v / %v, want 100 / 0", second.TxnAmount, second.FeeAmount)
	}
	if second.Currency != nil {
		t.Errorf("Expected empty currency to be nil, got %q", *second.Currency)
	}

	if txns[2].FeeAmount != 0 {
		t.Errorf("Expected unparseable fee to become 0, got %v", txns[2].FeeAmount)
	}
}

func TestReadCSVMissingColumn(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no fee", "UserID,TXN_DATE,TXN_AMOUNT,MERC_TXN_ID,TXN_TYPE\nu1,2024-01-01,1,m,POS\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(context.Background(), strings.NewReader(tt.input))
			if !errors.Is(err, ErrMissingColumn) {
				t.Errorf("Expected ErrMissingColumn, got %v", err)
			}
		})
	}
}

func TestReadCSVWithoutCurrency(t *testing.T) {
	input := "UserID,TXN_DATE,TXN_AMOUNT,FEE_AMOUNT,MERC_TXN_ID,TXN_TYPE\nu1,2024-01-01,10,0,m1,POS\n"
	res, err := ReadCSV(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if res.Report.HasCurrency || res.Dataset.HasCurrency() {
		t.Error("Expected no currency")
	}
	if res.Dataset.Len() != 1 {
		t.Errorf("Len() = %d, want 1", res.Dataset.Len())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte(ledgerCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := NewSource(path, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Dataset.Len() != 3 {
		t.Errorf("Len() = %d, want 3", res.Dataset.Len())
	}

	if _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}

type fakeStorage struct {
	FetchFromGCSFunc func(ctx context.Context, gcsURI string) ([]byte, error)
}

func (f *fakeStorage) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return nil
}

func (f *fakeStorage) UploadBytes(ctx context.Context, gcsURI string, data []byte, contentType string) error {
	return nil
}

func (f *fakeStorage) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return f.FetchFromGCSFunc(ctx, gcsURI)
}

func (f *fakeStorage) ExtractFilenameFromGCSURI(uri string) string {
	return uri[strings.LastIndex(uri, "/")+1:]
}

func TestGCSSource(t *testing.T) {
	var fetched string
	storage := &fakeStorage{
		FetchFromGCSFunc: func(ctx context.Context, gcsURI string) ([]byte, error) {
			fetched = gcsURI
			return []byte(ledgerCSV), nil
		},
	}

	src := NewSource("gs://bucket/ledger.csv", storage)
	if _, ok := src.(GCSSource); !ok {
		t.Fatalf("NewSource() = %T, want GCSSource", src)
	}
	res, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if fetched != "gs://bucket/ledger.csv" {
		t.Errorf("Fetched %q", fetched)
	}
	if res.Dataset.Len() != 3 {
		t.Errorf("Len() = %d, want 3", res.Dataset.Len())
	}

	storage.FetchFromGCSFunc = func(ctx context.Context, gcsURI string) ([]byte, error) {
		return nil, errors.New("denied")
	}
	if _, err := src.Load(context.Background()); err == nil {
		t.Error("Expected fetch error to propagate")
	}
}

type fakeLedger struct {
	QueryLedgerFunc func(ctx context.Context, from, to time.Time) ([]*bq.LedgerRow, error)
}

func (f *fakeLedger) QueryLedger(ctx context.Context, from, to time.Time) ([]*bq.LedgerRow, error) {
	return f.QueryLedgerFunc(ctx, from, to)
}

func (f *fakeLedger) ListUsers(ctx context.Context) ([]string, error) { return []string{"u1"}, nil }

func (f *fakeLedger) InsertAnomalies(ctx context.Context, rows []*bq.AnomalyRow) error { return nil }

func (f *fakeLedger) Close() error { return nil }

func TestBigQuerySource(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)
	repo := &fakeLedger{
		QueryLedgerFunc: func(ctx context.Context, gotFrom, to time.Time) ([]*bq.LedgerRow, error) {
			if !gotFrom.Equal(from) || !to.IsZero() {
				t.Errorf("QueryLedger(%v, %v)", gotFrom, to)
			}
			return []*bq.LedgerRow{
				{
					UserID:    bqlib.NullString{StringVal: "u1", Valid: true},
					TxnDate:   bqlib.NullTimestamp{Timestamp: ts, Valid: true},
					TxnAmount: big.NewRat(12, 1),
				},
				{UserID: bqlib.NullString{StringVal: "u2", Valid: true}},
			}, nil
		},
	}

	res, err := BigQuerySource{Repo: repo, From: from}.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Report.RowsRead != 2 || res.Report.RowsDropped != 1 {
		t.Errorf("Report = %+v", res.Report)
	}
	if res.Dataset.Len() != 1 {
		t.Errorf("Len() = %d, want 1", res.Dataset.Len())
	}
}

func TestListUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	if err := os.WriteFile(path, []byte(ledgerCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	users, err := FileSource{Path: path}.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("ListUsers() = %v, want [u1 u2]", users)
	}
}
