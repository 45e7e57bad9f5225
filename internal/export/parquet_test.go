package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/reader"
)

func TestAnomaliesParquetRoundTrip(t *testing.T) {
	anomalies := []domain.Anomaly{
		{
			TxnKey: domain.TxnKey{UserID: "u1", TxnDate: time.Date(2024, 5, 31, 12, 0, 0, 123456789, time.UTC), TxnAmount: 1800, MerchantID: "airline"},
			Types:  domain.NewLabelSet(domain.AnomalySpendingSpike, domain.AnomalyOutlier),
		},
		{
			TxnKey: domain.TxnKey{UserID: "u2", TxnDate: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC), TxnAmount: 9.99, MerchantID: "stream"},
			Types:  domain.NewLabelSet(domain.AnomalyDuplicate),
		},
	}

	var buf bytes.Buffer
	if err := WriteAnomaliesParquet(&buf, "run-1", anomalies); err != nil {
		t.Fatalf("WriteAnomaliesParquet failed: %v", err)
	}

	pr, err := reader.NewParquetReader(buffer.NewBufferFileFromBytes(buf.Bytes()), new(anomalyParquetRow), 1)
	if err != nil {
		t.Fatalf("NewParquetReader failed: %v", err)
	}
	defer pr.ReadStop()

	if n := pr.GetNumRows(); n != 2 {
		t.Fatalf("GetNumRows() = %d, want 2", n)
	}
	rows := make([]anomalyParquetRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if rows[0].AnomalyType != "Outlier; Spending Spike" || !rows[0].Outlier || !rows[0].Spike || rows[0].Duplicate {
		t.Errorf("Row 0 = %+v", rows[0])
	}
	if got := time.Unix(0, rows[0].TxnDate).UTC(); !got.Equal(anomalies[0].TxnDate) {
		t.Errorf("Row 0 txn_date = %v, want %v", got, anomalies[0].TxnDate)
	}
	if rows[1].RunID != "run-1" || !rows[1].Duplicate || rows[1].TxnAmount != 9.99 {
		t.Errorf("Row 1 = %+v", rows[1])
	}
}

func TestEnrichedParquetEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteEnrichedParquet(&buf, nil); err != nil {
		t.Fatalf("WriteEnrichedParquet failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("PAR1")) {
		t.Error("Expected Parquet magic header")
	}
}
