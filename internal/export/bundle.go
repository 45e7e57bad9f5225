package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/gcs"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

// Side files written next to the table CSVs.
const (
	FileEnrichedParquet  = "enriched.parquet"
	FileAnomaliesParquet = "anomalies.parquet"
	FileDataDictionary   = "data_dictionary.json"
	FileRun              = "run.json"
)

// RunInfo is the run.json side file.
type RunInfo struct {
	RunID       string          `json:"run_id"`
	Fingerprint string          `json:"dataset_fingerprint"`
	Status      pipeline.Status `json:"status"`
	UserID      string          `json:"user_id,omitempty"`
	From        string          `json:"from,omitempty"`
	To          string          `json:"to,omitempty"`
	Rows        int             `json:"rows"`
	Users       int             `json:"users"`
	Duplicates  int             `json:"duplicate_raw_rows"`
	Skipped     []string        `json:"outlier_skipped_users,omitempty"`
	Headline    HeadlineRecord  `json:"headline"`
}

// HeadlineRecord is the JSON form of pipeline.Headline.
type HeadlineRecord struct {
	TotalTransactions int            `json:"total_transactions"`
	TotalSpend        float64        `json:"total_spend"`
	TotalAnomalies    int            `json:"total_anomalies"`
	HighestAnomaly    *AnomalyRecord `json:"highest_anomaly,omitempty"`
}

// AnomalyRecord is the JSON form of one reconciled anomaly.
type AnomalyRecord struct {
	UserID      string    `json:"UserID"`
	TxnDate     time.Time `json:"TXN_DATE"`
	TxnAmount   float64   `json:"TXN_AMOUNT"`
	MerchantID  string    `json:"MERC_TXN_ID"`
	AnomalyType string    `json:"Anomaly_Type"`
}

// NewAnomalyRecord converts an anomaly, joining its labels.
func NewAnomalyRecord(a domain.Anomaly) AnomalyRecord {
	return AnomalyRecord{
		UserID:      a.UserID,
		TxnDate:     a.TxnDate.UTC(),
		TxnAmount:   a.TxnAmount,
		MerchantID:  a.MerchantID,
		AnomalyType: a.Types.String(),
	}
}

// AnomalyRecords converts a ledger.
func AnomalyRecords(anomalies []domain.Anomaly) []AnomalyRecord {
	out := make([]AnomalyRecord, len(anomalies))
	for i, a := range anomalies {
		out[i] = NewAnomalyRecord(a)
	}
	return out
}

// NewHeadlineRecord converts the headline metrics.
func NewHeadlineRecord(h pipeline.Headline) HeadlineRecord {
	rec := HeadlineRecord{
		TotalTransactions: h.TotalTransactions,
		TotalSpend:        h.TotalSpend,
		TotalAnomalies:    h.TotalAnomalies,
	}
	if h.HighestAnomaly != nil {
		a := NewAnomalyRecord(*h.HighestAnomaly)
		rec.HighestAnomaly = &a
	}
	return rec
}

// NewRunInfo summarises a run.
func NewRunInfo(res *pipeline.Result) RunInfo {
	info := RunInfo{
		RunID:       res.RunID,
		Fingerprint: res.Fingerprint,
		Status:      res.Status,
		UserID:      res.Request.UserID,
		Rows:        res.Report.Rows,
		Users:       res.Report.Users,
		Duplicates:  res.Report.DuplicateRawRows,
		Skipped:     res.OutlierSkippedUsers,
		Headline:    NewHeadlineRecord(res.Headline),
	}
	if !res.Request.From.IsZero() {
		info.From = res.Request.From.String()
	}
	if !res.Request.To.IsZero() {
		info.To = res.Request.To.String()
	}
	return info
}

// WriteBundle writes every table as CSV plus the Parquet, dictionary and run
// side files into dir, and returns the paths written.
func WriteBundle(ctx context.Context, dir string, res *pipeline.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("WriteBundle: create %q: %w", dir, err)
	}

	var written []string
	write := func(name string, fn func(io.Writer) error) error {
		path := filepath.Join(dir, name)
		var buf bytes.Buffer
		if err := fn(&buf); err != nil {
			return err
		}
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write %q: %w", path, err)
		}
		written = append(written, path)
		return nil
	}

	for _, t := range AllTables(res) {
		if err := write(t.Name+".csv", func(w io.Writer) error { return WriteCSV(w, t) }); err != nil {
			return written, fmt.Errorf("WriteBundle: %w", err)
		}
	}

	sides := []struct {
		name string
		fn   func(io.Writer) error
	}{
		{FileEnrichedParquet, func(w io.Writer) error { return WriteEnrichedParquet(w, res.Rows) }},
		{FileAnomaliesParquet, func(w io.Writer) error { return WriteAnomaliesParquet(w, res.RunID, res.Anomalies) }},
		{FileDataDictionary, func(w io.Writer) error { return WriteDataDictionary(w, res.Rows) }},
		{FileRun, func(w io.Writer) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(NewRunInfo(res))
		}},
	}
	for _, s := range sides {
		if err := write(s.name, s.fn); err != nil {
			return written, fmt.Errorf("WriteBundle: %w", err)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("dir", dir).
		Str("run_id", res.RunID).
		Int("files", len(written)).
		Msg("Wrote export bundle")

	return written, nil
}

// UploadBundle copies bundle files to prefix/<runID>/ in Cloud Storage.
func UploadBundle(ctx context.Context, storage gcs.StorageService, prefix, runID string, files []string) ([]string, error) {
	uris := make([]string, 0, len(files))
	for _, path := range files {
		uri := gcs.JoinURI(prefix, runID+"/"+filepath.Base(path))
		bucket, object, err := gcs.ParseURI(uri)
		if err != nil {
			return uris, fmt.Errorf("UploadBundle: %w", err)
		}
		if err := storage.UploadFile(ctx, bucket, object, path); err != nil {
			return uris, fmt.Errorf("UploadBundle: upload %q: %w", path, err)
		}
		uris = append(uris, uri)
	}
	return uris, nil
}
