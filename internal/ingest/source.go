package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/spend-analytics/internal/gcs"
	infrabq "github.com/dvloznov/spend-analytics/internal/infra/bigquery"
	"github.com/dvloznov/spend-analytics/internal/logger"
)

// Source loads a cleaned dataset from somewhere.
type Source interface {
	Load(ctx context.Context) (*Result, error)
	// ListUsers returns the distinct user IDs of the cleaned data, sorted.
	ListUsers(ctx context.Context) ([]string, error)
	String() string
}

func usersOf(ctx context.Context, src Source) ([]string, error) {
	res, err := src.Load(ctx)
	if err != nil {
		return nil, err
	}
	return res.Dataset.Users(), nil
}

// FileSource reads a CSV file from local disk.
type FileSource struct {
	Path string
}

func (s FileSource) Load(ctx context.Context) (*Result, error) {
	return LoadFile(ctx, s.Path)
}

func (s FileSource) ListUsers(ctx context.Context) ([]string, error) {
	return usersOf(ctx, s)
}

func (s FileSource) String() string { return s.Path }

// GCSSource reads a CSV object from Cloud Storage.
type GCSSource struct {
	URI     string
	Storage gcs.StorageService
}

func (s GCSSource) Load(ctx context.Context) (*Result, error) {
	data, err := s.Storage.FetchFromGCS(ctx, s.URI)
	if err != nil {
		return nil, fmt.Errorf("GCSSource.Load: %w", err)
	}
	res, err := ReadCSV(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("GCSSource.Load: %s: %w", s.Storage.ExtractFilenameFromGCSURI(s.URI), err)
	}
	return res, nil
}

func (s GCSSource) ListUsers(ctx context.Context) ([]string, error) {
	return usersOf(ctx, s)
}

func (s GCSSource) String() string { return s.URI }

// BigQuerySource reads the ledger table. Zero From/To leave that side open.
type BigQuerySource struct {
	Repo infrabq.LedgerRepository
	From time.Time
	To   time.Time
}

func (s BigQuerySource) Load(ctx context.Context) (*Result, error) {
	rows, err := s.Repo.QueryLedger(ctx, s.From, s.To)
	if err != nil {
		return nil, fmt.Errorf("BigQuerySource.Load: %w", err)
	}

	ds, conv := infrabq.ToDataset(rows)
	if conv.RowsDropped > 0 {
		log := logger.FromContext(ctx)
		log.Warn().
			Int("rows_read", conv.RowsRead).
			Int("rows_dropped", conv.RowsDropped).
			Msg("Dropped ledger rows with null user_id, txn_date or txn_amount")
	}

	return &Result{
		Dataset: ds,
		Report: Report{
			RowsRead:    conv.RowsRead,
			RowsDropped: conv.RowsDropped,
			HasCurrency: ds.HasCurrency(),
		},
	}, nil
}

// ListUsers asks the ledger table directly instead of loading every row.
func (s BigQuerySource) ListUsers(ctx context.Context) ([]string, error) {
	users, err := s.Repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("BigQuerySource.ListUsers: %w", err)
	}
	return users, nil
}

func (s BigQuerySource) String() string { return SourceBigQuery }

// SourceBigQuery is the location string selecting the ledger table.
const SourceBigQuery = "bigquery"

// NewSource picks a file or GCS source from a location string. The
// BigQuery source needs a repository and is built by the caller.
func NewSource(location string, storage gcs.StorageService) Source {
	if gcs.IsURI(location) {
		return GCSSource{URI: location, Storage: storage}
	}
	return FileSource{Path: location}
}

// ErrSourceNotAllowed is returned by Resolver for locations outside its
// allowlist.
var ErrSourceNotAllowed = errors.New("source not allowed")

// Resolver maps client-supplied locations to sources. It admits the default
// location, "bigquery" when Ledger is set, and files or objects under one of
// the Allowed roots (local directories or gs:// prefixes).
type Resolver struct {
	Default string
	Allowed []string
	Storage gcs.StorageService
	Ledger  infrabq.LedgerRepository
}

// Resolve returns the source for location. An empty location means Default.
func (r Resolver) Resolve(location string) (Source, error) {
	if location == "" {
		location = r.Default
	}
	if location == "" {
		return nil, fmt.Errorf("Resolve: no source given")
	}

	if location == SourceBigQuery {
		if r.Ledger == nil {
			return nil, fmt.Errorf("Resolve: no ledger table configured")
		}
		return BigQuerySource{Repo: r.Ledger}, nil
	}

	if location != r.Default && !r.allowed(location) {
		return nil, fmt.Errorf("Resolve: %q: %w", location, ErrSourceNotAllowed)
	}
	return NewSource(location, r.Storage), nil
}

// Check reports whether Resolve would accept location.
func (r Resolver) Check(location string) error {
	_, err := r.Resolve(location)
	return err
}

func (r Resolver) allowed(location string) bool {
	for _, root := range r.Allowed {
		if gcs.IsURI(root) != gcs.IsURI(location) {
			continue
		}
		if gcs.IsURI(root) {
			prefix := strings.TrimSuffix(root, "/") + "/"
			if strings.HasPrefix(location, prefix) && len(location) > len(prefix) {
				return true
			}
			continue
		}
		if underDir(root, location) {
			return true
		}
	}
	return false
}

// underDir reports whether path names a file strictly inside dir once both
// are made absolute and cleaned.
func underDir(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
