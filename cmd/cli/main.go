package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/config"
	"github.com/dvloznov/spend-analytics/internal/detect"
	"github.com/dvloznov/spend-analytics/internal/export"
	"github.com/dvloznov/spend-analytics/internal/gcsuploader"
	infraBQ "github.com/dvloznov/spend-analytics/internal/infra/bigquery"
	"github.com/dvloznov/spend-analytics/internal/ingest"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
	"github.com/rs/zerolog"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(log)
	case "users":
		runUsers(log)
	case "tables":
		runTables()
	case "upload":
		runUpload(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Spend Analytics CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  analyze   Analyze a transaction ledger and write the export bundle")
	fmt.Println("  users     List the users present in a ledger")
	fmt.Println("  tables    List the table names written by analyze")
	fmt.Println("  upload    Upload a local ledger file to GCS")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nSources are a local CSV path, a gs:// URI or \"bigquery\".")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

// sourceFlags are shared by the commands that read a ledger.
type sourceFlags struct {
	source       *string
	ledgerTable  *string
	anomalyTable *string
}

func addSourceFlags(fs *flag.FlagSet, cfg config.Config) sourceFlags {
	return sourceFlags{
		source:       fs.String("source", "", "Ledger location: CSV path, gs:// URI or \"bigquery\""),
		ledgerTable:  fs.String("table", cfg.LedgerTable, "BigQuery ledger table (project.dataset.table)"),
		anomalyTable: fs.String("anomalies-table", cfg.AnomalyTable, "BigQuery table receiving anomalies"),
	}
}

// open resolves the source. The returned repository is nil unless the source
// is BigQuery, in which case the caller closes it.
func (f sourceFlags) open(ctx context.Context, from, to time.Time) (ingest.Source, *infraBQ.BigQueryLedgerRepository, error) {
	if *f.source == "" {
		return nil, nil, fmt.Errorf("-source is required")
	}
	if *f.source != ingest.SourceBigQuery {
		return ingest.NewSource(*f.source, gcsuploader.NewGCSStorageService()), nil, nil
	}

	ledger, err := infraBQ.ParseTableRef(*f.ledgerTable)
	if err != nil {
		return nil, nil, fmt.Errorf("-table: %w", err)
	}
	var anomalies infraBQ.TableRef
	if *f.anomalyTable != "" {
		if anomalies, err = infraBQ.ParseTableRef(*f.anomalyTable); err != nil {
			return nil, nil, fmt.Errorf("-anomalies-table: %w", err)
		}
	}
	repo, err := infraBQ.NewBigQueryLedgerRepository(ctx, ledger, anomalies)
	if err != nil {
		return nil, nil, err
	}
	return ingest.BigQuerySource{Repo: repo, From: from, To: to}, repo, nil
}

func loadConfig() config.Config {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runAnalyze(log zerolog.Logger) {
	cfg := loadConfig()

	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	src := addSourceFlags(fs, cfg)
	userID := fs.String("user", "", "Restrict the analysis to one user")
	fromStr := fs.String("from", "", "First day to include (YYYY-MM-DD)")
	toStr := fs.String("to", "", "Last day to include (YYYY-MM-DD)")
	outDir := fs.String("out", "out", "Directory for the export bundle")
	uploadPrefix := fs.String("upload", "", "Copy the bundle to this gs:// prefix")
	insert := fs.Bool("insert-anomalies", false, "Insert anomalies into -anomalies-table")
	rounding := fs.String("rounding", string(cfg.Detect.DuplicateRounding), "Duplicate timestamp rounding: none, minute or hour")
	logLevel := fs.String("log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	fs.IntVar(&cfg.TopN, "top-n", cfg.TopN, "Merchants per user in the top merchant tables")
	fs.IntVar(&cfg.RollingWindowDays, "rolling-window", cfg.RollingWindowDays, "Days in the rolling average window")
	fs.Float64Var(&cfg.Detect.Contamination, "contamination", cfg.Detect.Contamination, "Expected outlier fraction per user")
	fs.Int64Var(&cfg.Detect.Seed, "seed", cfg.Detect.Seed, "Outlier model seed")
	fs.Float64Var(&cfg.Detect.SpikePercentile, "spike-percentile", cfg.Detect.SpikePercentile, "Per-user percentile above which a spend is a spike")
	fs.Parse(os.Args[2:])

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid -log-level")
	}
	log = log.Level(level)

	req := pipeline.Request{UserID: *userID}
	if *fromStr != "" {
		if req.From, err = civil.ParseDate(*fromStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid -from")
		}
	}
	if *toStr != "" {
		if req.To, err = civil.ParseDate(*toStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid -to")
		}
	}
	if req.DuplicateRounding, err = detect.ParseRounding(*rounding); err != nil {
		log.Fatal().Err(err).Msg("Invalid -rounding")
	}
	if err := req.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid request")
	}

	analyzer, err := pipeline.NewAnalyzer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	source, repo, err := src.open(ctx, dayStart(req.From), dayEnd(req.To))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open source")
	}
	if repo != nil {
		defer repo.Close()
	}
	if *insert && repo == nil {
		log.Fatal().Msg("-insert-anomalies requires -source bigquery")
	}

	log.Info().Str("source", source.String()).Msg("Loading ledger")
	loaded, err := source.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}
	log.Info().
		Int("rows_read", loaded.Report.RowsRead).
		Int("rows_dropped", loaded.Report.RowsDropped).
		Msg("Ledger loaded")

	res, err := analyzer.Analyze(ctx, loaded.Dataset, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	files, err := export.WriteBundle(ctx, *outDir, res)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to write export bundle")
	}

	if *uploadPrefix != "" {
		uris, err := export.UploadBundle(ctx, gcsuploader.NewGCSStorageService(), *uploadPrefix, res.RunID, files)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to upload export bundle")
		}
		log.Info().Int("files", len(uris)).Str("prefix", *uploadPrefix).Msg("Uploaded export bundle")
	}

	if *insert && len(res.Anomalies) > 0 {
		if err := repo.InsertAnomalies(ctx, infraBQ.AnomalyRows(res, time.Now().UTC())); err != nil {
			log.Fatal().Err(err).Msg("Failed to insert anomalies")
		}
		log.Info().Int("anomalies", len(res.Anomalies)).Msg("Inserted anomalies")
	}

	printHeadline(res, *outDir)
}

func printHeadline(res *pipeline.Result, dir string) {
	h := res.Headline
	fmt.Printf("Run %s: %s\n", res.RunID, res.Status)
	fmt.Printf("  Transactions: %d\n", h.TotalTransactions)
	fmt.Printf("  Total spend:  %.2f\n", h.TotalSpend)
	fmt.Printf("  Anomalies:    %d\n", h.TotalAnomalies)
	if a := h.HighestAnomaly; a != nil {
		fmt.Printf("  Highest:      %.2f by %s at %s (%s)\n",
			a.TxnAmount, a.UserID, a.TxnDate.Format(export.TimeLayout), a.Types)
	}
	for _, c := range res.Summary {
		fmt.Printf("    %-10s %-22s %d\n", c.UserID, c.AnomalyType, c.AnomalyCount)
	}
	if len(res.OutlierSkippedUsers) > 0 {
		fmt.Printf("  Outlier model skipped for %d users with too few transactions\n", len(res.OutlierSkippedUsers))
	}
	fmt.Printf("Export written to %s\n", dir)
}

func runUsers(log zerolog.Logger) {
	cfg := loadConfig()

	fs := flag.NewFlagSet("users", flag.ExitOnError)
	src := addSourceFlags(fs, cfg)
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	source, repo, err := src.open(ctx, time.Time{}, time.Time{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open source")
	}
	if repo != nil {
		defer repo.Close()
	}

	users, err := source.ListUsers(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list users")
	}
	for _, u := range users {
		fmt.Println(u)
	}
}

func runTables() {
	for _, name := range export.TableNames() {
		fmt.Println(name)
	}
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", "", "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local ledger CSV")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}

	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	// Refuse files the analyzer could not read.
	if _, err := ingest.LoadFile(ctx, *filePath); err != nil {
		log.Fatal().Err(err).Msg("File is not a valid ledger")
	}

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := gcsuploader.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to gs://%s/%s\n", *filePath, *bucketName, *objectName)
}

// dayStart and dayEnd bound the BigQuery scan; the analyzer applies the
// exact inclusive filter again.
func dayStart(d civil.Date) time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	return d.In(time.UTC)
}

func dayEnd(d civil.Date) time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	return d.AddDays(1).In(time.UTC)
}
