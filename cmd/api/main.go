package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/spend-analytics/internal/api/handlers"
	"github.com/dvloznov/spend-analytics/internal/api/middleware"
	"github.com/dvloznov/spend-analytics/internal/config"
	"github.com/dvloznov/spend-analytics/internal/gcsuploader"
	infraBQ "github.com/dvloznov/spend-analytics/internal/infra/bigquery"
	"github.com/dvloznov/spend-analytics/internal/ingest"
	"github.com/dvloznov/spend-analytics/internal/jobs"
	"github.com/dvloznov/spend-analytics/internal/jobs/inmemory"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Parse command-line flags
	var (
		port          = flag.String("port", "8080", "HTTP server port")
		defaultSource = flag.String("source", os.Getenv("ANALYTICS_SOURCE"), "Ledger used when a request names none: CSV path, gs:// URI or \"bigquery\"")
		ledgerTable   = flag.String("table", cfg.LedgerTable, "BigQuery ledger table (project.dataset.table)")
		allowSources  = flag.String("allow-sources", os.Getenv("ANALYTICS_ALLOWED_SOURCES"), "Comma-separated directories or gs:// prefixes requests may read besides the default source")
		workers       = flag.Int("workers", 2, "Concurrent analysis workers")
	)
	flag.Parse()

	// Initialize logger
	log, err := logger.NewWithLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}

	if *defaultSource == "" {
		log.Warn().Msg("No default source configured - requests must name a source")
	}

	ctx := context.Background()

	// The ledger repository is optional; without it "bigquery" sources fail.
	var ledgerRepo *infraBQ.BigQueryLedgerRepository
	if *ledgerTable != "" {
		ref, err := infraBQ.ParseTableRef(*ledgerTable)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid ledger table")
		}
		ledgerRepo, err = infraBQ.NewBigQueryLedgerRepository(ctx, ref, infraBQ.TableRef{})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create ledger repository")
		}
		defer ledgerRepo.Close()
	}

	resolver := ingest.Resolver{
		Default: *defaultSource,
		Allowed: splitList(*allowSources),
		Storage: gcsuploader.NewGCSStorageService(),
	}
	if ledgerRepo != nil {
		resolver.Ledger = ledgerRepo
	}
	log.Info().Strs("allowed_sources", resolver.Allowed).Msg("Source allowlist")

	analyzer, err := pipeline.NewAnalyzer(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid analysis configuration")
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(100, *workers, jobStore)
	analysisHandler := jobs.NewAnalysisHandler(analyzer, jobStore, resolver.Resolve)

	// Start worker in background to process jobs
	workerCtx, cancelWorker := context.WithCancel(logger.WithContext(ctx, log))
	defer cancelWorker()

	go func() {
		log.Info().Int("workers", *workers).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, analysisHandler.Handle); err != nil {
			log.Error().Err(err).Msg("Job worker stopped with error")
		}
	}()

	// Initialize handlers
	usersHandler := handlers.NewUsersHandler(defaultUsers{resolver: resolver}, log)
	analysesHandler := handlers.NewAnalysesHandler(jobQueue, jobStore, *defaultSource, log).
		WithSourceCheck(resolver.Check)
	jobsHandler := handlers.NewJobsHandler(jobStore, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			usersHandler.ListUsers(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Analyses endpoints
	mux.HandleFunc("/api/analyses", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			analysesHandler.CreateAnalysis(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/analyses/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID, table, ok := handlers.ParseAnalysisPath(r.URL.Path)
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		if table != "" {
			analysesHandler.GetTable(w, r, jobID, table)
			return
		}
		analysesHandler.GetAnalysis(w, r, jobID)
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobID := r.URL.Path[len("/api/jobs/"):]
			if jobID == "" {
				middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
				return
			}
			jobsHandler.GetJob(w, r, jobID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// RequestID runs first so the access log and panic log carry the ID.
	handler := middleware.RequestID(log)(
		middleware.Recovery(log)(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(os.Getenv("API_TOKEN"))(mux),
				),
			),
		),
	)

	// Create HTTP server. Table downloads can be large, hence the longer
	// write timeout.
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}

// defaultUsers lists the users of the default source.
type defaultUsers struct {
	resolver ingest.Resolver
}

func (d defaultUsers) ListUsers(ctx context.Context) ([]string, error) {
	src, err := d.resolver.Resolve("")
	if err != nil {
		return nil, err
	}
	return src.ListUsers(ctx)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
