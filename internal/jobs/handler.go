package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/spend-analytics/internal/enrich"
	"github.com/dvloznov/spend-analytics/internal/ingest"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

// SourceFunc resolves a job's source location.
type SourceFunc func(location string) (ingest.Source, error)

// AnalysisHandler loads a job's source, runs the analysis and stores the
// result.
type AnalysisHandler struct {
	runner  pipeline.Runner
	store   JobStore
	sources SourceFunc
}

// NewAnalysisHandler creates a handler for analysis jobs.
func NewAnalysisHandler(runner pipeline.Runner, store JobStore, sources SourceFunc) *AnalysisHandler {
	return &AnalysisHandler{runner: runner, store: store, sources: sources}
}

// Handle implements JobHandler. Invalid parameters and contract violations
// fail the job without retry.
func (h *AnalysisHandler) Handle(ctx context.Context, job Job) error {
	analysisJob, ok := job.(*AnalysisJob)
	if !ok {
		return fmt.Errorf("unexpected job type %T: %w", job, ErrPermanent)
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"job_id": analysisJob.JobID,
		"source": analysisJob.Source,
	})
	ctx = logger.WithContext(ctx, log)

	req, err := analysisJob.Request()
	if err != nil {
		return fmt.Errorf("Handle: %w: %w", err, ErrPermanent)
	}

	src, err := h.sources(analysisJob.Source)
	if err != nil {
		return fmt.Errorf("Handle: %w: %w", err, ErrPermanent)
	}

	log.Info().Msg("Processing analysis job")

	loaded, err := src.Load(ctx)
	if err != nil {
		if errors.Is(err, ingest.ErrMissingColumn) {
			return fmt.Errorf("Handle: %w: %w", err, ErrPermanent)
		}
		return fmt.Errorf("Handle: %w", err)
	}

	res, err := h.runner.Analyze(ctx, loaded.Dataset, req)
	if err != nil {
		var violation *enrich.ContractViolationError
		if errors.As(err, &violation) {
			return fmt.Errorf("Handle: %w: %w", err, ErrPermanent)
		}
		return fmt.Errorf("Handle: %w", err)
	}

	if err := h.store.SaveResult(ctx, analysisJob.JobID, res); err != nil {
		return fmt.Errorf("Handle: %w", err)
	}
	analysisJob.RunID = res.RunID
	analysisJob.ResultStatus = res.Status

	log.Info().
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Int("anomalies", len(res.Anomalies)).
		Msg("Analysis job completed")
	return nil
}
