// Package pipeline runs one analysis: enrichment, filtering, aggregation and
// anomaly detection in parallel, then reconciliation. Results are memoized
// on the dataset fingerprint, the settings and the exact request.
package pipeline

import (
	"context"
	"fmt"

	"github.com/dvloznov/spend-analytics/internal/config"
	"github.com/dvloznov/spend-analytics/internal/detect"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/enrich"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/google/uuid"
)

// Analyzer runs analyses against immutable datasets. It is safe for
// concurrent use.
type Analyzer struct {
	cfg      config.Config
	enriched *memo[*enrich.Result]
	results  *memo[*Result]
}

// NewAnalyzer creates an Analyzer with the given settings.
func NewAnalyzer(cfg config.Config) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("NewAnalyzer: %w", err)
	}
	return &Analyzer{
		cfg:      cfg,
		enriched: newMemo[*enrich.Result](cfg.CacheEntries),
		results:  newMemo[*Result](cfg.CacheEntries),
	}, nil
}

// Config returns the analyzer settings.
func (a *Analyzer) Config() config.Config {
	return a.cfg
}

// Analyze runs the pipeline for req over ds. A repeated call with the same
// dataset content and request returns the memoized result.
func (a *Analyzer) Analyze(ctx context.Context, ds *domain.Dataset, req Request) (*Result, error) {
	if ds == nil {
		return nil, fmt.Errorf("Analyze: dataset is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	if req.DuplicateRounding == "" {
		req.DuplicateRounding = a.cfg.Detect.DuplicateRounding
	}

	key := ds.Fingerprint() + "|" + a.cfg.Key() + "|" + req.Key()
	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"fingerprint": ds.Fingerprint(),
		"user_id":     req.UserID,
	})

	if res, ok := a.results.get(key); ok {
		log.Debug().Str("run_id", res.RunID).Msg("Analysis served from memo")
		return res, nil
	}

	detectCfg := a.cfg.Detect
	detectCfg.DuplicateRounding = req.DuplicateRounding

	state := &AnalysisState{
		Dataset: ds,
		Request: req,
		Config:  a.cfg,
	}
	p := newAnalysisPipeline(a.enriched, detect.All(detectCfg))
	if err := p.Execute(logger.WithContext(ctx, log), state); err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}

	res := &Result{
		RunID:       uuid.New().String(),
		Fingerprint: ds.Fingerprint(),
		Request:     req,
		Status:      state.Status,
		Report:      state.Enriched.Report,
		Rows:        state.Rows,
		Tables:      state.Tables,
		Anomalies:   state.Anomalies,
		Summary:     state.Summary,
		Headline:    state.Headline,
	}
	for _, out := range state.Outputs {
		if out.Type == domain.AnomalyOutlier {
			res.OutlierSkippedUsers = out.Skipped
		}
	}
	a.results.put(key, res)

	log.Info().
		Str("run_id", res.RunID).
		Str("status", string(res.Status)).
		Int("rows", len(res.Rows)).
		Int("anomalies", len(res.Anomalies)).
		Msg("Analysis complete")
	return res, nil
}
