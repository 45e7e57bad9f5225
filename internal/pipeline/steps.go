package pipeline

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/aggregate"
	"github.com/dvloznov/spend-analytics/internal/config"
	"github.com/dvloznov/spend-analytics/internal/detect"
	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/enrich"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"github.com/dvloznov/spend-analytics/internal/reconcile"
	"golang.org/x/sync/errgroup"
)

// AnalysisStep represents a single step in the analysis pipeline.
type AnalysisStep interface {
	Execute(ctx context.Context, state *AnalysisState) error
}

// AnalysisState holds the shared state across all pipeline steps.
// Steps that run in parallel write disjoint fields.
type AnalysisState struct {
	Dataset *domain.Dataset
	Request Request
	Config  config.Config

	Enriched *enrich.Result
	Rows     []domain.EnrichedTransaction

	Tables  Tables
	Outputs []detect.Output

	Anomalies []domain.Anomaly
	Summary   []domain.AnomalyCount
	Status    Status
	Headline  Headline
}

// Step 1: EnrichStep enriches the full dataset, reusing a memoized result
// for a dataset with the same fingerprint.
type EnrichStep struct {
	cache *memo[*enrich.Result]
}

func (s *EnrichStep) Execute(ctx context.Context, state *AnalysisState) error {
	key := state.Dataset.Fingerprint()
	if res, ok := s.cache.get(key); ok {
		state.Enriched = res
		return nil
	}

	res, err := enrich.Enrich(ctx, state.Dataset)
	if err != nil {
		return err
	}
	s.cache.put(key, res)
	state.Enriched = res
	return nil
}

// Step 2: FilterStep narrows the enriched rows to the requested user and
// inclusive date range.
type FilterStep struct{}

func (s *FilterStep) Execute(ctx context.Context, state *AnalysisState) error {
	req := state.Request
	rows := make([]domain.EnrichedTransaction, 0, len(state.Enriched.Rows))
	for _, r := range state.Enriched.Rows {
		if req.UserID != "" && r.UserID != req.UserID {
			continue
		}
		d := civil.DateOf(r.TxnDate)
		if !req.From.IsZero() && d.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && d.After(req.To) {
			continue
		}
		rows = append(rows, r)
	}
	state.Rows = rows
	return nil
}

// Step 3a: AggregateStep computes every spend projection over the filtered rows.
type AggregateStep struct{}

func (s *AggregateStep) Execute(ctx context.Context, state *AnalysisState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := state.Config
	rows := state.Rows

	totals := aggregate.TotalSpend(rows)
	byCount, byValue := aggregate.TopMerchants(rows, cfg.TopN)

	state.Tables = Tables{
		TotalSpend:          totals,
		MonthlySpend:        aggregate.MonthlySpend(rows),
		AmountDistribution:  aggregate.AmountDistribution(rows),
		SpendByType:         aggregate.SpendByType(rows),
		TopMerchantsByCount: byCount,
		TopMerchantsByValue: byValue,
		Frequency:           aggregate.Frequencies(rows),
		Trends:              aggregate.TemporalTrends(rows),
		WeekdayVsWeekend:    aggregate.WeekdayVsWeekend(rows),
		PeakHours:           aggregate.PeakHours(rows),
		Currency:            aggregate.CurrencyBreakdown(rows),
		Fees:                aggregate.FeeAnalysis(rows),
		RollingWindowDays:   cfg.RollingWindowDays,
		RollingSpend:        aggregate.RollingSpend(rows, cfg.RollingWindowDays),
		Recurring:           aggregate.RecurringPayments(rows, cfg.Recurring),
		Tiers:               aggregate.SegmentUsers(totals),
	}
	return nil
}

// Step 3b: DetectStep runs the detectors concurrently. Outputs keep the
// detector order regardless of completion order.
type DetectStep struct {
	Detectors []detect.Detector
}

func (s *DetectStep) Execute(ctx context.Context, state *AnalysisState) error {
	log := logger.FromContext(ctx)
	outputs := make([]detect.Output, len(s.Detectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range s.Detectors {
		i, d := i, d
		g.Go(func() error {
			out, err := d.Detect(gctx, state.Rows)
			if err != nil {
				return fmt.Errorf("%s detector: %w", d.Type(), err)
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, out := range outputs {
		log.Debug().
			Str("detector", string(out.Type)).
			Int("flags", len(out.Flags)).
			Int("skipped_users", len(out.Skipped)).
			Msg("Detector finished")
	}
	state.Outputs = outputs
	return nil
}

// ParallelStep runs independent steps concurrently and waits for all of them.
type ParallelStep struct {
	Steps []AnalysisStep
}

func (s *ParallelStep) Execute(ctx context.Context, state *AnalysisState) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, step := range s.Steps {
		step := step
		g.Go(func() error {
			return step.Execute(gctx, state)
		})
	}
	return g.Wait()
}

// Step 4: ReconcileStep merges detector outputs and summarizes them.
type ReconcileStep struct{}

func (s *ReconcileStep) Execute(ctx context.Context, state *AnalysisState) error {
	state.Anomalies = reconcile.Merge(state.Outputs...)
	state.Summary = reconcile.Summarize(state.Anomalies)
	return nil
}

// Step 5: SummaryStep derives the run status and headline metrics.
type SummaryStep struct{}

func (s *SummaryStep) Execute(ctx context.Context, state *AnalysisState) error {
	state.Status = statusOf(state.Rows, state.Anomalies, state.Outputs)

	h := Headline{
		TotalTransactions: len(state.Rows),
		TotalAnomalies:    len(state.Anomalies),
	}
	for _, r := range state.Rows {
		h.TotalSpend += r.TxnAmount
	}
	if top, ok := reconcile.HighestValue(state.Anomalies); ok {
		h.HighestAnomaly = &top
	}
	state.Headline = h
	return nil
}

func statusOf(rows []domain.EnrichedTransaction, anomalies []domain.Anomaly, outputs []detect.Output) Status {
	if len(rows) == 0 {
		return StatusNoData
	}
	if len(anomalies) > 0 {
		return StatusAnomaliesFound
	}
	for _, out := range outputs {
		if len(out.Skipped) > 0 {
			return StatusInsufficientData
		}
	}
	return StatusNoAnomalies
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []AnalysisStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...AnalysisStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *AnalysisState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// newAnalysisPipeline creates the standard pipeline: enrich, filter,
// aggregate and detect in parallel, reconcile, summarize.
func newAnalysisPipeline(enrichCache *memo[*enrich.Result], detectors []detect.Detector) *Pipeline {
	return NewPipeline(
		&EnrichStep{cache: enrichCache},
		&FilterStep{},
		&ParallelStep{Steps: []AnalysisStep{
			&AggregateStep{},
			&DetectStep{Detectors: detectors},
		}},
		&ReconcileStep{},
		&SummaryStep{},
	)
}
