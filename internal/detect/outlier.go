package detect

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dvloznov/spend-analytics/internal/domain"
	"github.com/dvloznov/spend-analytics/internal/logger"
	"golang.org/x/sync/errgroup"
)

// OutlierDetector fits one isolation forest per user on that user's amounts
// and labels the rows the forest predicts as outliers.
type OutlierDetector struct {
	forest  ForestConfig
	minTxns int
}

// NewOutlierDetector creates an outlier detector from cfg.
func NewOutlierDetector(cfg Config) *OutlierDetector {
	return &OutlierDetector{forest: cfg.forest(), minTxns: cfg.OutlierMinTxns}
}

// Type returns AnomalyOutlier.
func (d *OutlierDetector) Type() domain.AnomalyType {
	return domain.AnomalyOutlier
}

// Detect fits users in parallel. Users with fewer than the minimum number of
// transactions are skipped and reported in Output.Skipped.
func (d *OutlierDetector) Detect(ctx context.Context, rows []domain.EnrichedTransaction) (Output, error) {
	log := logger.FromContext(ctx)
	out := Output{Type: domain.AnomalyOutlier, Flags: []domain.Flag{}}

	var eligible []userRows
	for _, g := range groupByUser(rows) {
		if len(g.rows) < d.minTxns {
			out.Skipped = append(out.Skipped, g.userID)
			continue
		}
		eligible = append(eligible, g)
	}

	perUser := make([][]domain.Flag, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, user := range eligible {
		i, user := i, user
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			flags, err := d.detectUser(user)
			if err != nil {
				return err
			}
			perUser[i] = flags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Output{}, fmt.Errorf("OutlierDetector.Detect: %w", err)
	}

	for _, flags := range perUser {
		out.Flags = append(out.Flags, flags...)
	}

	log.Debug().
		Int("users_fitted", len(eligible)).
		Int("users_skipped", len(out.Skipped)).
		Int("flags", len(out.Flags)).
		Msg("Outlier detection complete")
	return out, nil
}

func (d *OutlierDetector) detectUser(user userRows) ([]domain.Flag, error) {
	values := amounts(user.rows)
	forest := NewIsolationForest(d.forest)
	if err := forest.Fit(values); err != nil {
		return nil, fmt.Errorf("user %s: %w", user.userID, err)
	}

	var flags []domain.Flag
	for i, isOutlier := range forest.Predict(values) {
		if isOutlier {
			flags = append(flags, domain.Flag{TxnKey: user.rows[i].Key(), Type: domain.AnomalyOutlier})
		}
	}
	return flags, nil
}
