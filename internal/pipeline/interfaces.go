package pipeline

import (
	"context"

	"github.com/dvloznov/spend-analytics/internal/domain"
)

// Runner runs an analysis. *Analyzer implements it; handlers and job workers
// depend on this interface so tests can substitute a fake.
type Runner interface {
	Analyze(ctx context.Context, ds *domain.Dataset, req Request) (*Result, error)
}

var _ Runner = (*Analyzer)(nil)
