package jobs

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/detect"
	"github.com/dvloznov/spend-analytics/internal/pipeline"
)

// Request converts the job parameters into an analysis request.
func (j *AnalysisJob) Request() (pipeline.Request, error) {
	req := pipeline.Request{UserID: j.UserID}

	if j.From != "" {
		d, err := civil.ParseDate(j.From)
		if err != nil {
			return req, fmt.Errorf("invalid from date %q: %w", j.From, err)
		}
		req.From = d
	}
	if j.To != "" {
		d, err := civil.ParseDate(j.To)
		if err != nil {
			return req, fmt.Errorf("invalid to date %q: %w", j.To, err)
		}
		req.To = d
	}
	if j.DuplicateRounding != "" {
		r, err := detect.ParseRounding(j.DuplicateRounding)
		if err != nil {
			return req, err
		}
		req.DuplicateRounding = r
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}
