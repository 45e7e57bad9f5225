package pipeline

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-analytics/internal/detect"
)

// Request selects the slice of the dataset to analyze.
type Request struct {
	// UserID restricts the run to one user. Empty means every user.
	UserID string
	// From and To bound the transaction date, both inclusive. A zero date
	// leaves that side open.
	From civil.Date
	To   civil.Date
	// DuplicateRounding overrides the configured duplicate rounding.
	DuplicateRounding detect.Rounding
}

// Validate checks the date range and rounding.
func (r Request) Validate() error {
	if !r.From.IsZero() && !r.From.IsValid() {
		return fmt.Errorf("invalid from date %s", r.From)
	}
	if !r.To.IsZero() && !r.To.IsValid() {
		return fmt.Errorf("invalid to date %s", r.To)
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return fmt.Errorf("date range %s..%s is reversed", r.From, r.To)
	}
	if r.DuplicateRounding != "" {
		if _, err := detect.ParseRounding(string(r.DuplicateRounding)); err != nil {
			return err
		}
	}
	return nil
}

// Key is the exact memoization key of the request.
func (r Request) Key() string {
	return fmt.Sprintf("user=%q|from=%s|to=%s|round=%s", r.UserID, dateKey(r.From), dateKey(r.To), r.DuplicateRounding)
}

func dateKey(d civil.Date) string {
	if d.IsZero() {
		return "-"
	}
	return d.String()
}
