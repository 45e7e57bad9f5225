package enrich

import (
	"fmt"
	"strings"
)

// Violation is one broken input invariant and how many rows broke it.
type Violation struct {
	Column string
	Reason string
	Rows   int
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s (%d rows)", v.Column, v.Reason, v.Rows)
}

// ContractViolationError is returned when the cleaned input still contains
// rows the enrichment step cannot accept. It is never recoverable: the
// cleaning collaborator must drop or fix those rows first.
type ContractViolationError struct {
	Violations []Violation
}

func (e *ContractViolationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "contract violation: " + strings.Join(parts, "; ")
}
