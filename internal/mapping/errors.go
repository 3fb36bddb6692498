package mapping

import (
	"fmt"
	"strings"
)

// SpecNotFoundError reports a source with no mapping specification.
type SpecNotFoundError struct {
	Source string
}

func (e *SpecNotFoundError) Error() string {
	return fmt.Sprintf("mapping: no spec for source %q", e.Source)
}

// InvalidSpecError reports a malformed or self-inconsistent mapping
// specification. It is fatal at load time: an invalid spec blocks all
// ingestion for its source until corrected.
type InvalidSpecError struct {
	Source   string
	Problems []string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("mapping: invalid spec for source %q: %s",
		e.Source, strings.Join(e.Problems, "; "))
}
