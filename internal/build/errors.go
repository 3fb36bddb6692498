package build

import "fmt"

// UnknownFieldError reports a row field not covered by any mapping bucket.
// It is fatal for the record and its top-level graph: an unmapped field
// signals undocumented source schema drift and must never be dropped.
type UnknownFieldError struct {
	Source string
	Field  string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("build: field %q is not mapped by the spec for source %q", e.Field, e.Source)
}

// MissingPrimaryKeyError reports a top-level entity that never received its
// primary-key field by the end of a batch. Fatal for that top-level graph
// only.
type MissingPrimaryKeyError struct {
	EntityType string
}

func (e *MissingPrimaryKeyError) Error() string {
	return fmt.Sprintf("build: %s never received its primary key field", e.EntityType)
}
