package domain

import "fmt"

// ValidationError reports a request field that is present but unusable.
// It never carries the offending value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Kind implements the error classification used by the pipeline.
func (e *ValidationError) Kind() string { return "ValidationError" }
