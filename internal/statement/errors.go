package statement

import "fmt"

// HeaderNotFoundError means no row of the raw statement contains HeaderMarker.
type HeaderNotFoundError struct {
	Marker string
}

func (e *HeaderNotFoundError) Error() string {
	return fmt.Sprintf("header row with marker %q not found", e.Marker)
}

// Kind implements the error classification used by the pipeline.
func (e *HeaderNotFoundError) Kind() string { return "HeaderNotFoundError" }

// MissingColumnError names a required column absent from the header row.
type MissingColumnError struct {
	Column string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("required column %q missing from header row", e.Column)
}

// Kind implements the error classification used by the pipeline.
func (e *MissingColumnError) Kind() string { return "MissingColumnError" }

// FormatError means the artifact could not be read as a spreadsheet at all.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("reading statement %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Kind implements the error classification used by the pipeline.
func (e *FormatError) Kind() string { return "ArtifactFormatError" }
