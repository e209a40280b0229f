package canonicalize

import "fmt"

// SchemaError indicates a source record cannot be shaped into a canonical
// draft: no profile for its source system, or a required field (title for
// works, name for geographic entities) is missing. Records failing this way
// go straight to a Rejected outcome and never reach identity resolution.
type SchemaError struct {
	SourceSystem string
	Field        string
	Reason       string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("canonicalization failed for source %q: field %q: %s", e.SourceSystem, e.Field, e.Reason)
	}
	return fmt.Sprintf("canonicalization failed for source %q: %s", e.SourceSystem, e.Reason)
}
