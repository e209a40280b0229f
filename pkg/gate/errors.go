package gate

import "fmt"

// ReferenceError indicates a dangling affiliation: a draft references a
// geographic entity that neither exists nor was co-submitted in the same
// run.
type ReferenceError struct {
	Kind string
	Name string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("ReferenceError: unresolved affiliation %s %q", e.Kind, e.Name)
}

// ModerationStateError indicates a moderator decision was submitted for a
// record that is not currently Held. Accepted and Rejected are terminal.
type ModerationStateError struct {
	SourceRecordID string
	Status         string
}

func (e *ModerationStateError) Error() string {
	return fmt.Sprintf("record %s is %s, not held; decision refused", e.SourceRecordID, e.Status)
}
