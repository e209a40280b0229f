package models

import (
	"encoding/json"
	"time"
)

// Moderation statuses for a source record's contribution. Accepted and
// Rejected are terminal; Held resolves only through an explicit moderator
// decision.
const (
	OutcomePending  = "pending"
	OutcomeAccepted = "accepted"
	OutcomeHeld     = "held"
	OutcomeRejected = "rejected"
)

// Gate rule identifiers, in evaluation order.
const (
	RuleStructuralCompleteness = "structural_completeness"
	RuleReferentialIntegrity   = "referential_integrity"
	RuleGeometryValidity       = "geometry_validity"
	RuleDuplicateOfRejected    = "duplicate_of_rejected"
	RuleTrustTier              = "trust_tier"
)

// RuleMergeConflict marks records held because folding them into their
// matched entity raised an irreconcilable conflict. Not part of the gate's
// ordered rule set; recorded by the pipeline when merging fails.
const RuleMergeConflict = "merge_conflict"

// RuleViolation is one failed rule with its human-readable reason.
type RuleViolation struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// ValidationOutcome is the single decision recorded for one source record in
// one run. Violations preserve every failed rule, not just the deciding one.
type ValidationOutcome struct {
	ID             string          `json:"id" db:"id"`
	SourceRecordID string          `json:"source_record_id" db:"source_record_id"`
	RunID          string          `json:"run_id" db:"run_id"`
	EntityID       *string         `json:"entity_id,omitempty" db:"entity_id"`
	Status         string          `json:"status" db:"status"`
	Violations     json.RawMessage `json:"violations" db:"violations"`
	DecidedAt      time.Time       `json:"decided_at" db:"decided_at"`
	DecidedBy      *string         `json:"decided_by,omitempty" db:"decided_by"`
}

// ViolationList decodes the recorded rule violations.
func (o *ValidationOutcome) ViolationList() ([]RuleViolation, error) {
	var out []RuleViolation
	if len(o.Violations) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(o.Violations, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ModerationDecisionRequest is an external moderator's resolution of a Held
// record.
type ModerationDecisionRequest struct {
	Decision  string `json:"decision" validate:"required,oneof=accept reject"`
	Reason    string `json:"reason" validate:"required"`
	Moderator string `json:"moderator" validate:"required"`
}

// Moderator decisions.
const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)
