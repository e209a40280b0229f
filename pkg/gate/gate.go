// Package gate classifies every canonicalized record as accepted, held, or
// rejected. Rules run in a fixed order; the first failing rule determines
// the outcome, but every failing rule is recorded for transparency.
package gate

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/normalizers"
	"github.com/pasifika-atlas/reef/pkg/schema"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// AffiliationResolver resolves an affiliation reference against the
// canonical entity store. Empty id means unresolved.
type AffiliationResolver interface {
	ResolveAffiliation(ctx context.Context, ref models.AffiliationRef) (string, error)
}

// RejectionLookup answers whether identical content was previously rejected.
type RejectionLookup interface {
	HasRejectedContent(ctx context.Context, contentHash string) (bool, error)
}

// ResolvedAffiliation is an affiliation reference bound to a canonical id.
type ResolvedAffiliation struct {
	Kind     string
	EntityID string
}

// Input is one record under evaluation.
type Input struct {
	Record *models.SourceRecord
	Draft  *models.Draft
	// CoSubmitted maps normalized geographic-entity names submitted earlier
	// in the same run to their canonical ids, so intra-run references can
	// resolve before those entities are accepted.
	CoSubmitted map[string]string
}

// Evaluation is the gate's decision for one record.
type Evaluation struct {
	Status     string
	Violations []models.RuleViolation
	// Affiliations holds the successfully resolved references; written as
	// relation rows when the record is accepted.
	Affiliations []ResolvedAffiliation
}

type Gate struct {
	affiliations AffiliationResolver
	rejections   RejectionLookup
	logger       ectologger.Logger
}

func New(affiliations AffiliationResolver, rejections RejectionLookup, logger ectologger.Logger) *Gate {
	return &Gate{
		affiliations: affiliations,
		rejections:   rejections,
		logger:       logger,
	}
}

// Evaluate runs the automated rule set. Rule order:
//  1. structural completeness  -> Rejected
//  2. referential integrity    -> Held
//  3. geometry validity        -> Rejected (when the kind requires geometry)
//  4. duplicate-of-rejected    -> Held
//  5. unverified trust tier    -> Held
//
// A record passing every rule from a verified source is Accepted.
func (g *Gate) Evaluate(ctx context.Context, in Input) (*Evaluation, error) {
	ctx, span := tracing.StartSpan(ctx, "gate.Gate.Evaluate")
	defer span.End()

	log := g.logger.WithContext(ctx).WithFields(map[string]any{
		"source_record_id": in.Record.ID,
		"entity_type":      in.Draft.EntityType,
	})

	eval := &Evaluation{}
	decided := ""
	decide := func(status string) {
		if decided == "" {
			decided = status
		}
	}

	// 1. structural completeness
	if res := schema.Validate(in.Draft.EntityType, in.Draft.Attributes); !res.Valid {
		for _, verr := range res.Errors {
			eval.Violations = append(eval.Violations, models.RuleViolation{
				RuleID: models.RuleStructuralCompleteness,
				Reason: fmt.Sprintf("%s: %s", verr.Field, verr.Message),
			})
		}
		decide(models.OutcomeRejected)
	}

	// 2. referential integrity
	resolved, unresolved, err := g.resolveAffiliations(ctx, in)
	if err != nil {
		return nil, err
	}
	eval.Affiliations = resolved
	for _, refErr := range unresolved {
		eval.Violations = append(eval.Violations, models.RuleViolation{
			RuleID: models.RuleReferentialIntegrity,
			Reason: refErr.Error(),
		})
	}
	if len(unresolved) > 0 {
		decide(models.OutcomeHeld)
	}

	// 3. geometry validity
	if in.Draft.GeometryErr != "" && geometryRequired(in.Draft) {
		eval.Violations = append(eval.Violations, models.RuleViolation{
			RuleID: models.RuleGeometryValidity,
			Reason: in.Draft.GeometryErr,
		})
		decide(models.OutcomeRejected)
	}

	// 4. duplicate of previously rejected content
	rejectedBefore, err := g.rejections.HasRejectedContent(ctx, in.Record.ContentHash)
	if err != nil {
		return nil, err
	}
	if rejectedBefore {
		eval.Violations = append(eval.Violations, models.RuleViolation{
			RuleID: models.RuleDuplicateOfRejected,
			Reason: "identical content was previously rejected; held for human review",
		})
		decide(models.OutcomeHeld)
	}

	// 5. community trust tier
	if in.Draft.TrustTier != models.TrustTierVerified {
		eval.Violations = append(eval.Violations, models.RuleViolation{
			RuleID: models.RuleTrustTier,
			Reason: "unverified submission source; held for moderation",
		})
		decide(models.OutcomeHeld)
	}

	if decided == "" {
		decided = models.OutcomeAccepted
	}
	eval.Status = decided

	log.WithFields(map[string]any{
		"status":     eval.Status,
		"violations": len(eval.Violations),
	}).Info("Gate evaluated record")
	return eval, nil
}

func (g *Gate) resolveAffiliations(ctx context.Context, in Input) ([]ResolvedAffiliation, []*ReferenceError, error) {
	var resolved []ResolvedAffiliation
	var unresolved []*ReferenceError

	for _, ref := range in.Draft.Affiliations {
		if ref.Name != "" {
			if id, ok := in.CoSubmitted[normalizers.NormalizeName(ref.Name)]; ok {
				resolved = append(resolved, ResolvedAffiliation{Kind: ref.Kind, EntityID: id})
				continue
			}
		}
		id, err := g.affiliations.ResolveAffiliation(ctx, ref)
		if err != nil {
			return nil, nil, err
		}
		if id == "" {
			unresolved = append(unresolved, &ReferenceError{Kind: ref.Kind, Name: ref.Name})
			continue
		}
		resolved = append(resolved, ResolvedAffiliation{Kind: ref.Kind, EntityID: id})
	}

	return resolved, unresolved, nil
}

// geometryRequired reports whether the entity kind mandates a valid
// geometry. Islands and maritime zones need an areal footprint; works and
// named places do not.
func geometryRequired(draft *models.Draft) bool {
	if draft.EntityType != models.EntityTypeGeographicEntity {
		return false
	}
	kind, _ := draft.Attributes[models.FieldKind].(string)
	return kind == models.KindIsland || kind == models.KindMaritimeZone
}
