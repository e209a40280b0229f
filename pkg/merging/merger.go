// Package merging folds a matched draft into an existing canonical entity
// under the field-level merge policy: scalars prefer the most recently
// accepted non-null value, set-valued fields take the union, and geometry is
// replaced only by an authoritative source. Merging is idempotent.
package merging

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/geometry"
	"github.com/pasifika-atlas/reef/pkg/models"
)

// DuplicateConflictError signals an irreconcilable merge, such as two
// authoritative sources disagreeing about an entity's geometry.
type DuplicateConflictError struct {
	EntityID string
	Reason   string
}

func (e *DuplicateConflictError) Error() string {
	return fmt.Sprintf("irreconcilable merge for entity %s: %s", e.EntityID, e.Reason)
}

// geometryAuthorityField marks, inside the attribute payload, whether the
// entity's current geometry came from a geometry-authoritative source.
const geometryAuthorityField = "geometry_from_authoritative_source"

// setFields take union semantics; everything else is scalar.
var setFields = map[string]struct{}{
	models.FieldFundingSources: {},
	models.FieldLanguages:      {},
	models.FieldAwards:         {},
}

// mapFields take per-key union semantics, incoming value winning per key.
var mapFields = map[string]struct{}{
	models.FieldStreaming: {},
}

// Result is the outcome of one merge.
type Result struct {
	// Attributes is the merged attribute payload.
	Attributes map[string]any
	// Geometry is the resulting canonical geometry (possibly the existing
	// one, retained).
	Geometry *geometry.Geometry
	// GeometryReplaced is true when the draft's geometry displaced the
	// existing one.
	GeometryReplaced bool
	// GeometryAlternate is true when the draft carried geometry that was
	// not applied; the caller records it in provenance only.
	GeometryAlternate bool
	// Diff holds the field-level changes for the ledger entry. Empty when
	// the merge was a no-op re-ingest.
	Diff map[string]models.FieldChange
}

// Changed reports whether the merge altered any field.
func (r *Result) Changed() bool {
	return len(r.Diff) > 0
}

type Merger struct {
	logger ectologger.Logger
}

func NewMerger(logger ectologger.Logger) *Merger {
	return &Merger{logger: logger}
}

// Merge folds draft fields into the existing entity state. existing may be
// nil for a brand-new entity, in which case every draft field appears in the
// diff with a nil old value.
func (m *Merger) Merge(existing *models.CanonicalEntity, draft *models.Draft) (*Result, error) {
	current := map[string]any{}
	var currentGeometry *geometry.Geometry
	if existing != nil {
		var err error
		current, err = existing.AttributesMap()
		if err != nil {
			return nil, fmt.Errorf("existing attributes are corrupt: %w", err)
		}
		if len(existing.Geometry) > 0 {
			currentGeometry = &geometry.Geometry{}
			if err := json.Unmarshal(existing.Geometry, currentGeometry); err != nil {
				return nil, fmt.Errorf("existing geometry is corrupt: %w", err)
			}
		}
	}

	result := &Result{
		Attributes: cloneMap(current),
		Geometry:   currentGeometry,
		Diff:       map[string]models.FieldChange{},
	}

	for field, incoming := range draft.Attributes {
		if incoming == nil {
			continue
		}
		old := result.Attributes[field]
		var merged any
		switch {
		case isSetField(field):
			merged = unionStrings(old, incoming)
		case isMapField(field):
			merged = unionMap(old, incoming)
		default:
			// scalar: the draft is the most recently accepted value
			merged = incoming
		}
		if !jsonEqual(old, merged) {
			result.Attributes[field] = merged
			result.Diff[field] = models.FieldChange{Old: old, New: merged}
		}
	}

	if err := m.mergeGeometry(existing, draft, result); err != nil {
		return nil, err
	}

	return result, nil
}

// mergeGeometry applies the geometry replacement policy: only a validated
// geometry from an authoritative source displaces existing geometry; any
// other candidate is retained in provenance only.
func (m *Merger) mergeGeometry(existing *models.CanonicalEntity, draft *models.Draft, result *Result) error {
	if draft.Geometry == nil {
		return nil
	}

	if result.Geometry == nil {
		// no existing geometry: any validated geometry is an improvement
		result.Geometry = draft.Geometry.Clone()
		result.GeometryReplaced = true
		result.Diff["geometry"] = models.FieldChange{Old: nil, New: geometrySummary(draft.Geometry)}
		result.Attributes[geometryAuthorityField] = draft.GeometryAuthoritative
		return nil
	}

	if !draft.GeometryAuthoritative {
		if !geometriesEqual(result.Geometry, draft.Geometry) {
			result.GeometryAlternate = true
		}
		return nil
	}

	if geometriesEqual(result.Geometry, draft.Geometry) {
		return nil
	}

	existingAuthoritative, _ := result.Attributes[geometryAuthorityField].(bool)
	if existingAuthoritative {
		entityID := ""
		if existing != nil {
			entityID = existing.ID
		}
		return &DuplicateConflictError{
			EntityID: entityID,
			Reason:   "conflicting geometries from authoritative sources",
		}
	}

	oldSummary := geometrySummary(result.Geometry)
	result.Geometry = draft.Geometry.Clone()
	result.GeometryReplaced = true
	result.Diff["geometry"] = models.FieldChange{Old: oldSummary, New: geometrySummary(draft.Geometry)}
	result.Attributes[geometryAuthorityField] = true
	return nil
}

func isSetField(field string) bool {
	_, ok := setFields[field]
	return ok
}

func isMapField(field string) bool {
	_, ok := mapFields[field]
	return ok
}

// unionStrings merges two set-valued fields preserving existing order and
// appending unseen incoming values.
func unionStrings(old, incoming any) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range toStringSlice(old) {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for _, v := range toStringSlice(incoming) {
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unionMap(old, incoming any) map[string]any {
	out := map[string]any{}
	for k, v := range toAnyMap(old) {
		out[k] = v
	}
	for k, v := range toAnyMap(incoming) {
		out[k] = v
	}
	return out
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, el := range vv {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toAnyMap(v any) map[string]any {
	switch vv := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return vv
	case map[string]string:
		out := make(map[string]any, len(vv))
		for k, s := range vv {
			out[k] = s
		}
		return out
	default:
		return nil
	}
}

// jsonEqual compares values through their JSON rendering so that []string
// and []any forms of the same set compare equal.
func jsonEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return string(aj) == string(bj)
}

func geometriesEqual(a, b *geometry.Geometry) bool {
	if a == nil || b == nil {
		return a == b
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// geometrySummary renders a compact diff value; full geometry stays in the
// entity row, the ledger records the transition shape only.
func geometrySummary(g *geometry.Geometry) any {
	if g == nil {
		return nil
	}
	return string(g.Type)
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
