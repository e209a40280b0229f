package canonicalize

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"

	"github.com/pasifika-atlas/reef/pkg/extractor"
	"github.com/pasifika-atlas/reef/pkg/geometry"
	"github.com/pasifika-atlas/reef/pkg/models"
	"github.com/pasifika-atlas/reef/pkg/normalizers"
	"github.com/pasifika-atlas/reef/pkg/tracing"
)

// Canonicalizer shapes raw source records into draft entities using the
// field-mapping profile of their source system. Unmapped raw fields stay in
// the retained SourceRecord; nothing is dropped from provenance.
type Canonicalizer struct {
	geometries *geometry.Normalizer
	extract    *extractor.Extractor
	logger     ectologger.Logger
}

func New(geometries *geometry.Normalizer, logger ectologger.Logger) *Canonicalizer {
	return &Canonicalizer{
		geometries: geometries,
		extract:    extractor.New(),
		logger:     logger,
	}
}

// Canonicalize produces a draft from one source record, or a SchemaError
// when the record cannot be shaped at all. Geometry failures do not error
// here; they are carried on the draft for the gate to judge.
func (c *Canonicalizer) Canonicalize(ctx context.Context, record *models.SourceRecord) (*models.Draft, error) {
	ctx, span := tracing.StartSpan(ctx, "canonicalize.Canonicalizer.Canonicalize")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"source_record_id": record.ID,
		"source_system":    record.SourceSystem,
		"entity_type":      record.EntityType,
	})

	profile, ok := LookupProfile(record.SourceSystem, record.EntityType)
	if !ok {
		return nil, &SchemaError{
			SourceSystem: record.SourceSystem,
			Reason:       fmt.Sprintf("no field-mapping profile for entity type %q", record.EntityType),
		}
	}

	fields, err := record.FieldsMap()
	if err != nil {
		return nil, &SchemaError{SourceSystem: record.SourceSystem, Reason: "raw fields are not a JSON object: " + err.Error()}
	}

	name := c.firstNonEmpty(fields, profile.NameSources)
	if name == "" {
		return nil, &SchemaError{
			SourceSystem: record.SourceSystem,
			Field:        strings.Join(profile.NameSources, "|"),
			Reason:       "required name/title missing",
		}
	}

	draft := &models.Draft{
		EntityType:            record.EntityType,
		SourceSystem:          record.SourceSystem,
		DisplayName:           name,
		NormalizedName:        normalizers.NormalizeName(name),
		Attributes:            map[string]any{},
		GeometryAuthoritative: profile.GeometryAuthoritative,
		TrustTier:             record.TrustTier,
	}
	if profile.ExternalIDField != "" {
		draft.ExternalID = c.firstNonEmpty(fields, []string{profile.ExternalIDField})
	}

	switch record.EntityType {
	case models.EntityTypeCulturalWork:
		draft.Attributes[models.FieldTitle] = name
	case models.EntityTypeGeographicEntity:
		draft.Attributes[models.FieldName] = name
		kind := c.firstNonEmpty(fields, []string{models.FieldKind})
		if kind == "" {
			kind = profile.DefaultKind
		}
		if kind == "" {
			kind = models.KindOther
		}
		draft.Attributes[models.FieldKind] = kind
	default:
		return nil, &SchemaError{SourceSystem: record.SourceSystem, Reason: fmt.Sprintf("unknown entity type %q", record.EntityType)}
	}

	for _, mapping := range profile.FieldMappings {
		c.applyMapping(draft, fields, mapping)
	}

	draft.Affiliations = append(draft.Affiliations,
		c.collectAffiliations(fields, profile.CountryPrefix, models.RelationCountryAffiliation)...)
	draft.Affiliations = append(draft.Affiliations,
		c.collectAffiliations(fields, profile.IslandPrefix, models.RelationIslandAffiliation)...)

	c.normalizeGeometry(ctx, record, profile, draft)

	log.WithField("normalized_name", draft.NormalizedName).Debug("Canonicalized source record")
	return draft, nil
}

// applyMapping resolves one field mapping: first non-empty source value,
// coerced to the target type. Coercion failures leave the attribute null and
// record a note on the draft.
func (c *Canonicalizer) applyMapping(draft *models.Draft, fields map[string]any, mapping FieldMapping) {
	raw := c.firstNonEmpty(fields, mapping.Sources)
	if raw == "" {
		return
	}

	note := func(err error) {
		draft.CoercionNotes = append(draft.CoercionNotes,
			fmt.Sprintf("%s: %v", mapping.Target, err))
	}

	switch mapping.Coerce {
	case CoerceYear:
		year, err := ParseYear(raw)
		if err != nil {
			note(err)
			return
		}
		draft.Attributes[mapping.Target] = year
	case CoerceBudget:
		amount, currency, err := ParseBudget(raw)
		if err != nil {
			note(err)
			return
		}
		draft.Attributes[models.FieldBudgetAmount] = amount
		draft.Attributes[models.FieldBudgetCurrency] = currency
	case CoerceTriState:
		draft.Attributes[mapping.Target] = ParseTriState(raw)
	case CoerceStatus:
		draft.Attributes[mapping.Target] = ParseProductionStatus(raw)
	case CoerceStreaming:
		draft.Attributes[mapping.Target] = ParseStreaming(raw)
	case CoerceList:
		if vals := SplitList(raw); len(vals) > 0 {
			draft.Attributes[mapping.Target] = vals
		}
	case CoerceLangList:
		vals := SplitList(raw)
		codes := make([]string, 0, len(vals))
		for _, v := range vals {
			if code := normalizers.NormalizeLanguageCode(v); code != "" {
				codes = append(codes, code)
			}
		}
		if len(codes) > 0 {
			draft.Attributes[mapping.Target] = codes
		}
	case CoerceFloat:
		v, err := ParseFloat(raw)
		if err != nil {
			note(err)
			return
		}
		draft.Attributes[mapping.Target] = v
	default:
		draft.Attributes[mapping.Target] = raw
	}
}

// firstNonEmpty tries each source path in order and returns the first
// non-empty string rendering.
func (c *Canonicalizer) firstNonEmpty(fields map[string]any, sources []string) string {
	for _, src := range sources {
		val, err := c.extract.ExtractString(fields, src)
		if err != nil || val == nil {
			continue
		}
		if s := strings.TrimSpace(*val); s != "" {
			return s
		}
	}
	return ""
}

// collectAffiliations gathers numbered affiliation columns ("countryAffil 1",
// "countryAffil 2", ...), the bare column, and plural array forms.
func (c *Canonicalizer) collectAffiliations(fields map[string]any, prefix, kind string) []models.AffiliationRef {
	if prefix == "" {
		return nil
	}

	seen := map[string]struct{}{}
	var refs []models.AffiliationRef
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := normalizers.NormalizeName(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		refs = append(refs, models.AffiliationRef{Kind: kind, Name: name})
	}

	if v := c.firstNonEmpty(fields, []string{prefix}); v != "" {
		add(v)
	}
	if vals, err := c.extract.ExtractStringSlice(fields, prefix+"s"); err == nil {
		for _, v := range vals {
			add(v)
		}
	}

	// numbered columns, in numeric order
	numbered := map[int]string{}
	var order []int
	for key := range fields {
		rest, ok := strings.CutPrefix(key, prefix+" ")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			continue
		}
		if v := c.firstNonEmpty(fields, []string{key}); v != "" {
			numbered[n] = v
			order = append(order, n)
		}
	}
	sort.Ints(order)
	for _, n := range order {
		add(numbered[n])
	}

	return refs
}

// normalizeGeometry decodes and validates raw geometry when present. The
// result (or the failure) rides on the draft; the gate decides whether a
// missing or invalid geometry matters for the entity kind.
func (c *Canonicalizer) normalizeGeometry(ctx context.Context, record *models.SourceRecord, profile *Profile, draft *models.Draft) {
	if len(record.RawGeometry) == 0 {
		return
	}

	encoding := profile.GeometryEncoding
	if record.GeometryEncoding != nil && *record.GeometryEncoding != "" {
		encoding = *record.GeometryEncoding
	}

	requirePolygon := false
	if kind, ok := draft.Attributes[models.FieldKind].(string); ok {
		requirePolygon = kind == models.KindIsland || kind == models.KindMaritimeZone
	}

	g, err := c.geometries.Normalize(encoding, record.RawGeometry, requirePolygon)
	if err != nil {
		draft.GeometryErr = err.Error()
		c.logger.WithContext(ctx).WithError(err).WithField("source_record_id", record.ID).
			Warn("Geometry normalization failed")
		return
	}
	draft.Geometry = g

	centroid := geometry.Centroid(g)
	if draft.EntityType == models.EntityTypeGeographicEntity {
		draft.Attributes[models.FieldRegion] = geometry.ClassifyRegion(centroid)
	}
}
