// Package schema checks draft attribute payloads for structural
// completeness before moderation: required fields, value types, and
// controlled vocabularies.
package schema

import (
	"fmt"

	"github.com/pasifika-atlas/reef/pkg/models"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validating entity data
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// FieldType is the expected shape of an attribute value.
type FieldType string

const (
	TypeString    FieldType = "string"
	TypeInteger   FieldType = "integer"
	TypeNumber    FieldType = "number"
	TypeStringSet FieldType = "string_set"
	TypeStringMap FieldType = "string_map"
)

// FieldDefinition describes one attribute.
type FieldDefinition struct {
	Type FieldType
	// Enum restricts string values to a controlled vocabulary.
	Enum []string
}

// EntitySchema describes the canonical attribute payload of one entity type.
type EntitySchema struct {
	Required   []string
	Properties map[string]FieldDefinition
}

// Schemas for the two curated entity families.
var (
	culturalWorkSchema = EntitySchema{
		Required: []string{models.FieldTitle},
		Properties: map[string]FieldDefinition{
			models.FieldTitle:          {Type: TypeString},
			models.FieldReleaseYear:    {Type: TypeInteger},
			models.FieldBudgetAmount:   {Type: TypeNumber},
			models.FieldBudgetCurrency: {Type: TypeString},
			models.FieldFundingSources: {Type: TypeStringSet},
			models.FieldLanguages:      {Type: TypeStringSet},
			models.FieldStatus: {Type: TypeString, Enum: []string{
				models.StatusReleased, models.StatusInProduction, models.StatusUnknown,
			}},
			models.FieldIndigenousLeadership: {Type: TypeString, Enum: []string{
				models.TriStateYes, models.TriStateNo, models.TriStateUnknown,
			}},
			models.FieldStreaming: {Type: TypeStringMap},
			models.FieldAwards:    {Type: TypeStringSet},
			models.FieldSummary:   {Type: TypeString},
			models.FieldLogline:   {Type: TypeString},
		},
	}

	geographicEntitySchema = EntitySchema{
		Required: []string{models.FieldName, models.FieldKind},
		Properties: map[string]FieldDefinition{
			models.FieldName: {Type: TypeString},
			models.FieldKind: {Type: TypeString, Enum: []string{
				models.KindIsland, models.KindMaritimeZone, models.KindPlaceName, models.KindOther,
			}},
			models.FieldRegion:  {Type: TypeString},
			models.FieldAreaKm2: {Type: TypeNumber},
		},
	}
)

// ForEntityType returns the schema for an entity type.
func ForEntityType(entityType string) (EntitySchema, bool) {
	switch entityType {
	case models.EntityTypeCulturalWork:
		return culturalWorkSchema, true
	case models.EntityTypeGeographicEntity:
		return geographicEntitySchema, true
	default:
		return EntitySchema{}, false
	}
}

// Validate checks an attribute payload against the entity type's schema.
func Validate(entityType string, data map[string]any) ValidationResult {
	result := ValidationResult{Valid: true, Errors: []ValidationError{}}

	s, ok := ForEntityType(entityType)
	if !ok {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field:   "entity_type",
			Message: fmt.Sprintf("unknown entity type %q", entityType),
		})
		return result
	}

	for _, required := range s.Required {
		v, exists := data[required]
		if !exists || v == nil || v == "" {
			result.Valid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   required,
				Message: "required field is missing",
			})
		}
	}

	for fieldName, fieldDef := range s.Properties {
		value, exists := data[fieldName]
		if !exists || value == nil {
			// optional fields may be absent or null
			continue
		}
		result.Errors = append(result.Errors, validateField(fieldName, value, fieldDef)...)
	}
	if len(result.Errors) > 0 {
		result.Valid = false
	}

	return result
}

func validateField(name string, value any, def FieldDefinition) []ValidationError {
	var errs []ValidationError
	fail := func(msg string) {
		errs = append(errs, ValidationError{Field: name, Message: msg})
	}

	switch def.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			fail("expected string")
			break
		}
		if len(def.Enum) > 0 && !contains(def.Enum, s) {
			fail(fmt.Sprintf("value %q not in allowed set", s))
		}
	case TypeInteger:
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			if v != float64(int64(v)) {
				fail("expected integer")
			}
		default:
			fail("expected integer")
		}
	case TypeNumber:
		switch value.(type) {
		case int, int64, float64:
		default:
			fail("expected number")
		}
	case TypeStringSet:
		switch v := value.(type) {
		case []string:
		case []any:
			for _, el := range v {
				if _, ok := el.(string); !ok {
					fail("expected array of strings")
					break
				}
			}
		default:
			fail("expected array of strings")
		}
	case TypeStringMap:
		switch v := value.(type) {
		case map[string]string:
		case map[string]any:
			for _, el := range v {
				if _, ok := el.(string); !ok {
					fail("expected map of strings")
					break
				}
			}
		default:
			fail("expected map of strings")
		}
	}

	return errs
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
