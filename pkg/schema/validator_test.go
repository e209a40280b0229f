package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/models"
)

func TestValidate_CulturalWork_Valid(t *testing.T) {
	result := Validate(models.EntityTypeCulturalWork, map[string]any{
		models.FieldTitle:          "Whale Rider",
		models.FieldReleaseYear:    float64(2002),
		models.FieldBudgetAmount:   float64(9_000_000),
		models.FieldBudgetCurrency: "NZD",
		models.FieldLanguages:      []any{"en", "mi"},
		models.FieldStatus:         models.StatusReleased,
		models.FieldStreaming:      map[string]any{"netflix": "https://example.com"},
	})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
}

func TestValidate_CulturalWork_MissingTitle(t *testing.T) {
	result := Validate(models.EntityTypeCulturalWork, map[string]any{
		models.FieldReleaseYear: float64(2002),
	})
	require.False(t, result.Valid)
	assert.Equal(t, models.FieldTitle, result.Errors[0].Field)
}

func TestValidate_CulturalWork_BadTypes(t *testing.T) {
	result := Validate(models.EntityTypeCulturalWork, map[string]any{
		models.FieldTitle:       "Moana",
		models.FieldReleaseYear: 2016.5,              // not an integer
		models.FieldLanguages:   "en",                // not a set
		models.FieldStatus:      "direct_to_video",   // not in vocabulary
	})
	require.False(t, result.Valid)
	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields[models.FieldReleaseYear])
	assert.True(t, fields[models.FieldLanguages])
	assert.True(t, fields[models.FieldStatus])
}

func TestValidate_GeographicEntity_Valid(t *testing.T) {
	result := Validate(models.EntityTypeGeographicEntity, map[string]any{
		models.FieldName:    "Tutuila",
		models.FieldKind:    models.KindIsland,
		models.FieldAreaKm2: 142.3,
	})
	assert.True(t, result.Valid)
}

func TestValidate_GeographicEntity_UnknownKind(t *testing.T) {
	result := Validate(models.EntityTypeGeographicEntity, map[string]any{
		models.FieldName: "Tutuila",
		models.FieldKind: "volcano",
	})
	assert.False(t, result.Valid)
}

func TestValidate_UnknownEntityType(t *testing.T) {
	result := Validate("spacecraft", map[string]any{"name": "x"})
	require.False(t, result.Valid)
	assert.Equal(t, "entity_type", result.Errors[0].Field)
}

func TestValidate_OptionalFieldsMayBeAbsent(t *testing.T) {
	result := Validate(models.EntityTypeCulturalWork, map[string]any{
		models.FieldTitle: "Tanna",
	})
	assert.True(t, result.Valid)
}

func TestForEntityType(t *testing.T) {
	_, ok := ForEntityType(models.EntityTypeCulturalWork)
	assert.True(t, ok)
	_, ok = ForEntityType("nope")
	assert.False(t, ok)
}
