package sources

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/models"
)

func TestCSVSource_RowsBecomeRawFields(t *testing.T) {
	data := strings.Join([]string{
		`filmName,airtableId,budgetTot,lang`,
		`Whale Rider,rec1,"$2,500,000",en; mi`,
		`Vai,rec2,,sm`,
	}, "\n")

	src, err := NewCSVSource("airtable-films", models.SourceAirtable, models.EntityTypeCulturalWork, models.TrustTierVerified, strings.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "airtable-films", src.Name())

	first, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SourceAirtable, first.SourceSystem)
	assert.Equal(t, models.EntityTypeCulturalWork, first.EntityType)
	assert.Equal(t, models.TrustTierVerified, first.TrustTier)

	fields, err := first.FieldsMap()
	require.NoError(t, err)
	assert.Equal(t, "Whale Rider", fields["filmName"])
	assert.Equal(t, "$2,500,000", fields["budgetTot"])
	assert.Equal(t, "en; mi", fields["lang"])

	// empty cells are omitted, not recorded as blank strings
	second, err := src.Next(context.Background())
	require.NoError(t, err)
	fields, err = second.FieldsMap()
	require.NoError(t, err)
	assert.Equal(t, "Vai", fields["filmName"])
	_, present := fields["budgetTot"]
	assert.False(t, present)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestCSVSource_RaggedRowsTolerated(t *testing.T) {
	data := "filmName,lang\nVai\nTe Rua,mi,stray\n"

	src, err := NewCSVSource("ragged", models.SourceAirtable, models.EntityTypeCulturalWork, models.TrustTierVerified, strings.NewReader(data))
	require.NoError(t, err)

	// short row: missing trailing cells read as absent
	req, err := src.Next(context.Background())
	require.NoError(t, err)
	fields, err := req.FieldsMap()
	require.NoError(t, err)
	assert.Equal(t, "Vai", fields["filmName"])
	_, present := fields["lang"]
	assert.False(t, present)

	// long row: cells beyond the header are dropped
	req, err = src.Next(context.Background())
	require.NoError(t, err)
	fields, err = req.FieldsMap()
	require.NoError(t, err)
	assert.Equal(t, "Te Rua", fields["filmName"])
	assert.Equal(t, "mi", fields["lang"])
	assert.Len(t, fields, 2)

	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

const testFeatureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"Name_USGSO": "Tutuila", "IslandArea": "142.3"},
      "geometry": {"type": "Polygon", "coordinates": [[[-170.8,-14.4],[-170.5,-14.4],[-170.5,-14.2],[-170.8,-14.2],[-170.8,-14.4]]]}
    },
    {
      "type": "Feature",
      "properties": {"NAME_LOCAL": "Unnamed Islet", "IslandArea": 0.2},
      "geometry": {"type": "Polygon", "coordinates": [[[-170.9,-14.1],[-170.89,-14.1],[-170.89,-14.09],[-170.9,-14.09],[-170.9,-14.1]]]}
    },
    {
      "type": "Feature",
      "properties": {"NAME_LOCAL": "Bora Bora", "IslandArea": 0.5},
      "geometry": {"type": "Polygon", "coordinates": [[[-151.8,-16.6],[-151.7,-16.6],[-151.7,-16.4],[-151.8,-16.4],[-151.8,-16.6]]]}
    }
  ]
}`

func TestGeoJSONSource_StreamsFeatures(t *testing.T) {
	src, err := NewGeoJSONSource("islands", models.SourceGeoJSON, models.TrustTierVerified, strings.NewReader(testFeatureCollection), false)
	require.NoError(t, err)

	count := 0
	for {
		req, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
		assert.Equal(t, models.EntityTypeGeographicEntity, req.EntityType)
		require.NotNil(t, req.GeometryEncoding)
		assert.Equal(t, "geojson", *req.GeometryEncoding)
		assert.NotEmpty(t, req.RawGeometry)
	}
	assert.Equal(t, 3, count)
}

func TestGeoJSONSource_FiltersMinorIslets(t *testing.T) {
	src, err := NewGeoJSONSource("islands", models.SourceGeoJSON, models.TrustTierVerified, strings.NewReader(testFeatureCollection), true)
	require.NoError(t, err)

	var names []string
	for {
		req, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fields, err := req.FieldsMap()
		require.NoError(t, err)
		name, _ := fields["Name_USGSO"].(string)
		if name == "" {
			name, _ = fields["NAME_LOCAL"].(string)
		}
		names = append(names, name)
	}

	// Tutuila clears the area cutoff; Bora Bora is small but a known major
	// island; the unnamed islet is dropped.
	assert.Equal(t, []string{"Tutuila", "Bora Bora"}, names)
}

func TestGeoJSONSource_RejectsNonCollection(t *testing.T) {
	_, err := NewGeoJSONSource("bad", models.SourceGeoJSON, models.TrustTierVerified, strings.NewReader(`{"type":"Feature"}`), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FeatureCollection")
}

func TestStaticSource_ServesFixedRecordsThenEOF(t *testing.T) {
	reqs := []*models.CreateSourceRecordRequest{
		{SourceSystem: models.SourceCommunity, EntityType: models.EntityTypeCulturalWork},
		{SourceSystem: models.SourceCommunity, EntityType: models.EntityTypeCulturalWork},
	}
	src := NewStaticSource("community", reqs...)

	for range reqs {
		_, err := src.Next(context.Background())
		require.NoError(t, err)
	}
	_, err := src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestStaticSource_HonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewStaticSource("community", &models.CreateSourceRecordRequest{})
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
