package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pasifika-atlas/reef/pkg/models"
)

func TestParseSubmission(t *testing.T) {
	msg := &IncomingMessage{
		Value: []byte(`{"entity_type":"cultural_work","fields":{"title":"Waru","release_year":"2017"},"submitted_by":"hui@example.org"}`),
	}

	require.NoError(t, msg.ParseSubmission())
	assert.Equal(t, models.EntityTypeCulturalWork, msg.Submission.EntityType)
	assert.Equal(t, "Waru", msg.Submission.Fields["title"])
	assert.Equal(t, "hui@example.org", msg.Submission.SubmittedBy)
}

func TestParseSubmission_MalformedPayload(t *testing.T) {
	msg := &IncomingMessage{Value: []byte(`not json`)}
	assert.Error(t, msg.ParseSubmission())
}

func TestGetEntityType_HeaderFallback(t *testing.T) {
	msg := &IncomingMessage{
		Value:   []byte(`{"fields":{"title":"Waru"}}`),
		Headers: map[string]string{"entity_type": models.EntityTypeCulturalWork},
	}
	require.NoError(t, msg.ParseSubmission())
	assert.Equal(t, models.EntityTypeCulturalWork, msg.GetEntityType())
}

func TestToSourceRecordRequest_AlwaysUnverified(t *testing.T) {
	msg := &IncomingMessage{
		Value: []byte(`{"entity_type":"cultural_work","fields":{"title":"Waru"}}`),
	}

	req, err := msg.ToSourceRecordRequest()
	require.NoError(t, err)
	assert.Equal(t, models.SourceCommunity, req.SourceSystem)
	assert.Equal(t, models.EntityTypeCulturalWork, req.EntityType)
	assert.Equal(t, models.TrustTierUnverified, req.TrustTier)
	assert.Nil(t, req.GeometryEncoding)

	fields, err := req.FieldsMap()
	require.NoError(t, err)
	assert.Equal(t, "Waru", fields["title"])
}

func TestToSourceRecordRequest_CarriesGeometry(t *testing.T) {
	msg := &IncomingMessage{
		Value: []byte(`{"entity_type":"geographic_entity","fields":{"name":"Motu"},"geometry":{"type":"Point","coordinates":[-170.7,-14.3]}}`),
	}

	req, err := msg.ToSourceRecordRequest()
	require.NoError(t, err)
	assert.NotEmpty(t, req.RawGeometry)
	require.NotNil(t, req.GeometryEncoding)
	assert.Equal(t, "geojson", *req.GeometryEncoding)
}
