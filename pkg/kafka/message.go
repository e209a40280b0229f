package kafka

import (
	"encoding/json"
	"time"

	"github.com/pasifika-atlas/reef/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string

	// Trace context (extracted from Kafka headers)
	TraceParent string
	TraceState  string

	Submission *SubmissionMessage
}

// SubmissionMessage is a community submission as it arrives on the wire.
// Community records always enter as unverified regardless of what the
// producer claims, so there is no trust field here.
type SubmissionMessage struct {
	EntityType       string          `json:"entity_type"`
	ExternalID       string          `json:"external_id,omitempty"`
	Fields           map[string]any  `json:"fields"`
	Geometry         json.RawMessage `json:"geometry,omitempty"`
	GeometryEncoding string          `json:"geometry_encoding,omitempty"`
	SubmittedBy      string          `json:"submitted_by,omitempty"`
	SubmittedAt      time.Time       `json:"submitted_at,omitempty"`
}

// ParseSubmission parses the message value as a community submission
func (m *IncomingMessage) ParseSubmission() error {
	var msg SubmissionMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return err
	}
	m.Submission = &msg
	return nil
}

// GetEntityType returns the entity type, falling back to the header
func (m *IncomingMessage) GetEntityType() string {
	if m.Submission != nil && m.Submission.EntityType != "" {
		return m.Submission.EntityType
	}
	return m.Headers["entity_type"]
}

// ToSourceRecordRequest converts the submission into an ingest request.
func (m *IncomingMessage) ToSourceRecordRequest() (*models.CreateSourceRecordRequest, error) {
	if m.Submission == nil {
		if err := m.ParseSubmission(); err != nil {
			return nil, err
		}
	}

	fieldsJSON, err := json.Marshal(m.Submission.Fields)
	if err != nil {
		return nil, err
	}

	req := &models.CreateSourceRecordRequest{
		SourceSystem: models.SourceCommunity,
		EntityType:   m.GetEntityType(),
		Fields:       fieldsJSON,
		TrustTier:    models.TrustTierUnverified,
	}
	if len(m.Submission.Geometry) > 0 {
		req.RawGeometry = []byte(m.Submission.Geometry)
		encoding := m.Submission.GeometryEncoding
		if encoding == "" {
			encoding = "geojson"
		}
		req.GeometryEncoding = &encoding
	}
	return req, nil
}
