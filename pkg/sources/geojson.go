package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/pasifika-atlas/reef/pkg/geometry"
	"github.com/pasifika-atlas/reef/pkg/models"
)

// island datasets name features inconsistently; checked in this order
var islandNameProperties = []string{"Name_USGSO", "NAME_wcmcI", "NAME_LOCAL", "GEONAME"}

type geoJSONFeature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	Features []geoJSONFeature `json:"features"`
}

// GeoJSONSource streams features from a FeatureCollection export. Minor
// islets are filtered out up front: a feature passes when its recorded area
// clears the cutoff or its name is a known major island.
type GeoJSONSource struct {
	name         string
	sourceSystem string
	trustTier    string
	features     []geoJSONFeature
	pos          int
	filterMinor  bool
}

// NewGeoJSONSource parses the collection eagerly; feature iteration is lazy.
func NewGeoJSONSource(name, sourceSystem, trustTier string, r io.Reader, filterMinor bool) (*GeoJSONSource, error) {
	var collection geoJSONCollection
	if err := json.NewDecoder(r).Decode(&collection); err != nil {
		return nil, fmt.Errorf("parsing feature collection for %s: %w", name, err)
	}
	if collection.Type != "FeatureCollection" {
		return nil, fmt.Errorf("expected FeatureCollection for %s, got %q", name, collection.Type)
	}

	return &GeoJSONSource{
		name:         name,
		sourceSystem: sourceSystem,
		trustTier:    trustTier,
		features:     collection.Features,
		filterMinor:  filterMinor,
	}, nil
}

func (s *GeoJSONSource) Name() string {
	return s.name
}

func (s *GeoJSONSource) Next(ctx context.Context) (*models.CreateSourceRecordRequest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.pos >= len(s.features) {
			return nil, io.EOF
		}
		feature := s.features[s.pos]
		s.pos++

		if s.filterMinor && !s.isMajor(feature.Properties) {
			continue
		}

		fieldsJSON, err := json.Marshal(feature.Properties)
		if err != nil {
			return nil, err
		}

		encoding := "geojson"
		return &models.CreateSourceRecordRequest{
			SourceSystem:     s.sourceSystem,
			EntityType:       models.EntityTypeGeographicEntity,
			Fields:           fieldsJSON,
			RawGeometry:      append([]byte(nil), feature.Geometry...),
			GeometryEncoding: &encoding,
			TrustTier:        s.trustTier,
		}, nil
	}
}

func (s *GeoJSONSource) isMajor(properties map[string]any) bool {
	return geometry.IsMajorIsland(featureArea(properties), featureName(properties))
}

func featureName(properties map[string]any) string {
	for _, key := range islandNameProperties {
		if v, ok := properties[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func featureArea(properties map[string]any) float64 {
	switch v := properties["IslandArea"].(type) {
	case float64:
		return v
	case string:
		area, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return area
	default:
		return 0
	}
}
