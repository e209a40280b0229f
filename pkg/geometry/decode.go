package geometry

import (
	"encoding/json"
	"strings"
)

const (
	EncodingGeoJSON = "geojson"
	EncodingWKT     = "wkt"
)

// Decoder is the external decode capability for encodings this package does
// not handle itself (binary geospatial containers, shapefile payloads, ...).
// Implementations return a geometry in any supported frame; the normalizer
// reprojects to WGS84 afterwards.
type Decoder interface {
	Decode(encoding string, raw []byte) (*Geometry, error)
}

// Normalizer decodes raw geometry blobs into the canonical WGS84
// representation and validates topology. It is a pure transform with no
// side effects.
type Normalizer struct {
	external Decoder
}

// NewNormalizer builds a normalizer. external may be nil when only the
// built-in geojson/wkt encodings are expected.
func NewNormalizer(external Decoder) *Normalizer {
	return &Normalizer{external: external}
}

// Normalize decodes, validates, and reprojects a raw geometry into WGS84.
// requirePolygon rejects point-only geometries with a TopologyError; entity
// kinds that need an areal footprint set it.
func (n *Normalizer) Normalize(encoding string, raw []byte, requirePolygon bool) (*Geometry, error) {
	g, err := n.decode(encoding, raw)
	if err != nil {
		return nil, err
	}
	if g.Frame != FrameWGS84 {
		g = Reproject(g, FrameWGS84)
	}
	if err := Validate(g, requirePolygon); err != nil {
		return nil, err
	}
	return g, nil
}

func (n *Normalizer) decode(encoding string, raw []byte) (*Geometry, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingGeoJSON:
		return decodeGeoJSON(raw)
	case EncodingWKT:
		return decodeWKT(string(raw))
	default:
		if n.external != nil {
			return n.external.Decode(encoding, raw)
		}
		return nil, &DecodeError{Encoding: encoding, Reason: "unsupported encoding and no external decoder configured"}
	}
}

// geoJSONGeometry mirrors the GeoJSON geometry object. Coordinate order is
// [longitude, latitude] per RFC 7946.
type geoJSONGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func decodeGeoJSON(raw []byte) (*Geometry, error) {
	var gj geoJSONGeometry
	if err := json.Unmarshal(raw, &gj); err != nil {
		return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: err.Error()}
	}

	switch gj.Type {
	case "Point":
		var coords []float64
		if err := json.Unmarshal(gj.Coordinates, &coords); err != nil || len(coords) < 2 {
			return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "malformed Point coordinates"}
		}
		return &Geometry{
			Type:  TypePoint,
			Frame: FrameWGS84,
			Point: &Point{X: coords[0], Y: coords[1]},
		}, nil
	case "Polygon":
		var coords [][][]float64
		if err := json.Unmarshal(gj.Coordinates, &coords); err != nil {
			return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "malformed Polygon coordinates"}
		}
		poly, err := positionsToPolygon(coords)
		if err != nil {
			return nil, err
		}
		return &Geometry{Type: TypePolygon, Frame: FrameWGS84, Polygons: []Polygon{poly}}, nil
	case "MultiPolygon":
		var coords [][][][]float64
		if err := json.Unmarshal(gj.Coordinates, &coords); err != nil {
			return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "malformed MultiPolygon coordinates"}
		}
		polys := make([]Polygon, 0, len(coords))
		for _, pc := range coords {
			poly, err := positionsToPolygon(pc)
			if err != nil {
				return nil, err
			}
			polys = append(polys, poly)
		}
		if len(polys) == 0 {
			return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "empty MultiPolygon"}
		}
		return &Geometry{Type: TypeMultiPolygon, Frame: FrameWGS84, Polygons: polys}, nil
	default:
		return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "unsupported geometry type " + gj.Type}
	}
}

func positionsToPolygon(coords [][][]float64) (Polygon, error) {
	if len(coords) == 0 {
		return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "polygon with no rings"}
	}
	poly := make(Polygon, 0, len(coords))
	for _, rc := range coords {
		ring := make(Ring, 0, len(rc))
		for _, pos := range rc {
			if len(pos) < 2 {
				return nil, &DecodeError{Encoding: EncodingGeoJSON, Reason: "position with fewer than 2 ordinates"}
			}
			ring = append(ring, Point{X: pos[0], Y: pos[1]})
		}
		poly = append(poly, ring)
	}
	return poly, nil
}
