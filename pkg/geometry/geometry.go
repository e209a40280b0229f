package geometry

// Frame identifies the coordinate reference frame of a geometry.
type Frame string

const (
	// FrameWGS84 is the canonical frame for all stored geometries.
	FrameWGS84 Frame = "EPSG:4326"
	// FrameWebMercator is accepted on input and used by tile-oriented exports.
	FrameWebMercator Frame = "EPSG:3857"
)

type Type string

const (
	TypePoint        Type = "point"
	TypePolygon      Type = "polygon"
	TypeMultiPolygon Type = "multipolygon"
)

// Point is a single coordinate pair. X is longitude and Y is latitude when
// the frame is WGS84; meters east/north in Web Mercator.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Ring is a closed linear ring: the first and last points must be equal.
type Ring []Point

// Polygon is one exterior ring followed by zero or more interior (hole) rings.
type Polygon []Ring

// Geometry is the canonical decoded representation of a spatial value.
// Exactly one of Point or Polygons is populated, selected by Type.
type Geometry struct {
	Type     Type      `json:"type"`
	Frame    Frame     `json:"frame"`
	Point    *Point    `json:"point,omitempty"`
	Polygons []Polygon `json:"polygons,omitempty"`
}

// Clone returns a deep copy. Published snapshots rely on this to stay
// independent of later entity mutation.
func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	out := &Geometry{Type: g.Type, Frame: g.Frame}
	if g.Point != nil {
		p := *g.Point
		out.Point = &p
	}
	if g.Polygons != nil {
		out.Polygons = make([]Polygon, len(g.Polygons))
		for i, poly := range g.Polygons {
			cp := make(Polygon, len(poly))
			for j, ring := range poly {
				cr := make(Ring, len(ring))
				copy(cr, ring)
				cp[j] = cr
			}
			out.Polygons[i] = cp
		}
	}
	return out
}

// ringArea returns the signed area of a ring using the shoelace formula.
// Positive for counter-clockwise winding.
func ringArea(r Ring) float64 {
	if len(r) < 4 {
		return 0
	}
	sum := 0.0
	for i := 0; i < len(r)-1; i++ {
		sum += r[i].X*r[i+1].Y - r[i+1].X*r[i].Y
	}
	return sum / 2
}
