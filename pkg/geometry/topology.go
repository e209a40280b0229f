package geometry

import (
	"fmt"
	"math"
)

// minRingPoints is the smallest closed ring: three vertices plus the
// repeated first point.
const minRingPoints = 4

// Validate checks a geometry against the topology rules enforced before any
// geometry is accepted into an entity: finite in-range coordinates, closed
// non-degenerate rings, and no self-intersection. requirePolygon rejects
// point geometries where an areal footprint is mandatory.
func Validate(g *Geometry, requirePolygon bool) error {
	if g == nil {
		return &TopologyError{Reason: "nil geometry"}
	}

	switch g.Type {
	case TypePoint:
		if requirePolygon {
			return &TopologyError{Reason: "polygon required but got point"}
		}
		if g.Point == nil {
			return &TopologyError{Reason: "point geometry without coordinates"}
		}
		return validatePoint(*g.Point, g.Frame)

	case TypePolygon, TypeMultiPolygon:
		if len(g.Polygons) == 0 {
			return &TopologyError{Reason: "polygon geometry without rings"}
		}
		for pi, poly := range g.Polygons {
			for ri, ring := range poly {
				if err := validateRing(ring, g.Frame); err != nil {
					return &TopologyError{Reason: fmt.Sprintf("polygon %d ring %d: %s", pi, ri, err.(*TopologyError).Reason)}
				}
			}
		}
		return nil

	default:
		return &TopologyError{Reason: "unknown geometry type " + string(g.Type)}
	}
}

func validatePoint(p Point, frame Frame) error {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return &TopologyError{Reason: "non-finite coordinate"}
	}
	if frame == FrameWGS84 {
		if p.X < -180 || p.X > 180 {
			return &TopologyError{Reason: fmt.Sprintf("longitude %g out of range", p.X)}
		}
		if p.Y < -90 || p.Y > 90 {
			return &TopologyError{Reason: fmt.Sprintf("latitude %g out of range", p.Y)}
		}
	}
	return nil
}

func validateRing(r Ring, frame Frame) error {
	if len(r) < minRingPoints {
		return &TopologyError{Reason: fmt.Sprintf("ring has %d points, need at least %d", len(r), minRingPoints)}
	}
	for _, p := range r {
		if err := validatePoint(p, frame); err != nil {
			return err
		}
	}
	if r[0] != r[len(r)-1] {
		return &TopologyError{Reason: "ring not closed"}
	}
	if math.Abs(ringArea(r)) == 0 {
		return &TopologyError{Reason: "zero-area ring"}
	}
	if i, j, ok := findSelfIntersection(r); ok {
		return &TopologyError{Reason: fmt.Sprintf("ring self-intersects (segments %d and %d)", i, j)}
	}
	return nil
}

// findSelfIntersection does a pairwise segment sweep over the ring. Island
// outlines in the curated datasets are small enough that the quadratic check
// is not a bottleneck.
func findSelfIntersection(r Ring) (int, int, bool) {
	n := len(r) - 1 // segments
	for i := 0; i < n; i++ {
		for j := i + 2; j < n; j++ {
			// the closing segment shares an endpoint with the first
			if i == 0 && j == n-1 {
				continue
			}
			if segmentsCross(r[i], r[i+1], r[j], r[j+1]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// segmentsCross reports proper intersection between segments (a,b) and (c,d).
func segmentsCross(a, b, c, d Point) bool {
	d1 := cross(c, d, a)
	d2 := cross(c, d, b)
	d3 := cross(a, b, c)
	d4 := cross(a, b, d)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	// collinear overlap counts as intersection
	if d1 == 0 && onSegment(c, d, a) {
		return true
	}
	if d2 == 0 && onSegment(c, d, b) {
		return true
	}
	if d3 == 0 && onSegment(a, b, c) {
		return true
	}
	if d4 == 0 && onSegment(a, b, d) {
		return true
	}
	return false
}

func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(a, b, p Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}
