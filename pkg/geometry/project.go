package geometry

import "math"

// earthRadius is the spherical Mercator radius in meters (EPSG:3857).
const earthRadius = 6378137.0

// RoundTripTolerance is the maximum coordinate drift, in degrees, permitted
// for a WGS84 -> Web Mercator -> WGS84 round trip.
const RoundTripTolerance = 1e-9

// Reproject returns a copy of g converted to the target frame. It is a pure,
// deterministic function; the input is never mutated.
func Reproject(g *Geometry, target Frame) *Geometry {
	if g == nil {
		return nil
	}
	out := g.Clone()
	if g.Frame == target {
		return out
	}
	var convert func(Point) Point
	switch {
	case g.Frame == FrameWGS84 && target == FrameWebMercator:
		convert = toWebMercator
	case g.Frame == FrameWebMercator && target == FrameWGS84:
		convert = toWGS84
	default:
		return out
	}
	out.Frame = target
	if out.Point != nil {
		p := convert(*out.Point)
		out.Point = &p
	}
	for pi := range out.Polygons {
		for ri := range out.Polygons[pi] {
			for i := range out.Polygons[pi][ri] {
				out.Polygons[pi][ri][i] = convert(out.Polygons[pi][ri][i])
			}
		}
	}
	return out
}

func toWebMercator(p Point) Point {
	return Point{
		X: earthRadius * p.X * math.Pi / 180,
		Y: earthRadius * math.Log(math.Tan(math.Pi/4+p.Y*math.Pi/360)),
	}
}

func toWGS84(p Point) Point {
	return Point{
		X: p.X / earthRadius * 180 / math.Pi,
		Y: (2*math.Atan(math.Exp(p.Y/earthRadius)) - math.Pi/2) * 180 / math.Pi,
	}
}

// Centroid derives the representative point of a geometry. Polygons use the
// area-weighted centroid of their exterior rings; points are their own
// centroid. Recomputed whenever geometry changes.
func Centroid(g *Geometry) Point {
	if g == nil {
		return Point{}
	}
	if g.Type == TypePoint && g.Point != nil {
		return *g.Point
	}

	var cx, cy, totalArea float64
	for _, poly := range g.Polygons {
		if len(poly) == 0 {
			continue
		}
		x, y, a := ringCentroid(poly[0])
		cx += x * a
		cy += y * a
		totalArea += a
	}
	if totalArea == 0 {
		// degenerate fallback: mean of exterior vertices
		var sx, sy float64
		n := 0
		for _, poly := range g.Polygons {
			if len(poly) == 0 {
				continue
			}
			for _, p := range poly[0] {
				sx += p.X
				sy += p.Y
				n++
			}
		}
		if n == 0 {
			return Point{}
		}
		return Point{X: sx / float64(n), Y: sy / float64(n)}
	}
	return Point{X: cx / totalArea, Y: cy / totalArea}
}

func ringCentroid(r Ring) (x, y, area float64) {
	if len(r) < 4 {
		return 0, 0, 0
	}
	var cx, cy, a float64
	for i := 0; i < len(r)-1; i++ {
		f := r[i].X*r[i+1].Y - r[i+1].X*r[i].Y
		cx += (r[i].X + r[i+1].X) * f
		cy += (r[i].Y + r[i+1].Y) * f
		a += f
	}
	a /= 2
	if a == 0 {
		return 0, 0, 0
	}
	return cx / (6 * a), cy / (6 * a), math.Abs(a)
}
