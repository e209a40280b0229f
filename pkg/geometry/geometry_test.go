package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closedSquare(minX, minY, size float64) Ring {
	return Ring{
		{X: minX, Y: minY},
		{X: minX + size, Y: minY},
		{X: minX + size, Y: minY + size},
		{X: minX, Y: minY + size},
		{X: minX, Y: minY},
	}
}

func TestValidate_PointOutOfRange(t *testing.T) {
	g := &Geometry{Type: TypePoint, Frame: FrameWGS84, Point: &Point{X: -190, Y: 10}}
	err := Validate(g, false)
	require.Error(t, err)
	assert.IsType(t, &TopologyError{}, err)
}

func TestValidate_PointRejectedWhenPolygonRequired(t *testing.T) {
	g := &Geometry{Type: TypePoint, Frame: FrameWGS84, Point: &Point{X: -155.5, Y: 19.6}}

	assert.NoError(t, Validate(g, false))
	assert.Error(t, Validate(g, true))
}

func TestValidate_UnclosedRing(t *testing.T) {
	ring := Ring{
		{X: 0, Y: 0},
		{X: 1, Y: 0},
		{X: 1, Y: 1},
		{X: 0, Y: 1},
	}
	g := &Geometry{Type: TypePolygon, Frame: FrameWGS84, Polygons: []Polygon{{ring}}}

	err := Validate(g, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ring")
}

func TestValidate_SelfIntersectingRing(t *testing.T) {
	// bowtie: edges cross in the middle
	ring := Ring{
		{X: 0, Y: 0},
		{X: 2, Y: 2},
		{X: 2, Y: 0},
		{X: 0, Y: 2},
		{X: 0, Y: 0},
	}
	g := &Geometry{Type: TypePolygon, Frame: FrameWGS84, Polygons: []Polygon{{ring}}}

	err := Validate(g, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "self-intersect")
}

func TestValidate_ValidPolygonWithHole(t *testing.T) {
	g := &Geometry{
		Type:  TypePolygon,
		Frame: FrameWGS84,
		Polygons: []Polygon{{
			closedSquare(0, 0, 10),
			closedSquare(2, 2, 2),
		}},
	}
	assert.NoError(t, Validate(g, true))
}

func TestReproject_RoundTripWithinTolerance(t *testing.T) {
	points := []Point{
		{X: -155.5, Y: 19.6},  // Hawaii
		{X: 178.4, Y: -18.1},  // Fiji
		{X: -149.4, Y: -17.6}, // Tahiti
		{X: 158.2, Y: 6.9},    // Pohnpei
	}
	for _, p := range points {
		g := &Geometry{Type: TypePoint, Frame: FrameWGS84, Point: &p}
		mercator := Reproject(g, FrameWebMercator)
		back := Reproject(mercator, FrameWGS84)

		assert.InDelta(t, p.X, back.Point.X, RoundTripTolerance)
		assert.InDelta(t, p.Y, back.Point.Y, RoundTripTolerance)
	}
}

func TestReproject_DoesNotMutateInput(t *testing.T) {
	g := &Geometry{Type: TypePoint, Frame: FrameWGS84, Point: &Point{X: 170, Y: -15}}
	_ = Reproject(g, FrameWebMercator)
	assert.Equal(t, 170.0, g.Point.X)
	assert.Equal(t, FrameWGS84, g.Frame)
}

func TestCentroid_Square(t *testing.T) {
	g := &Geometry{Type: TypePolygon, Frame: FrameWGS84, Polygons: []Polygon{{closedSquare(0, 0, 2)}}}
	c := Centroid(g)
	assert.InDelta(t, 1.0, c.X, 1e-12)
	assert.InDelta(t, 1.0, c.Y, 1e-12)
}

func TestCentroid_MultiPolygonAreaWeighted(t *testing.T) {
	// a large square at origin and a small one far away; the centroid should
	// sit much closer to the large one
	g := &Geometry{
		Type:  TypeMultiPolygon,
		Frame: FrameWGS84,
		Polygons: []Polygon{
			{closedSquare(0, 0, 10)},
			{closedSquare(100, 0, 1)},
		},
	}
	c := Centroid(g)
	assert.Less(t, c.X, 10.0)
}

func TestCentroid_PointIsItself(t *testing.T) {
	g := &Geometry{Type: TypePoint, Frame: FrameWGS84, Point: &Point{X: -170.7, Y: -14.3}}
	c := Centroid(g)
	assert.Equal(t, Point{X: -170.7, Y: -14.3}, c)
}

func TestClone_Independence(t *testing.T) {
	g := &Geometry{Type: TypePolygon, Frame: FrameWGS84, Polygons: []Polygon{{closedSquare(0, 0, 1)}}}
	c := g.Clone()
	c.Polygons[0][0][0].X = 99

	assert.Equal(t, 0.0, g.Polygons[0][0][0].X)
}

func TestNormalizer_GeoJSONPoint(t *testing.T) {
	n := NewNormalizer(nil)
	g, err := n.Normalize("geojson", []byte(`{"type":"Point","coordinates":[-155.5,19.6]}`), false)
	require.NoError(t, err)
	assert.Equal(t, TypePoint, g.Type)
	assert.Equal(t, FrameWGS84, g.Frame)
	assert.Equal(t, -155.5, g.Point.X)
}

func TestNormalizer_GeoJSONMultiPolygon(t *testing.T) {
	n := NewNormalizer(nil)
	raw := []byte(`{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,1],[0,0]]]]}`)
	g, err := n.Normalize("geojson", raw, true)
	require.NoError(t, err)
	assert.Equal(t, TypeMultiPolygon, g.Type)
	require.Len(t, g.Polygons, 1)
}

func TestNormalizer_WKTPolygon(t *testing.T) {
	n := NewNormalizer(nil)
	g, err := n.Normalize("wkt", []byte("POLYGON((0 0, 4 0, 4 4, 0 4, 0 0))"), true)
	require.NoError(t, err)
	assert.Equal(t, TypePolygon, g.Type)
	require.Len(t, g.Polygons, 1)
	assert.Len(t, g.Polygons[0][0], 5)
}

func TestNormalizer_WKTPoint(t *testing.T) {
	n := NewNormalizer(nil)
	g, err := n.Normalize("WKT", []byte("POINT(178.4 -18.1)"), false)
	require.NoError(t, err)
	assert.Equal(t, 178.4, g.Point.X)
	assert.Equal(t, -18.1, g.Point.Y)
}

func TestNormalizer_UnsupportedEncoding(t *testing.T) {
	n := NewNormalizer(nil)
	_, err := n.Normalize("shapefile", []byte("whatever"), false)
	require.Error(t, err)
	assert.IsType(t, &DecodeError{}, err)
}

func TestNormalizer_InvalidTopologyRejected(t *testing.T) {
	n := NewNormalizer(nil)
	// unclosed ring
	raw := []byte(`{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`)
	_, err := n.Normalize("geojson", raw, true)
	require.Error(t, err)
	assert.IsType(t, &TopologyError{}, err)
}

func TestInPacificBounds(t *testing.T) {
	assert.True(t, InPacificBounds(Point{X: -155.5, Y: 19.6}))
	assert.True(t, InPacificBounds(Point{X: 178.4, Y: -18.1}))
	assert.False(t, InPacificBounds(Point{X: 2.3, Y: 48.8}))    // Paris
	assert.False(t, InPacificBounds(Point{X: -170, Y: -75.0})) // too far south
}

func TestClassifyRegion(t *testing.T) {
	tests := []struct {
		name     string
		centroid Point
		want     string
	}{
		{"Hawaii", Point{X: -155.5, Y: 19.6}, RegionHawaii},
		{"Fiji is Melanesia", Point{X: 178.4, Y: -18.1}, RegionMelanesia},
		{"Pohnpei is Micronesia", Point{X: 158.2, Y: 6.9}, RegionMicronesia},
		{"Tahiti is Polynesia", Point{X: -149.4, Y: -17.6}, RegionPolynesia},
		{"Samoa is Polynesia", Point{X: -172.1, Y: -13.8}, RegionPolynesia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRegion(tt.centroid))
		})
	}
}

func TestIsMajorIsland(t *testing.T) {
	assert.True(t, IsMajorIsland(250.0, "Unnamed Reef"))     // large enough
	assert.True(t, IsMajorIsland(0.2, "Bora Bora"))          // listed
	assert.True(t, IsMajorIsland(0.2, "  bora bora  "))      // listed, messy name
	assert.False(t, IsMajorIsland(0.2, "Tiny Unnamed Rock")) // small and unlisted
}

func TestRingArea_Winding(t *testing.T) {
	ccw := closedSquare(0, 0, 2)
	area := ringArea(ccw)
	assert.InDelta(t, 4.0, math.Abs(area), 1e-12)
}
