package geometry

import (
	"strconv"
	"strings"
)

// decodeWKT parses the WKT subset used by the tabular sources:
// POINT, POLYGON, and MULTIPOLYGON with X Y ordinate pairs.
func decodeWKT(s string) (*Geometry, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)

	switch {
	case strings.HasPrefix(upper, "POINT"):
		body, err := wktBody(s, "POINT")
		if err != nil {
			return nil, err
		}
		pt, err := parseWKTPoint(strings.Trim(body, "() \t"))
		if err != nil {
			return nil, err
		}
		return &Geometry{Type: TypePoint, Frame: FrameWGS84, Point: pt}, nil

	case strings.HasPrefix(upper, "POLYGON"):
		body, err := wktBody(s, "POLYGON")
		if err != nil {
			return nil, err
		}
		poly, err := parseWKTPolygon(body)
		if err != nil {
			return nil, err
		}
		return &Geometry{Type: TypePolygon, Frame: FrameWGS84, Polygons: []Polygon{poly}}, nil

	case strings.HasPrefix(upper, "MULTIPOLYGON"):
		body, err := wktBody(s, "MULTIPOLYGON")
		if err != nil {
			return nil, err
		}
		groups, err := splitWKTGroups(body)
		if err != nil {
			return nil, err
		}
		polys := make([]Polygon, 0, len(groups))
		for _, g := range groups {
			poly, err := parseWKTPolygon(g)
			if err != nil {
				return nil, err
			}
			polys = append(polys, poly)
		}
		if len(polys) == 0 {
			return nil, &DecodeError{Encoding: EncodingWKT, Reason: "empty MULTIPOLYGON"}
		}
		return &Geometry{Type: TypeMultiPolygon, Frame: FrameWGS84, Polygons: polys}, nil

	default:
		return nil, &DecodeError{Encoding: EncodingWKT, Reason: "unsupported WKT geometry"}
	}
}

// wktBody strips the tag and returns the parenthesized remainder.
func wktBody(s, tag string) (string, error) {
	rest := strings.TrimSpace(s[len(tag):])
	if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
		return "", &DecodeError{Encoding: EncodingWKT, Reason: "missing parentheses after " + tag}
	}
	return rest[1 : len(rest)-1], nil
}

func parseWKTPoint(s string) (*Point, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return nil, &DecodeError{Encoding: EncodingWKT, Reason: "point needs two ordinates"}
	}
	x, errX := strconv.ParseFloat(fields[0], 64)
	y, errY := strconv.ParseFloat(fields[1], 64)
	if errX != nil || errY != nil {
		return nil, &DecodeError{Encoding: EncodingWKT, Reason: "non-numeric ordinate"}
	}
	return &Point{X: x, Y: y}, nil
}

// parseWKTPolygon parses "(ring), (ring), ..." into a Polygon.
func parseWKTPolygon(body string) (Polygon, error) {
	rings, err := splitWKTGroups(body)
	if err != nil {
		return nil, err
	}
	if len(rings) == 0 {
		return nil, &DecodeError{Encoding: EncodingWKT, Reason: "polygon with no rings"}
	}
	poly := make(Polygon, 0, len(rings))
	for _, rs := range rings {
		parts := strings.Split(rs, ",")
		ring := make(Ring, 0, len(parts))
		for _, ps := range parts {
			pt, err := parseWKTPoint(strings.TrimSpace(ps))
			if err != nil {
				return nil, err
			}
			ring = append(ring, *pt)
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

// splitWKTGroups splits a comma-separated list of parenthesized groups at
// depth zero, returning the content of each group.
func splitWKTGroups(body string) ([]string, error) {
	var groups []string
	depth := 0
	start := -1
	for i, r := range body {
		switch r {
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, &DecodeError{Encoding: EncodingWKT, Reason: "unbalanced parentheses"}
			}
			if depth == 0 {
				groups = append(groups, body[start:i])
			}
		}
	}
	if depth != 0 {
		return nil, &DecodeError{Encoding: EncodingWKT, Reason: "unbalanced parentheses"}
	}
	return groups, nil
}
