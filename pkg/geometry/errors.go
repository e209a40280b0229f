package geometry

import "fmt"

// DecodeError indicates the raw blob could not be decoded from its declared
// encoding. Unsupported encodings and corrupt payloads both land here.
type DecodeError struct {
	Encoding string
	Reason   string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("geometry decode failed (encoding %q): %s", e.Encoding, e.Reason)
}

// TopologyError indicates a decoded geometry violates a structural rule:
// unclosed or self-intersecting rings, degenerate polygons, or coordinates
// outside the valid range of the frame.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("geometry topology invalid: %s", e.Reason)
}
