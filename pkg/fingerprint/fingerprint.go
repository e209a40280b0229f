// Package fingerprint derives deterministic content hashes. The pipeline
// uses them two ways: entity fingerprints make merges idempotent, and source
// record content hashes power the duplicate-of-rejected heuristic.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Generate creates a deterministic fingerprint for an attribute map: a
// SHA256 hash of the canonicalized (sorted-key) JSON.
func Generate(data map[string]any) string {
	hash := sha256.Sum256([]byte(canonicalize(data)))
	return hex.EncodeToString(hash[:])
}

// GenerateFromJSON creates a fingerprint from a raw JSON payload.
func GenerateFromJSON(data json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	return Generate(m), nil
}

// Content hashes a raw source row: verbatim field map plus the raw geometry
// blob, so identical resubmissions collide and modified ones do not.
func Content(fields map[string]any, rawGeometry []byte) string {
	h := sha256.New()
	h.Write([]byte(canonicalize(fields)))
	if len(rawGeometry) > 0 {
		h.Write([]byte{0})
		h.Write(rawGeometry)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HasChanged compares two fingerprints to detect changes.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}

// canonicalize renders any JSON-shaped value deterministically: map keys
// sorted, arrays in order, primitives JSON-encoded.
func canonicalize(data any) string {
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		result := "{"
		for i, k := range keys {
			if i > 0 {
				result += ","
			}
			keyJSON, _ := json.Marshal(k)
			result += string(keyJSON) + ":" + canonicalize(v[k])
		}
		return result + "}"
	case []any:
		result := "["
		for i, el := range v {
			if i > 0 {
				result += ","
			}
			result += canonicalize(el)
		}
		return result + "]"
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
