// Package extractor pulls values out of raw source field maps. Flat column
// names cover the spreadsheet sources; dot paths and array indices cover
// nested community-submission JSON.
package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Extractor handles extracting values from nested data structures
type Extractor struct{}

// New creates a new Extractor
func New() *Extractor {
	return &Extractor{}
}

// Extract extracts a value using a path expression:
// - Simple path: "name", "submission.title"
// - Array access: "islands[0]", "credits[2].role"
// A missing path yields (nil, nil); only malformed paths error.
func (e *Extractor) Extract(data any, path string) (any, error) {
	if path == "" {
		return data, nil
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		key, index, hasIndex, err := parsePart(part)
		if err != nil {
			return nil, err
		}

		if key != "" {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, nil
			}
			current, ok = m[key]
			if !ok || current == nil {
				return nil, nil
			}
		}

		if hasIndex {
			arr, ok := current.([]any)
			if !ok {
				return nil, nil
			}
			if index < 0 || index >= len(arr) {
				return nil, nil
			}
			current = arr[index]
		}

		if current == nil {
			return nil, nil
		}
	}

	return current, nil
}

// ExtractString extracts a value and renders it as a string. Nil result
// means the path was absent or null.
func (e *Extractor) ExtractString(data any, path string) (*string, error) {
	value, err := e.Extract(data, path)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	s := toString(value)
	return &s, nil
}

// ExtractStringSlice extracts a value as a string slice. Scalars become a
// single-element slice; nulls inside arrays are dropped.
func (e *Extractor) ExtractStringSlice(data any, path string) ([]string, error) {
	value, err := e.Extract(data, path)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, nil
	}
	if arr, ok := value.([]any); ok {
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			if el == nil {
				continue
			}
			out = append(out, toString(el))
		}
		return out, nil
	}
	return []string{toString(value)}, nil
}

// parsePart splits one path segment into a key and optional array index.
func parsePart(part string) (key string, index int, hasIndex bool, err error) {
	open := strings.Index(part, "[")
	if open < 0 {
		return part, 0, false, nil
	}
	if !strings.HasSuffix(part, "]") {
		return "", 0, false, fmt.Errorf("malformed path segment %q", part)
	}
	key = part[:open]
	idxStr := part[open+1 : len(part)-1]
	index, err = strconv.Atoi(idxStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("malformed array index %q", idxStr)
	}
	return key, index, true, nil
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; render integers without decimals
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
