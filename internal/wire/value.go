package wire

import (
	"encoding/json"
	"fmt"
)

// Arrayify normalizes a node result to the array convention: arrays
// pass through, everything else (including nil) is wrapped as a
// length-1 array.
func Arrayify(v any) []any {
	if arr, ok := v.([]any); ok {
		return arr
	}
	return []any{v}
}

// First returns the first element of an item array, or nil when the
// array is empty. Path expressions without an explicit index operate
// on this element.
func First(items []any) any {
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

// Concat joins predecessor outputs into a single item array,
// preserving the given order. A nil slice in the input contributes
// nothing.
func Concat(outputs ...[]any) []any {
	n := 0
	for _, o := range outputs {
		n += len(o)
	}
	joined := make([]any, 0, n)
	for _, o := range outputs {
		joined = append(joined, o...)
	}
	return joined
}

// Roundtrip re-encodes an arbitrary Go value through JSON, producing
// the plain tree form (map[string]any / []any / float64 / ...).
// Used to normalize executor results built from structs or typed maps.
func Roundtrip(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}
