package docstore

import (
	"encoding/json"
	"fmt"
)

// normalizeData converts caller data to the JSON value space (maps, []any,
// float64, string, bool, nil) so every backend compares the same shapes.
func normalizeData(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func normalizeValue(value any) any {
	raw, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return value
	}
	return out
}

// mergeData deep-merges src into a copy of dst. Nested maps merge key by key;
// every other value, lists included, replaces the old one.
func mergeData(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for key, value := range dst {
		out[key] = value
	}
	for key, value := range src {
		incoming, incomingIsMap := value.(map[string]any)
		existing, existingIsMap := out[key].(map[string]any)
		if incomingIsMap && existingIsMap {
			out[key] = mergeData(existing, incoming)
			continue
		}
		out[key] = value
	}
	return out
}

// updateData replaces top-level fields only.
func updateData(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for key, value := range dst {
		out[key] = value
	}
	for key, value := range src {
		out[key] = value
	}
	return out
}

func cloneData(data map[string]any) map[string]any {
	out, err := normalizeData(data)
	if err != nil {
		return map[string]any{}
	}
	return out
}
