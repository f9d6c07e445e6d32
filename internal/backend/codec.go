package backend

import (
	"encoding/json"
	"fmt"
)

// Decode converts a value produced by a Connection into T. Values that are
// already a T pass through; raw JSON is unmarshalled; anything else takes a
// JSON round trip so map[string]any payloads land in typed structs.
func Decode[T any](v any) (T, error) {
	var zero T
	switch typed := v.(type) {
	case T:
		return typed, nil
	case nil:
		return zero, nil
	case json.RawMessage:
		return unmarshal[T](typed)
	case []byte:
		return unmarshal[T](typed)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %T: %w", v, err)
	}
	return unmarshal[T](raw)
}

// DecodeItems decodes every element of items into I.
func DecodeItems[I any](items []any) ([]I, error) {
	out := make([]I, 0, len(items))
	for idx, item := range items {
		v, err := Decode[I](item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", idx, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func unmarshal[T any](raw []byte) (T, error) {
	var out T
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// CacheKey identifies a query result by function name and canonical JSON
// arguments. encoding/json sorts map keys, which keeps the key stable.
func CacheKey(name string, args any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode args for %s: %w", name, err)
	}
	return name + "|" + string(raw), nil
}
