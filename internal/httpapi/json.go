package httpapi

import "encoding/json"

// unwrapDoubleEncoded repeatedly JSON-decodes v while it is a string,
// matching spec §9's "double-encoded JSON in serialized status/output" note:
// a durable-engine adapter may have serialised CustomStatus twice (once as
// part of its own payload envelope, once as the status document itself).
// unwrapDoubleEncoded is idempotent on already-decoded values.
func unwrapDoubleEncoded(v any) any {
	for {
		s, ok := v.(string)
		if !ok {
			return v
		}
		var next any
		if err := json.Unmarshal([]byte(s), &next); err != nil {
			return v
		}
		v = next
	}
}

// asMap coerces an unwrapped value into a string-keyed map, or returns nil
// if it isn't shaped like one.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
