// Package template implements the pure, recursive placeholder resolver used
// by the interpreter to substitute {{id.path}} references against a node
// outputs map before dispatching a node. Behaviour is ported from
// the reference implementation's template_resolver.py: a node id is matched
// exactly first, then by case-insensitive label with spaces normalised to
// underscores; {{connections[...]}} paths are left untouched since they
// reference integration wiring resolved by the execute-action activity
// itself, not a node output.
package template

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowcraft/orchestrator/internal/model"
)

var templateRe = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Resolve recursively substitutes template placeholders found in value
// against outputs. Strings that are exactly one "{{path}}" (after trimming)
// resolve preserving the looked-up value's native type; strings with
// embedded fragments are substituted textually; lists and maps recurse
// element-wise; everything else passes through unchanged.
func Resolve(value any, outputs model.NodeOutputs) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		if path, ok := exactTemplate(v); ok {
			resolved, found := resolvePath(path, outputs)
			if found {
				return resolved
			}
			return v
		}
		if containsTemplates(v) {
			return resolveStringTemplates(v, outputs)
		}
		return v
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Resolve(e, outputs)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = Resolve(e, outputs)
		}
		return out
	default:
		return v
	}
}

// exactTemplate reports whether s, once trimmed, is exactly one {{path}}
// placeholder, returning its inner path.
func exactTemplate(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	m := templateRe.FindStringSubmatch(trimmed)
	if m == nil {
		return "", false
	}
	if m[0] != trimmed {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// containsTemplates reports whether s contains at least one {{...}} fragment.
func containsTemplates(s string) bool {
	return templateRe.MatchString(s)
}

// resolveStringTemplates textually substitutes every {{path}} fragment in s
// with its stringified resolved value; unresolved fragments are left as-is.
func resolveStringTemplates(s string, outputs model.NodeOutputs) string {
	return templateRe.ReplaceAllStringFunc(s, func(match string) string {
		inner := templateRe.FindStringSubmatch(match)[1]
		resolved, found := resolvePath(strings.TrimSpace(inner), outputs)
		if !found {
			return match
		}
		return stringify(resolved)
	})
}

// resolvePath resolves "id.field1.field2..." against outputs. id is matched
// by exact node id first, then by case-insensitive label with spaces
// normalised to underscores. Paths beginning with "connections" are
// AP-internal integration references, not node-output references, and are
// never resolved here.
func resolvePath(path string, outputs model.NodeOutputs) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return nil, false
	}
	if parts[0] == "connections" {
		return nil, false
	}

	id := parts[0]
	out, ok := outputs[id]
	if !ok {
		out, ok = lookupByLabel(id, outputs)
	}
	if !ok {
		return nil, false
	}

	cur := any(out.Data)
	for _, field := range parts[1:] {
		next, found := getNested(cur, field)
		if !found {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// lookupByLabel scans outputs for an entry whose Label matches id
// case-insensitively with spaces normalised to underscores, e.g. "State K"
// -> "state_k".
func lookupByLabel(id string, outputs model.NodeOutputs) (model.NodeOutput, bool) {
	normalizedID := strings.ToLower(id)
	for _, out := range outputs {
		normalizedLabel := strings.ToLower(strings.ReplaceAll(out.Label, " ", "_"))
		if normalizedLabel == normalizedID {
			return out, true
		}
	}
	return model.NodeOutput{}, false
}

// getNested resolves one path segment against a map, struct, or slice index.
func getNested(obj any, field string) (any, bool) {
	if obj == nil {
		return nil, false
	}
	switch v := obj.(type) {
	case map[string]any:
		val, ok := v[field]
		return val, ok
	}
	// Numeric index into a slice, e.g. "{{A.items.0}}".
	if idx, err := strconv.Atoi(field); err == nil {
		rv := reflect.ValueOf(obj)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if idx >= 0 && idx < rv.Len() {
				return rv.Index(idx).Interface(), true
			}
		}
		return nil, false
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Map {
		for _, k := range rv.MapKeys() {
			if fmt.Sprint(k.Interface()) == field {
				return rv.MapIndex(k).Interface(), true
			}
		}
	}
	return nil, false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
