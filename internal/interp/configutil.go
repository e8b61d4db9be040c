package interp

import (
	"strconv"
	"strings"

	"github.com/flowcraft/orchestrator/internal/model"
)

func strVal(cfg map[string]any, key string) string {
	v, _ := cfg[key].(string)
	return v
}

func boolVal(cfg map[string]any, key string) bool {
	v, _ := cfg[key].(bool)
	return v
}

func continueOnError(node *model.Node) bool {
	return boolVal(node.Config, "continueOnError")
}

// intVal reads an int-ish config value, accepting float64 (the common
// decoded-JSON shape), int, and numeric strings, with a default when absent
// or unparsable.
func intVal(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	return toInt(v, def)
}

func toInt(v any, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// titleCaseSlug turns an identifier like "durable/agent.run" into a
// human-readable label "Durable Agent Run", used as the label fallback when
// a node has no explicit label (the node id is the last resort when the
// slug is empty too).
func titleCaseSlug(s string) string {
	if s == "" {
		return ""
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	for i, f := range fields {
		if f == "" {
			continue
		}
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}
