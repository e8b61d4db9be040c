package interp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/template"
)

type stateAssignment struct {
	Key   string
	Value any
}

// resolveAssignments reads either the legacy single {key, value} config or
// the richer {entries: [...]}/{entries: {...}} form (spec §3 expansion),
// resolving each value through the template resolver.
func resolveAssignments(node *model.Node, outputs model.NodeOutputs) []stateAssignment {
	if raw, ok := node.Config["entries"]; ok {
		switch e := raw.(type) {
		case []any:
			out := make([]stateAssignment, 0, len(e))
			for _, item := range e {
				m, ok := item.(map[string]any)
				if !ok {
					continue
				}
				key, _ := m["key"].(string)
				out = append(out, stateAssignment{Key: key, Value: template.Resolve(m["value"], outputs)})
			}
			return out
		case map[string]any:
			keys := make([]string, 0, len(e))
			for k := range e {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]stateAssignment, 0, len(keys))
			for _, k := range keys {
				out = append(out, stateAssignment{Key: k, Value: template.Resolve(e[k], outputs)})
			}
			return out
		}
	}
	return []stateAssignment{{
		Key:   strVal(node.Config, "key"),
		Value: template.Resolve(node.Config["value"], outputs),
	}}
}

// bestEffortJSONParse parses a string value as JSON when possible,
// returning the original value unchanged otherwise (spec §4.1.7).
func bestEffortJSONParse(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var parsed any
	if err := json.Unmarshal([]byte(s), &parsed); err != nil {
		return v
	}
	return parsed
}

// setStateHandler implements spec §4.1.7's set-state case.
func setStateHandler(_ context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	assignments := resolveAssignments(node, ist.outputs)
	for _, a := range assignments {
		if strings.TrimSpace(a.Key) == "" {
			cfgErr := &model.ConfigError{NodeID: node.ID, Reason: "set-state key is blank"}
			if continueOnError(node) {
				return model.NewStateResult(false, copyStateVars(ist.stateVars)), nil, nil
			}
			return nil, nil, cfgErr
		}
		ist.stateVars[a.Key] = bestEffortJSONParse(a.Value)
	}
	ist.rewriteStateOutput()
	return model.NewStateResult(true, copyStateVars(ist.stateVars)), nil, nil
}

// transformHandler implements spec §4.1.7's transform case: resolve
// templateJson, best-effort JSON-parse it, and accept only object/array
// results.
func transformHandler(_ context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	resolved := template.Resolve(node.Config["templateJson"], ist.outputs)

	var parsed any
	switch v := resolved.(type) {
	case map[string]any, []any:
		parsed = v
	case string:
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			cfgErr := &model.ConfigError{NodeID: node.ID, Reason: "templateJson is not valid JSON: " + err.Error()}
			if continueOnError(node) {
				return map[string]any{"success": false, "error": cfgErr.Error()}, nil, nil
			}
			return nil, nil, cfgErr
		}
	default:
		cfgErr := &model.ConfigError{NodeID: node.ID, Reason: fmt.Sprintf("templateJson resolved to unsupported type %T", resolved)}
		if continueOnError(node) {
			return map[string]any{"success": false, "error": cfgErr.Error()}, nil, nil
		}
		return nil, nil, cfgErr
	}

	switch parsed.(type) {
	case map[string]any, []any:
		return map[string]any{"success": true, "data": parsed}, nil, nil
	default:
		cfgErr := &model.ConfigError{NodeID: node.ID, Reason: "templateJson must resolve to an object or array"}
		if continueOnError(node) {
			return map[string]any{"success": false, "error": cfgErr.Error()}, nil, nil
		}
		return nil, nil, cfgErr
	}
}

// publishEventHandler implements spec §4.1.7's publish-event case: it
// reuses the phase-changed activity rather than a distinct wire format.
func publishEventHandler(ctx context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	topic := strVal(node.Config, "topic")
	if topic == "" {
		topic = "workflow.stream"
	}
	eventType := strVal(node.Config, "eventType")
	ist.publishPhaseChanged(ctx, model.PhaseRunning, ist.progress(), "Published event: "+eventType)
	return map[string]any{"published": true, "topic": topic, "eventType": eventType}, nil, nil
}
