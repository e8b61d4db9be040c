package interp

import (
	"context"
	"fmt"

	"github.com/flowcraft/orchestrator/internal/model"
)

// triggerHandler passes the trigger payload through as the node's own
// output (spec §4.1.8).
func triggerHandler(_ context.Context, ist *interpreterState, _ *model.Node) (any, *int, error) {
	return model.NewRaw(ist.instance.TriggerData), nil, nil
}

// noteHandler is a no-op annotation node.
func noteHandler(_ context.Context, _ *interpreterState, _ *model.Node) (any, *int, error) {
	return map[string]any{}, nil, nil
}

// conditionHandler is the legacy placeholder node, always true on the
// "true" branch (spec §4.1.8).
func conditionHandler(_ context.Context, _ *interpreterState, _ *model.Node) (any, *int, error) {
	return map[string]any{"result": true, "branch": "true"}, nil, nil
}

// unknownHandler handles node types outside the closed set, skipping them
// with a diagnostic reason rather than failing the run.
func unknownHandler(_ context.Context, _ *interpreterState, node *model.Node) (any, *int, error) {
	return map[string]any{"skipped": true, "reason": fmt.Sprintf("unknown node type %q", node.Type)}, nil, nil
}
