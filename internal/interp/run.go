package interp

import (
	"fmt"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/model"
)

// Run is the workflow body registered under WorkflowName. It implements
// the four-step procedure of spec §4.1: seed outputs, iterate the
// execution order dispatching each node, flatten outputs on normal exit,
// and build a failure/rejection result on error.
func Run(wfCtx engine.WorkflowContext, input any) (any, error) {
	inst, err := asInstance(input)
	if err != nil {
		return nil, err
	}

	started := wfCtx.Now()
	ist := newInterpreterState(wfCtx, inst)
	order := inst.Definition.ExecutionOrder

	i := 0
	for i < len(order) {
		nodeID := order[i]
		node, ok := inst.Definition.NodeByID(nodeID)
		if !ok {
			i++
			continue
		}

		if !node.IsEnabled() {
			ist.completed[node.ID] = struct{}{}
			i++
			continue
		}

		if ist.skipSet.Has(node.ID) {
			ist.recordOutput(&node, nodeActionType(&node), map[string]any{
				"skipped":     true,
				"skippedBy":   "if-else",
				"reason":      "pruned by branch decision",
				"branchTaken": true,
			})
			ist.completed[node.ID] = struct{}{}
			i++
			continue
		}

		ist.updateRunningStatus(wfCtx.Context(), node.ID, node.Label)

		var data any
		var jump *int
		var nodeErr error
		if node.Type == model.NodeLoopUntil {
			data, jump, nodeErr = loopUntilHandler(wfCtx.Context(), ist, &node, i)
		} else {
			handler, ok := dispatchTable[node.Type]
			if !ok {
				handler = unknownHandler
			}
			data, jump, nodeErr = handler(wfCtx.Context(), ist, &node)
		}

		if nodeErr != nil {
			if data != nil {
				ist.recordOutput(&node, nodeActionType(&node), data)
			}
			return ist.errorResult(wfCtx, started, nodeErr), nil
		}

		ist.recordOutput(&node, nodeActionType(&node), data)
		ist.completed[node.ID] = struct{}{}

		if stopRequested(data) {
			break
		}

		if jump != nil {
			i = *jump
			continue
		}
		i++
	}

	return ist.successResult(wfCtx, started), nil
}

func asInstance(input any) (*model.Instance, error) {
	switch v := input.(type) {
	case model.Instance:
		return &v, nil
	case *model.Instance:
		return v, nil
	default:
		return nil, fmt.Errorf("%s: unexpected input type %T", WorkflowName, input)
	}
}

// stopRequested implements spec §4.1 step 2.f: a node's data may carry
// result.data.__workflow_builder_control.stop to end the run early as a
// success.
func stopRequested(data any) bool {
	m, ok := data.(map[string]any)
	if !ok {
		return false
	}
	inner, ok := m["data"].(map[string]any)
	if !ok {
		inner = m
	}
	ctrl, ok := inner["__workflow_builder_control"].(map[string]any)
	if !ok {
		return false
	}
	stop, _ := ctrl["stop"].(bool)
	return stop
}
