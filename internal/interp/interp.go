// Package interp implements the dynamic workflow interpreter: the workflow
// body that drives one graph definition to a terminal state by dispatching
// each node in its execution order to a small, closed set of handler
// functions (spec §4.1). Node handlers share one signature and are
// registered in a dispatch table built once at package init, mirroring the
// teacher's workflowLoop structuring in runtime/agent/runtime/workflow_loop.go
// (a flat struct holding engine context and replay-safe local state, with
// one method per concern) rather than a type-switch interface hierarchy.
//
// The workflow body registered under WorkflowName must never read the
// wall clock, randomness, or process environment directly; all such needs
// are delegated to wfCtx.Now() or to activities.
package interp

import (
	"context"

	"github.com/flowcraft/orchestrator/internal/model"
)

// WorkflowName is the name the interpreter's workflow body is registered
// under with engine.Engine.RegisterWorkflow.
const WorkflowName = "dynamic_workflow"

// nodeHandler executes one node against the shared interpreter state and
// returns its recorded data payload, an optional loop-back jump target
// (only ever set by the loop-until handler), and an error that, if
// non-nil, terminates the run.
type nodeHandler func(ctx context.Context, ist *interpreterState, node *model.Node) (any, *int, error)

var dispatchTable = map[model.NodeType]nodeHandler{
	model.NodeTrigger:       triggerHandler,
	model.NodeNote:          noteHandler,
	model.NodeCondition:     conditionHandler,
	model.NodeAction:        actionHandler,
	model.NodeActivity:      actionHandler,
	model.NodeApprovalGate:  approvalGateHandler,
	model.NodeTimer:         timerHandler,
	model.NodeIfElse:        ifElseHandler,
	model.NodeSetState:      setStateHandler,
	model.NodeTransform:     transformHandler,
	model.NodePublishEvent:  publishEventHandler,
}
