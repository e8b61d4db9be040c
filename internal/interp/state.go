package interp

import (
	"context"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/statestore"
)

// interpreterState holds everything one interpreter run mutates: the shared
// bookkeeping described in spec §3 (NodeOutputs, StateVars, LoopCounters,
// SkipSet, CustomStatus) plus the indexes built once up front. It is
// constructed fresh for each workflow-body invocation and is safe to
// reconstruct identically on replay because every field derives only from
// replay-safe inputs (the instance definition and activity/signal results).
type interpreterState struct {
	wfCtx engine.WorkflowContext

	instance      *model.Instance
	outputs       model.NodeOutputs
	stateVars     model.StateVars
	loopCounters  model.LoopCounters
	skipSet       model.SkipSet
	completed     map[string]struct{}
	edgesBySource map[string][]model.Edge

	total int
}

func newInterpreterState(wfCtx engine.WorkflowContext, inst *model.Instance) *interpreterState {
	ist := &interpreterState{
		wfCtx:         wfCtx,
		instance:      inst,
		outputs:       model.NodeOutputs{},
		stateVars:     model.StateVars{},
		loopCounters:  model.LoopCounters{},
		skipSet:       model.SkipSet{},
		completed:     map[string]struct{}{},
		edgesBySource: inst.Definition.EdgesBySource(),
		total:         len(inst.Definition.ExecutionOrder),
	}
	ist.outputs["trigger"] = model.NodeOutput{Label: "Trigger", Data: model.NewRaw(inst.TriggerData)}
	ist.outputs[model.ReservedStateNodeID] = model.NodeOutput{Label: "State", Data: model.NewStateResult(true, copyStateVars(ist.stateVars))}
	return ist
}

func copyStateVars(sv model.StateVars) map[string]any {
	out := make(map[string]any, len(sv))
	for k, v := range sv {
		out[k] = v
	}
	return out
}

// recordOutput stores node's result, resolving its display label with
// fallback to a title-cased slug of actionType, then the node id itself
// (spec §4.1 step 2.e).
func (ist *interpreterState) recordOutput(node *model.Node, actionType string, data any) {
	label := node.Label
	if label == "" {
		label = titleCaseSlug(actionType)
	}
	if label == "" {
		label = node.ID
	}
	ist.outputs[node.ID] = model.NodeOutput{Label: label, ActionType: actionType, Data: data}
}

// rewriteStateOutput refreshes the reserved state node so later templates
// observe the latest StateVars; called by set-state after an assignment.
func (ist *interpreterState) rewriteStateOutput() {
	ist.outputs[model.ReservedStateNodeID] = model.NodeOutput{Label: "State", Data: model.NewStateResult(true, copyStateVars(ist.stateVars))}
}

// progress computes the capped-at-99 completion percentage (spec §4.1 step
// 2.c): loops may re-execute nodes, so 100 is reserved for the terminal
// status write.
func (ist *interpreterState) progress() int {
	if ist.total == 0 {
		return 99
	}
	pct := (len(ist.completed) * 100) / ist.total
	if pct > 99 {
		pct = 99
	}
	return pct
}

// flattenOutputs projects outputs down to node id -> Data, the shape
// returned to API callers and persisted to the state store (spec §4.1
// step 3).
func (ist *interpreterState) flattenOutputs() map[string]any {
	out := make(map[string]any, len(ist.outputs))
	for id, o := range ist.outputs {
		out[id] = o.Data
	}
	return out
}

func (ist *interpreterState) setCustomStatus(ctx context.Context, status model.CustomStatus) {
	if err := ist.wfCtx.SetCustomStatus(ctx, status); err != nil {
		ist.wfCtx.Logger().Warn(ctx, "set custom status failed", "error", err.Error())
	}
}

func (ist *interpreterState) updateRunningStatus(ctx context.Context, nodeID, nodeName string) {
	ist.setCustomStatus(ctx, model.CustomStatus{
		Phase:           model.PhaseRunning,
		Progress:        ist.progress(),
		CurrentNodeID:   nodeID,
		CurrentNodeName: nodeName,
		TraceID:         ist.wfCtx.WorkflowID(),
	})
}

// logAudit writes one workflow_execution_logs row via the log_audit
// activity. Best-effort: failures are logged locally and never propagate
// (spec §7 kind 7).
func (ist *interpreterState) logAudit(ctx context.Context, node *model.Node, activityName, status string, input, output any, errMsg string) {
	req := activities.AuditLogInput{
		ExecutionID:  ist.instance.InstanceID,
		NodeID:       node.ID,
		NodeName:     node.Label,
		NodeType:     string(node.Type),
		ActivityName: activityName,
		Status:       status,
		Input:        input,
		Output:       output,
		Error:        errMsg,
	}
	if err := ist.wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.LogAudit, Input: req}, nil); err != nil {
		ist.wfCtx.Logger().Warn(ctx, "log_audit activity failed", "node_id", node.ID, "error", err.Error())
	}
}

// publishPhaseChanged calls the publish_phase_changed activity. Best-effort.
func (ist *interpreterState) publishPhaseChanged(ctx context.Context, phase string, progress int, message string) {
	req := activities.PublishEventInput{
		Topic: "workflow.stream",
		Type:  "phase_changed",
		Data: map[string]any{
			"workflowId": ist.wfCtx.WorkflowID(),
			"phase":      phase,
			"progress":   progress,
			"message":    message,
		},
		TraceID: ist.wfCtx.WorkflowID(),
	}
	if err := ist.wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PublishPhaseChanged, Input: req}, nil); err != nil {
		ist.wfCtx.Logger().Warn(ctx, "publish_phase_changed activity failed", "error", err.Error())
	}
}

// persistOutputs writes the flattened outputs map to the state store under
// the workflow/execution-scoped key (spec §6 state-store keys).
func (ist *interpreterState) persistOutputs(ctx context.Context, outputs map[string]any) {
	key := statestore.OutputsKey(ist.wfCtx.WorkflowID(), ist.instance.InstanceID)
	req := activities.StateKVInput{Key: key, Value: outputs}
	if err := ist.wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PersistState, Input: req}, nil); err != nil {
		ist.wfCtx.Logger().Warn(ctx, "persist_state activity failed", "key", key, "error", err.Error())
	}
}

// auditTerminal writes the final workflow_executions row when the instance
// carries a dbExecutionId (spec §4.6 persist-results-to-db).
func (ist *interpreterState) auditTerminal(ctx context.Context, success bool, errMsg string, durationMs int64, output any) {
	if ist.instance.DBExecutionID == "" {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	req := activities.PersistResultsInput{
		DBExecutionID: ist.instance.DBExecutionID,
		Output:        output,
		Status:        status,
		DurationMs:    durationMs,
	}
	if err := ist.wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PersistResultsToDB, Input: req}, nil); err != nil {
		ist.wfCtx.Logger().Warn(ctx, "persist_results_to_db activity failed", "execution_id", ist.instance.DBExecutionID, "error", err.Error())
	}
}

func nodeActionType(node *model.Node) string {
	v, _ := node.Config["actionType"].(string)
	return v
}
