// Package flowplanner implements the planner sub-workflow (spec §4.4): a
// fixed four-phase durable body — plan, persist, await approval, execute —
// callable directly or as a child workflow of the dynamic interpreter.
//
// This package is deliberately named flowplanner, not planner, to avoid any
// collision with the teacher's own runtime/agent/planner package, which
// models LLM tool-call planning for agent runs — an unrelated concept that
// happens to share the English word. The two packages never import one
// another.
package flowplanner

import (
	"context"
	"fmt"
	"time"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/model"
)

// WorkflowName is the name this workflow body is registered under with
// engine.Engine.RegisterWorkflow.
const WorkflowName = "planner_workflow"

// approvalTimeout is the fixed 24-hour approval window from spec §4.4 step 4.
const approvalTimeout = 24 * time.Hour

const streamTopic = "workflow.stream"

// eventsTopic is the inter-orchestrator completion-envelope topic the
// Completion Bridge subscribes to (spec §6's "workflow.events"), distinct
// from streamTopic's user-visible progress feed. Only envelopes meant to
// correlate a child run back to a waiting parent (the
// planner_planning_completed / planner_execution_completed envelopes below)
// go here.
const eventsTopic = "workflow.events"

// Run is the workflow body registered under WorkflowName.
func Run(wfCtx engine.WorkflowContext, input any) (any, error) {
	inst, err := asPlannerInstance(input)
	if err != nil {
		return nil, err
	}
	ctx := wfCtx.Context()

	publish(ctx, wfCtx, "started", map[string]any{"feature_request": inst.FeatureRequest})

	tasks, failResult := runPlanning(ctx, wfCtx, inst)
	if failResult != nil {
		return *failResult, nil
	}

	if failResult := runPersist(ctx, wfCtx, inst, tasks); failResult != nil {
		return *failResult, nil
	}

	if failResult := runApproval(ctx, wfCtx, inst); failResult != nil {
		return *failResult, nil
	}

	return runExecution(ctx, wfCtx, inst, tasks), nil
}

func asPlannerInstance(input any) (*model.PlannerInstance, error) {
	switch v := input.(type) {
	case model.PlannerInstance:
		return &v, nil
	case *model.PlannerInstance:
		return v, nil
	default:
		return nil, fmt.Errorf("%s: unexpected input type %T", WorkflowName, input)
	}
}

// runPlanning implements spec §4.4 step 2. A non-nil failResult means the
// workflow is already terminal.
func runPlanning(ctx context.Context, wfCtx engine.WorkflowContext, inst *model.PlannerInstance) (tasks []activities.PlannerTask, failResult *model.PlannerResult) {
	setStatus(ctx, wfCtx, model.PhasePlanning, 10, "")
	publish(ctx, wfCtx, "phase_changed", map[string]any{"phase": model.PhasePlanning, "progress": 10})

	var out activities.PlannerPlanningOutput
	req := activities.PlannerPlanningInput{FeatureRequest: inst.FeatureRequest}
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PlannerPlanning, Input: req}, &out); err != nil {
		return nil, failPlanning(ctx, wfCtx, inst, err.Error())
	}
	if !out.Success {
		return nil, failPlanning(ctx, wfCtx, inst, out.Error)
	}
	return out.Tasks, nil
}

func failPlanning(ctx context.Context, wfCtx engine.WorkflowContext, inst *model.PlannerInstance, errMsg string) *model.PlannerResult {
	setStatus(ctx, wfCtx, model.PhaseFailed, 10, errMsg)
	publish(ctx, wfCtx, "phase_changed", map[string]any{"phase": model.PhaseFailed, "error": errMsg})
	if inst.ParentExecutionID != "" {
		publishCompletion(ctx, wfCtx, "planner_planning_completed", map[string]any{
			"workflow_id":         wfCtx.WorkflowID(),
			"parent_execution_id": inst.ParentExecutionID,
			"success":             false,
			"error":               errMsg,
		})
	}
	return &model.PlannerResult{Success: false, Phase: model.PhaseFailed, Error: errMsg}
}

// runPersist implements spec §4.4 step 3.
func runPersist(ctx context.Context, wfCtx engine.WorkflowContext, inst *model.PlannerInstance, tasks []activities.PlannerTask) *model.PlannerResult {
	setStatus(ctx, wfCtx, model.PhasePersisting, 30, "")

	var persistOut activities.PlannerPersistOutput
	persistReq := activities.PlannerPersistInput{InstanceID: inst.InstanceID, Tasks: tasks}
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PlannerPersistTasks, Input: persistReq}, &persistOut); err != nil {
		return failPlanning(ctx, wfCtx, inst, err.Error())
	}

	setStatus(ctx, wfCtx, model.PhaseAwaitingApproval, 50, "")
	publish(ctx, wfCtx, "phase_changed", map[string]any{"phase": model.PhaseAwaitingApproval, "progress": 50})

	if inst.ParentExecutionID != "" {
		publishCompletion(ctx, wfCtx, "planner_planning_completed", map[string]any{
			"workflow_id":         wfCtx.WorkflowID(),
			"parent_execution_id": inst.ParentExecutionID,
			"success":             true,
			"tasks":               tasks,
			"task_count":          len(tasks),
		})
	}
	return nil
}

// runApproval implements spec §4.4 step 4: race the approval signal against
// the fixed 24-hour timer.
func runApproval(ctx context.Context, wfCtx engine.WorkflowContext, inst *model.PlannerInstance) *model.PlannerResult {
	sig := wfCtx.SignalChannel(fmt.Sprintf("plan_approval_%s", inst.InstanceID))
	timer := wfCtx.CreateTimer(ctx, approvalTimeout)
	idx, err := wfCtx.WhenAny(ctx, sig, timer)
	if err != nil {
		return failApproval(ctx, wfCtx, inst, err.Error())
	}
	if idx == 1 {
		return failApproval(ctx, wfCtx, inst, "Approval timed out after 24 hours")
	}

	var payload map[string]any
	if err := sig.Receive(ctx, &payload); err != nil {
		return failApproval(ctx, wfCtx, inst, err.Error())
	}
	approved, _ := payload["approved"].(bool)
	reason, _ := payload["reason"].(string)
	if !approved {
		return failApproval(ctx, wfCtx, inst, fmt.Sprintf("Plan rejected: %s", reason))
	}
	return nil
}

func failApproval(ctx context.Context, wfCtx engine.WorkflowContext, inst *model.PlannerInstance, errMsg string) *model.PlannerResult {
	setStatus(ctx, wfCtx, model.PhaseFailed, 50, errMsg)
	publish(ctx, wfCtx, "phase_changed", map[string]any{"phase": model.PhaseFailed, "error": errMsg})
	if inst.ParentExecutionID != "" {
		publishCompletion(ctx, wfCtx, "planner_execution_completed", map[string]any{
			"workflow_id":         wfCtx.WorkflowID(),
			"parent_execution_id": inst.ParentExecutionID,
			"success":             false,
			"error":               errMsg,
		})
	}
	return &model.PlannerResult{Success: false, Phase: model.PhaseFailed, Error: errMsg}
}

// runExecution implements spec §4.4 step 5.
func runExecution(ctx context.Context, wfCtx engine.WorkflowContext, inst *model.PlannerInstance, tasks []activities.PlannerTask) model.PlannerResult {
	setStatus(ctx, wfCtx, model.PhaseExecuting, 60, "")
	publish(ctx, wfCtx, "phase_changed", map[string]any{"phase": model.PhaseExecuting, "progress": 60})

	var out activities.PlannerExecutionOutput
	req := activities.PlannerExecutionInput{InstanceID: inst.InstanceID, Tasks: tasks}
	err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PlannerExecution, Input: req}, &out)

	success := err == nil && out.Success
	errMsg := out.Error
	if err != nil {
		errMsg = err.Error()
	}

	phase := model.PhaseCompleted
	if !success {
		phase = model.PhaseFailed
	}
	setStatus(ctx, wfCtx, phase, 100, errMsg)
	publish(ctx, wfCtx, "phase_changed", map[string]any{"phase": phase, "success": success, "error": errMsg})

	if inst.ParentExecutionID != "" {
		publishCompletion(ctx, wfCtx, "planner_execution_completed", map[string]any{
			"workflow_id":         wfCtx.WorkflowID(),
			"parent_execution_id": inst.ParentExecutionID,
			"success":             success,
			"result":              out.Result,
			"error":               errMsg,
		})
	}

	result := model.PlannerResult{
		Success:    success,
		WorkflowID: wfCtx.WorkflowID(),
		TaskCount:  len(tasks),
		Phase:      phase,
	}
	if success {
		result.Tasks = toModelTasks(tasks)
	} else {
		result.Error = errMsg
	}
	return result
}

func toModelTasks(tasks []activities.PlannerTask) []model.Task {
	out := make([]model.Task, len(tasks))
	for i, t := range tasks {
		out[i] = model.Task{ID: t.ID, Description: t.Description}
	}
	return out
}

func setStatus(ctx context.Context, wfCtx engine.WorkflowContext, phase string, progress int, message string) {
	status := model.CustomStatus{Phase: phase, Progress: progress, Message: message, TraceID: wfCtx.WorkflowID()}
	if err := wfCtx.SetCustomStatus(ctx, status); err != nil {
		wfCtx.Logger().Warn(ctx, "set custom status failed", "error", err.Error())
	}
}

// publish sends a user-visible progress event to streamTopic through the
// same publish_event activity the interpreter uses (spec §4.6), rather than
// a distinct wire format, so every consumer of the progress feed observes
// one consistent envelope shape regardless of which workflow produced it.
func publish(ctx context.Context, wfCtx engine.WorkflowContext, eventType string, data map[string]any) {
	publishTo(ctx, wfCtx, streamTopic, eventType, data)
}

// publishCompletion sends a parent-correlation completion envelope to
// eventsTopic, the topic the Completion Bridge (internal/bridge) actually
// subscribes to. It must never be sent to streamTopic: the bridge's
// eventMapping would never see it there, and spec §8's "parent-child
// correlation" property depends on it arriving on eventsTopic.
func publishCompletion(ctx context.Context, wfCtx engine.WorkflowContext, eventType string, data map[string]any) {
	publishTo(ctx, wfCtx, eventsTopic, eventType, data)
}

func publishTo(ctx context.Context, wfCtx engine.WorkflowContext, topic, eventType string, data map[string]any) {
	req := activities.PublishEventInput{
		Topic:   topic,
		Type:    eventType,
		Data:    data,
		TraceID: wfCtx.WorkflowID(),
	}
	if err := wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.PublishEvent, Input: req}, nil); err != nil {
		wfCtx.Logger().Warn(ctx, "publish_event activity failed", "topic", topic, "type", eventType, "error", err.Error())
	}
}
