package interp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/template"
)

// actionHandler dispatches action/activity nodes (spec §4.1.1): child
// workflows for durable/agent and mastra/execute action types, otherwise a
// direct execute-action activity call.
func actionHandler(ctx context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	actionType := nodeActionType(node)
	if actionType == "" {
		cfgErr := &model.ConfigError{NodeID: node.ID, Reason: "actionType is required"}
		if continueOnError(node) {
			return model.NewActionResult(false, nil, cfgErr.Error()), nil, nil
		}
		return nil, nil, cfgErr
	}
	if strings.HasPrefix(actionType, "durable/") || actionType == "mastra/execute" {
		return agentChildHandler(ctx, ist, node, actionType)
	}

	resolvedConfig, _ := template.Resolve(node.Config, ist.outputs).(map[string]any)

	req := activities.ExecuteActionInput{
		FunctionSlug:         actionType,
		ExecutionID:          ist.instance.InstanceID,
		WorkflowID:           ist.wfCtx.WorkflowID(),
		NodeID:               node.ID,
		NodeName:             node.Label,
		Input:                resolvedConfig,
		IntegrationID:        strVal(node.Config, "integrationId"),
		Integrations:         ist.instance.Integrations,
		DBExecutionID:        ist.instance.DBExecutionID,
		ConnectionExternalID: strVal(node.Config, "connectionExternalId"),
	}

	var out activities.ExecuteActionOutput
	if err := ist.wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activities.ExecuteAction, Input: req}, &out); err != nil {
		return nil, nil, err
	}

	if !out.Success {
		result := model.NewActionResult(false, out.Data, out.Error)
		if continueOnError(node) {
			return result, nil, nil
		}
		return result, nil, &model.ActivityError{NodeID: node.ID, Message: out.Error}
	}
	return model.NewActionResult(true, out.Data, ""), nil, nil
}

// agentChildHandler implements the agent/planner child-workflow flow (spec
// §4.1.2): start the child, then suspend on whichever of its completion
// signal or a timeout resolves first.
func agentChildHandler(ctx context.Context, ist *interpreterState, node *model.Node, actionType string) (any, *int, error) {
	resolvedConfig, _ := template.Resolve(node.Config, ist.outputs).(map[string]any)

	prompt, _ := resolvedConfig["prompt"].(string)
	if prompt == "" {
		if actionType == "mastra/execute" {
			prompt = "Execute the provided plan"
		} else {
			cfgErr := &model.ConfigError{NodeID: node.ID, Reason: "prompt is required for agent child nodes"}
			if continueOnError(node) {
				return model.NewActionResult(false, nil, cfgErr.Error()), nil, nil
			}
			return nil, nil, cfgErr
		}
	}

	timeoutMinutes := intVal(node.Config, "timeoutMinutes", 30)

	activityName := activities.CallDurableAgentRun
	if actionType == "mastra/execute" {
		activityName = activities.CallDurableExecutePlan
	}

	startReq := activities.CallAgentInput{
		ParentInstanceID: ist.instance.InstanceID,
		Prompt:           prompt,
		Config:           resolvedConfig,
		TraceID:          ist.wfCtx.WorkflowID(),
	}
	var startOut activities.CallAgentOutput
	if err := ist.wfCtx.ExecuteActivity(ctx, engine.ActivityRequest{Name: activityName, Input: startReq}, &startOut); err != nil {
		return nil, nil, err
	}
	if !startOut.Success {
		result := model.NewActionResult(false, nil, startOut.Error)
		if continueOnError(node) {
			return result, nil, nil
		}
		return result, nil, &model.ActivityError{NodeID: node.ID, Message: startOut.Error}
	}

	sig := ist.wfCtx.SignalChannel(fmt.Sprintf("agent_completed_%s", startOut.WorkflowID))
	timer := ist.wfCtx.CreateTimer(ctx, time.Duration(timeoutMinutes)*time.Minute)
	idx, err := ist.wfCtx.WhenAny(ctx, sig, timer)
	if err != nil {
		return nil, nil, err
	}

	if idx == 1 {
		detail := fmt.Sprintf("agent run %s timed out after %d minutes", startOut.WorkflowID, timeoutMinutes)
		result := model.NewActionResult(false, nil, detail)
		if continueOnError(node) {
			return result, nil, nil
		}
		return result, nil, &model.TimeoutError{NodeID: node.ID, Detail: detail}
	}

	var envelope model.CompletionData
	if err := sig.Receive(ctx, &envelope); err != nil {
		return nil, nil, err
	}
	if !envelope.Success {
		result := model.NewActionResult(false, envelope.Result, envelope.Error)
		if continueOnError(node) {
			return result, nil, nil
		}
		return result, nil, &model.ActivityError{NodeID: node.ID, Message: envelope.Error}
	}
	return model.NewRaw(envelope.Result), nil, nil
}
