package interp

import (
	"context"
	"fmt"
	"time"

	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/model"
)

// approvalGateHandler implements spec §4.1.3: expose an external event
// name, publish the awaiting-approval phase, then suspend on whichever of
// the approval signal or a timeout resolves first. A non-approval outcome
// terminates the whole instance with phase "rejected".
func approvalGateHandler(ctx context.Context, ist *interpreterState, node *model.Node) (any, *int, error) {
	eventName := strVal(node.Config, "eventName")
	if eventName == "" {
		eventName = "approval_" + node.ID
	}
	timeoutSeconds := intVal(node.Config, "timeoutSeconds", 3600)

	ist.logAudit(ctx, node, activities.LogAudit, "running", map[string]any{"eventName": eventName}, nil, "")

	ist.setCustomStatus(ctx, model.CustomStatus{
		Phase:             model.PhaseAwaitingApproval,
		Progress:          ist.progress(),
		CurrentNodeID:     node.ID,
		CurrentNodeName:   node.Label,
		ApprovalEventName: eventName,
		TraceID:           ist.wfCtx.WorkflowID(),
	})
	ist.publishPhaseChanged(ctx, model.PhaseAwaitingApproval, ist.progress(), "Awaiting approval: "+node.Label)

	sig := ist.wfCtx.SignalChannel(eventName)
	timer := ist.wfCtx.CreateTimer(ctx, time.Duration(timeoutSeconds)*time.Second)
	idx, err := ist.wfCtx.WhenAny(ctx, sig, timer)
	if err != nil {
		return nil, nil, err
	}

	if idx == 1 {
		reason := fmt.Sprintf("Timed out after %d seconds", timeoutSeconds)
		result := model.NewApprovalResult(false, reason, "")
		ist.logAudit(ctx, node, activities.LogAudit, "error", nil, result, reason)
		return result, nil, &model.ApprovalRejectedError{NodeID: node.ID, Reason: reason}
	}

	var payload map[string]any
	if err := sig.Receive(ctx, &payload); err != nil {
		return nil, nil, err
	}
	approved, _ := payload["approved"].(bool)
	reason, _ := payload["reason"].(string)
	respondedBy, _ := payload["respondedBy"].(string)

	result := model.NewApprovalResult(approved, reason, respondedBy)
	status := "success"
	if !approved {
		status = "error"
	}
	ist.logAudit(ctx, node, activities.LogAudit, status, payload, result, "")

	if !approved {
		return result, nil, &model.ApprovalRejectedError{NodeID: node.ID, Reason: reason}
	}
	return result, nil, nil
}
