package interp

import (
	"time"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/model"
)

// successResult implements spec §4.1 step 3: flatten outputs, persist
// them, write the terminal audit row, and set the completed CustomStatus
// with progress finally allowed to reach 100.
func (ist *interpreterState) successResult(wfCtx engine.WorkflowContext, started time.Time) model.RunResult {
	duration := wfCtx.Now().Sub(started).Milliseconds()
	outputs := ist.flattenOutputs()

	ist.setCustomStatus(wfCtx.Context(), model.CustomStatus{
		Phase:    model.PhaseCompleted,
		Progress: 100,
		Message:  "completed",
		TraceID:  wfCtx.WorkflowID(),
	})
	ist.persistOutputs(wfCtx.Context(), outputs)
	ist.auditTerminal(wfCtx.Context(), true, "", duration, outputs)

	return model.RunResult{
		Success:    true,
		Outputs:    outputs,
		DurationMs: duration,
		Phase:      model.PhaseCompleted,
	}
}

// errorResult implements spec §4.1 step 4: an ApprovalRejectedError yields
// phase "rejected"; every other error yields phase "failed".
func (ist *interpreterState) errorResult(wfCtx engine.WorkflowContext, started time.Time, err error) model.RunResult {
	phase := model.PhaseFailed
	if _, rejected := err.(*model.ApprovalRejectedError); rejected {
		phase = model.PhaseRejected
	}

	duration := wfCtx.Now().Sub(started).Milliseconds()
	outputs := ist.flattenOutputs()

	ist.setCustomStatus(wfCtx.Context(), model.CustomStatus{
		Phase:    phase,
		Progress: ist.progress(),
		Message:  err.Error(),
		TraceID:  wfCtx.WorkflowID(),
	})
	ist.auditTerminal(wfCtx.Context(), false, err.Error(), duration, outputs)

	return model.RunResult{
		Success:    false,
		Error:      err.Error(),
		Outputs:    outputs,
		DurationMs: duration,
		Phase:      phase,
	}
}
