package model

// NodeOutput is the recorded result of one node execution: a label for
// display/template-lookup, the resolved action type (when applicable), and
// the node's data payload.
//
// Data covers the known result shapes described in the design notes
// (ActionResult, ApprovalResult, LoopResult, BranchResult, StateResult, Raw)
// as plain map[string]any values built by the NewXResult constructors below,
// so the Template Resolver can navigate them the same way it navigates
// trigger payloads and activity responses, without a type switch per shape.
type NodeOutput struct {
	Label      string `json:"label"`
	ActionType string `json:"actionType,omitempty"`
	Data       any    `json:"data"`
}

// NodeOutputs maps node id to its recorded output. The instance seeds it
// with "trigger" and the reserved "state" entry before interpretation
// begins.
type NodeOutputs map[string]NodeOutput

// NewActionResult builds the Data payload for an action/activity node.
func NewActionResult(success bool, data any, errMsg string) map[string]any {
	return map[string]any{"success": success, "data": data, "error": errMsg}
}

// NewApprovalResult builds the Data payload for an approval-gate node.
func NewApprovalResult(approved bool, reason, respondedBy string) map[string]any {
	return map[string]any{"approved": approved, "reason": reason, "respondedBy": respondedBy}
}

// NewLoopResult builds the Data payload for a loop-until node.
func NewLoopResult(conditionMet bool, iteration int, extra map[string]any) map[string]any {
	out := map[string]any{"conditionMet": conditionMet, "iteration": iteration}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// NewBranchResult builds the Data payload for an if-else node.
func NewBranchResult(conditionMet bool, branch, operator string, skippedNodeIDs []string) map[string]any {
	return map[string]any{
		"conditionMet":   conditionMet,
		"branch":         branch,
		"operator":       operator,
		"skippedNodeIds": skippedNodeIDs,
	}
}

// NewStateResult builds the Data payload for the reserved state node and for
// set-state node outputs.
func NewStateResult(success bool, data map[string]any) map[string]any {
	return map[string]any{"success": success, "data": data}
}

// NewRaw wraps an arbitrary value as a node's Data payload (trigger
// passthrough, agent child-workflow result).
func NewRaw(v any) any { return v }

// StateVars is the per-instance mutable key/value store exposed as the
// virtual "state" node. Only set-state nodes mutate it.
type StateVars map[string]any

// LoopCounters tracks completed-pass counts per loop-until node id.
// Interpreter-local; never read by other node types.
type LoopCounters map[string]int

// SkipSet holds node ids deactivated by an if-else decision.
type SkipSet map[string]struct{}

// Add marks id as skipped, unless it is the excluded id (the branch node
// itself is never skipped).
func (s SkipSet) Add(id, exclude string) {
	if id == exclude {
		return
	}
	s[id] = struct{}{}
}

func (s SkipSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// CustomStatus is the coarse progress view visible via the status API.
type CustomStatus struct {
	Phase             string `json:"phase"`
	Progress          int    `json:"progress"`
	Message           string `json:"message,omitempty"`
	CurrentNodeID     string `json:"currentNodeId,omitempty"`
	CurrentNodeName   string `json:"currentNodeName,omitempty"`
	ApprovalEventName string `json:"approvalEventName,omitempty"`
	TraceID           string `json:"traceId,omitempty"`
}

// Phase constants used across CustomStatus and terminal results.
const (
	PhaseRunning         = "running"
	PhaseAwaitingApproval = "awaiting_approval"
	PhaseCompleted       = "completed"
	PhaseFailed          = "failed"
	PhaseRejected        = "rejected"
	PhasePlanning        = "planning"
	PhasePersisting      = "persisting"
	PhaseExecuting       = "executing"
	PhaseApproval        = "approval"
)

// Instance describes a scheduled interpretation of one graph; it is the
// input to StartWorkflow for the interpreter workflow.
type Instance struct {
	InstanceID        string         `json:"instanceId"`
	Definition        GraphDefinition `json:"definition"`
	TriggerData       map[string]any `json:"triggerData"`
	Integrations      map[string]any `json:"integrations,omitempty"`
	DBExecutionID     string         `json:"dbExecutionId,omitempty"`
	NodeConnectionMap map[string]any `json:"nodeConnectionMap,omitempty"`
}

// RunResult is the terminal return value of the interpreter workflow.
type RunResult struct {
	Success    bool           `json:"success"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
	Phase      string         `json:"phase"`
}

// PlannerInstance is the input to the planner sub-workflow.
type PlannerInstance struct {
	InstanceID       string   `json:"instanceId"`
	FeatureRequest   string   `json:"feature_request"`
	ParentExecutionID string  `json:"parent_execution_id,omitempty"`
	Tasks            []Task   `json:"tasks,omitempty"`
}

// Task is one planner-generated unit of work.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// PlannerResult is the terminal return value of the planner workflow.
type PlannerResult struct {
	Success   bool   `json:"success"`
	WorkflowID string `json:"workflow_id,omitempty"`
	TaskCount int    `json:"task_count,omitempty"`
	Tasks     []Task `json:"tasks,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CompletionEnvelope is the pub/sub message correlating a child agent or
// planner run back to a waiting parent instance.
type CompletionEnvelope struct {
	Type      string         `json:"type"`
	WorkflowID string        `json:"workflowId"`
	AgentID   string         `json:"agentId,omitempty"`
	Data      CompletionData `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// CompletionData is the payload carried by a CompletionEnvelope.
type CompletionData struct {
	ParentExecutionID string         `json:"parent_execution_id,omitempty"`
	Success           bool           `json:"success"`
	Result            map[string]any `json:"result,omitempty"`
	Tasks             []Task         `json:"tasks,omitempty"`
	TaskCount         int            `json:"task_count,omitempty"`
	Error             string         `json:"error,omitempty"`
}
