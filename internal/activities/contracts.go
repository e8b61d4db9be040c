// Package activities defines the thin, idempotent, side-effecting façades
// workflow bodies call through engine.WorkflowContext.ExecuteActivity. Each
// activity is a pure request/response contract to an external collaborator
// (function-router, pub/sub transport, state store, audit database, agent
// and planner services); workflow bodies never perform I/O inline.
//
// This file declares activity names and their input/output DTOs only. The
// handler implementations, which hold the real HTTP/Redis/Postgres clients,
// live alongside it in this package and are registered with the engine in
// cmd/server.
package activities

// Activity names. The interpreter and planner workflow reference activities
// only by these string constants through engine.ActivityRequest; they never
// import a concrete client.
const (
	ExecuteAction           = "execute_action"
	PublishEvent            = "publish_event"
	PublishPhaseChanged     = "publish_phase_changed"
	PersistState            = "persist_state"
	GetState                = "get_state"
	DeleteState             = "delete_state"
	LogAudit                = "log_audit"
	PersistResultsToDB      = "persist_results_to_db"
	CallAgentRun            = "call_agent_run"
	CallDurableAgentRun     = "call_durable_agent_run"
	CallMastraAgentRun      = "call_mastra_agent_run"
	CallDurableExecutePlan  = "call_durable_execute_plan"
	CallPlannerPlan         = "call_planner_plan"
	CallPlannerWorkflow     = "call_planner_workflow"
	CallPlannerContinue     = "call_planner_continue"
	CallPlannerApprove      = "call_planner_approve"
	SendAPCallback          = "send_ap_callback"
	SendAPStepUpdate        = "send_ap_step_update"
	PlannerPlanning         = "planner_planning"
	PlannerPersistTasks     = "planner_persist_tasks"
	PlannerExecution        = "planner_execution"
)

// ExecuteActionInput is the request for the execute-action activity (spec
// §4.6): a POST to the function-router's /execute endpoint.
type ExecuteActionInput struct {
	FunctionSlug         string         `json:"function_slug"`
	ExecutionID          string         `json:"execution_id"`
	WorkflowID           string         `json:"workflow_id"`
	NodeID               string         `json:"node_id"`
	NodeName             string         `json:"node_name"`
	Input                map[string]any `json:"input"`
	IntegrationID        string         `json:"integration_id,omitempty"`
	Integrations         map[string]any `json:"integrations,omitempty"`
	DBExecutionID        string         `json:"db_execution_id,omitempty"`
	ConnectionExternalID string         `json:"connection_external_id,omitempty"`
	NodeOutputs          map[string]any `json:"node_outputs,omitempty"`
}

// PauseDescriptor describes a secondary-flow-walker pause request; the
// dynamic interpreter never suspends on this itself, it only forwards it
// through the node's recorded output for non-interpreter consumers.
type PauseDescriptor struct {
	Kind      string `json:"kind"` // "DELAY" | "WEBHOOK"
	Seconds   int    `json:"seconds,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ExecuteActionOutput is the function-router's response.
type ExecuteActionOutput struct {
	Success    bool             `json:"success"`
	Data       any              `json:"data,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Pause      *PauseDescriptor `json:"pause,omitempty"`
}

// PublishEventInput is a CloudEvents-shaped payload published to a pub/sub
// topic (spec §4.6, §6).
type PublishEventInput struct {
	Topic    string         `json:"topic"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	TraceID  string         `json:"traceId,omitempty"`
}

// PublishEventOutput confirms delivery.
type PublishEventOutput struct {
	Published bool `json:"published"`
}

// StateKVInput addresses a Dapr-style key/value entry.
type StateKVInput struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// StateKVOutput carries the result of a get-state call; Found is false when
// the key does not exist.
type StateKVOutput struct {
	Found bool `json:"found"`
	Value any  `json:"value,omitempty"`
}

// AuditLogInput writes one row to workflow_execution_logs and, for
// function-router-reached nodes, forwards to /external-event.
type AuditLogInput struct {
	ExecutionID  string `json:"execution_id"`
	NodeID       string `json:"node_id"`
	NodeName     string `json:"node_name"`
	NodeType     string `json:"node_type"`
	ActivityName string `json:"activity_name"`
	Status       string `json:"status"` // running | success | error
	Input        any    `json:"input,omitempty"`
	Output       any    `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	ViaFunctionRouter bool `json:"-"`
}

// AuditLogOutput is empty on success; audit failures are never fatal (spec
// §7 kind 7), so this activity never returns an error to the workflow body.
type AuditLogOutput struct{}

// PersistResultsInput is the final UPDATE workflow_executions write.
type PersistResultsInput struct {
	DBExecutionID string `json:"db_execution_id"`
	Output        any    `json:"output"`
	Status        string `json:"status"` // success | error
	DurationMs    int64  `json:"duration_ms"`
}

// PersistResultsOutput is empty; persistence failures are logged, never
// fatal.
type PersistResultsOutput struct{}

// CallAgentInput starts a child agent or planner run.
type CallAgentInput struct {
	ParentInstanceID string         `json:"parent_instance_id"`
	Prompt           string         `json:"prompt"`
	Config           map[string]any `json:"config,omitempty"`
	TraceID          string         `json:"trace_id,omitempty"`
}

// CallAgentOutput is the start acknowledgement from the agent/planner
// service.
type CallAgentOutput struct {
	Success    bool   `json:"success"`
	WorkflowID string `json:"workflow_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CallbackInput posts flow status to an external flow-run endpoint.
type CallbackInput struct {
	FlowRunID string         `json:"flow_run_id"`
	Payload   map[string]any `json:"payload"`
}

// CallbackOutput confirms delivery.
type CallbackOutput struct {
	Delivered bool `json:"delivered"`
}

// PlannerPlanningInput is the request to the planning activity (spec
// §4.4 step 2).
type PlannerPlanningInput struct {
	FeatureRequest string `json:"feature_request"`
}

// PlannerPlanningOutput carries the generated task list.
type PlannerPlanningOutput struct {
	Success bool          `json:"success"`
	Tasks   []PlannerTask `json:"tasks,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PlannerTask mirrors model.Task for the activity boundary.
type PlannerTask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// PlannerPersistInput stores the generated tasks under "tasks:{id}".
type PlannerPersistInput struct {
	InstanceID string        `json:"instance_id"`
	Tasks      []PlannerTask `json:"tasks"`
}

// PlannerPersistOutput confirms the write.
type PlannerPersistOutput struct {
	Success bool `json:"success"`
}

// PlannerExecutionInput is the request to the execution activity (spec
// §4.4 step 5).
type PlannerExecutionInput struct {
	InstanceID string        `json:"instance_id"`
	Tasks      []PlannerTask `json:"tasks"`
}

// PlannerExecutionOutput carries the execution outcome.
type PlannerExecutionOutput struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}
