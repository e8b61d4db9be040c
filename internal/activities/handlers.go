package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/audit"
	"github.com/flowcraft/orchestrator/internal/config"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/internal/statestore"
	"github.com/flowcraft/orchestrator/telemetry"
)

// Handlers bundles the collaborators every activity façade calls through,
// and exposes each as an engine.ActivityFunc ready for
// engine.Engine.RegisterActivity. Workflow bodies never hold a *Handlers
// directly; only cmd/server does, at registration time.
type Handlers struct {
	HTTP     *http.Client
	Dapr     config.DaprConfig
	PubSub   pubsub.PubSub
	Store    statestore.Store
	Audit    *audit.DB
	Log      telemetry.Logger
}

// NewHandlers constructs a Handlers bundle from already-dialed
// collaborators.
func NewHandlers(daprCfg config.DaprConfig, ps pubsub.PubSub, store statestore.Store, auditDB *audit.DB, log telemetry.Logger) *Handlers {
	return &Handlers{
		HTTP:   &http.Client{Timeout: 30 * time.Second},
		Dapr:   daprCfg,
		PubSub: ps,
		Store:  store,
		Audit:  auditDB,
		Log:    log,
	}
}

// daprInvokeURL builds a Dapr service-invocation URL against the sidecar.
func (h *Handlers) daprInvokeURL(appID, method string) string {
	return fmt.Sprintf("http://%s:%d/v1.0/invoke/%s/method/%s", h.Dapr.Host, h.Dapr.HTTPPort, appID, method)
}

func (h *Handlers) postJSON(ctx context.Context, url string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d: %s", url, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// ExecuteAction implements engine.ActivityFunc for the "execute_action"
// activity: it invokes the function-router app over Dapr service
// invocation and returns its result unwrapped.
func (h *Handlers) ExecuteAction(ctx context.Context, input any) (any, error) {
	req, ok := input.(ExecuteActionInput)
	if !ok {
		return nil, fmt.Errorf("execute_action: unexpected input type %T", input)
	}
	started := time.Now()
	var out ExecuteActionOutput
	url := h.daprInvokeURL(h.Dapr.FunctionRouterAppID, "execute")
	if err := h.postJSON(ctx, url, req, &out); err != nil {
		return ExecuteActionOutput{Success: false, Error: err.Error(), DurationMs: time.Since(started).Milliseconds()}, nil
	}
	if out.DurationMs == 0 {
		out.DurationMs = time.Since(started).Milliseconds()
	}
	return out, nil
}

// PublishEvent implements the "publish_event" and "publish_phase_changed"
// activities: both publish a CloudEvents-shaped envelope, differing only in
// which topic the caller names in the request. Envelopes on
// "workflow.stream" whose data carries a workflowId are also mirrored to the
// state store under statestore.EventsKey, capped at 500 entries.
func (h *Handlers) PublishEvent(ctx context.Context, input any) (any, error) {
	req, ok := input.(PublishEventInput)
	if !ok {
		return nil, fmt.Errorf("publish_event: unexpected input type %T", input)
	}
	env := pubsub.Envelope{
		Type:    req.Type,
		Source:  "workflow-orchestrator",
		Time:    time.Now(),
		TraceID: req.TraceID,
		Data:    req.Data,
	}
	if wfID, _ := req.Data["workflowId"].(string); req.Topic == "workflow.stream" && wfID != "" && h.Store != nil {
		if raw, err := json.Marshal(env); err == nil {
			if err := h.Store.AppendCapped(ctx, statestore.EventsKey(wfID), raw, 500); err != nil {
				h.Log.Warn(ctx, "mirror event to state store failed", "workflow_id", wfID, "error", err.Error())
			}
		}
	}
	if err := h.PubSub.Publish(ctx, req.Topic, env); err != nil {
		h.Log.Warn(ctx, "publish failed", "topic", req.Topic, "type", req.Type, "error", err.Error())
		return PublishEventOutput{Published: false}, nil
	}
	return PublishEventOutput{Published: true}, nil
}

// PersistState implements "persist_state".
func (h *Handlers) PersistState(ctx context.Context, input any) (any, error) {
	req, ok := input.(StateKVInput)
	if !ok {
		return nil, fmt.Errorf("persist_state: unexpected input type %T", input)
	}
	payload, err := json.Marshal(req.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal state value: %w", err)
	}
	if err := h.Store.Set(ctx, req.Key, payload); err != nil {
		return nil, fmt.Errorf("persist state %s: %w", req.Key, err)
	}
	return StateKVOutput{Found: true, Value: req.Value}, nil
}

// GetState implements "get_state".
func (h *Handlers) GetState(ctx context.Context, input any) (any, error) {
	req, ok := input.(StateKVInput)
	if !ok {
		return nil, fmt.Errorf("get_state: unexpected input type %T", input)
	}
	raw, found, err := h.Store.Get(ctx, req.Key)
	if err != nil {
		return nil, fmt.Errorf("get state %s: %w", req.Key, err)
	}
	if !found {
		return StateKVOutput{Found: false}, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("unmarshal state %s: %w", req.Key, err)
	}
	return StateKVOutput{Found: true, Value: value}, nil
}

// DeleteState implements "delete_state".
func (h *Handlers) DeleteState(ctx context.Context, input any) (any, error) {
	req, ok := input.(StateKVInput)
	if !ok {
		return nil, fmt.Errorf("delete_state: unexpected input type %T", input)
	}
	if err := h.Store.Delete(ctx, req.Key); err != nil {
		return nil, fmt.Errorf("delete state %s: %w", req.Key, err)
	}
	return StateKVOutput{}, nil
}

// LogAudit implements "log_audit". Failures are logged and swallowed: audit
// trail gaps never fail the workflow that produced them.
func (h *Handlers) LogAudit(ctx context.Context, input any) (any, error) {
	req, ok := input.(AuditLogInput)
	if !ok {
		return nil, fmt.Errorf("log_audit: unexpected input type %T", input)
	}
	if h.Audit == nil {
		return AuditLogOutput{}, nil
	}
	_ = h.Audit.LogNodeEvent(ctx, req.ExecutionID, req.NodeID, req.NodeName, req.NodeType, req.Status, req.Input, req.Output, req.Error, req.DurationMs)
	return AuditLogOutput{}, nil
}

// PersistResultsToDB implements "persist_results_to_db".
func (h *Handlers) PersistResultsToDB(ctx context.Context, input any) (any, error) {
	req, ok := input.(PersistResultsInput)
	if !ok {
		return nil, fmt.Errorf("persist_results_to_db: unexpected input type %T", input)
	}
	if h.Audit == nil {
		return PersistResultsOutput{}, nil
	}
	_ = h.Audit.CompleteExecution(ctx, req.DBExecutionID, req.Status == "success", req.Output, req.DurationMs)
	return PersistResultsOutput{}, nil
}

// CallAgentRun implements the call_agent_run / call_durable_agent_run /
// call_mastra_agent_run family: all invoke an agent app over Dapr service
// invocation through this single handler. The method path is read from
// CallAgentInput.Config["method"] (default "run") and the app id from
// Config["app_id"] (default the planner app id); the interpreter passes the
// node's resolved config through unchanged, so both come from node config.
func (h *Handlers) CallAgentRun(ctx context.Context, input any) (any, error) {
	req, ok := input.(CallAgentInput)
	if !ok {
		return nil, fmt.Errorf("call_agent_run: unexpected input type %T", input)
	}
	method, _ := req.Config["method"].(string)
	if method == "" {
		method = "run"
	}
	appID, _ := req.Config["app_id"].(string)
	if appID == "" {
		appID = h.Dapr.PlannerAppID
	}
	var out CallAgentOutput
	url := h.daprInvokeURL(appID, method)
	if err := h.postJSON(ctx, url, req, &out); err != nil {
		return CallAgentOutput{Success: false, Error: err.Error()}, nil
	}
	return out, nil
}

// CallPlannerPlan implements the planner's "plan" activity (spec §4.4 step
// 2): it invokes the planning service over Dapr service invocation.
func (h *Handlers) CallPlannerPlan(ctx context.Context, input any) (any, error) {
	req, ok := input.(PlannerPlanningInput)
	if !ok {
		return nil, fmt.Errorf("call_planner_plan: unexpected input type %T", input)
	}
	var out PlannerPlanningOutput
	url := h.daprInvokeURL(h.Dapr.PlannerAppID, "plan")
	if err := h.postJSON(ctx, url, req, &out); err != nil {
		return PlannerPlanningOutput{Success: false, Error: err.Error()}, nil
	}
	return out, nil
}

// CallPlannerExecution implements the planner's execution activity (spec
// §4.4 step 5): it dispatches the approved tasks to the execution service.
func (h *Handlers) CallPlannerExecution(ctx context.Context, input any) (any, error) {
	req, ok := input.(PlannerExecutionInput)
	if !ok {
		return nil, fmt.Errorf("call_planner_execution: unexpected input type %T", input)
	}
	var out PlannerExecutionOutput
	url := h.daprInvokeURL(h.Dapr.PlannerAppID, "execute")
	if err := h.postJSON(ctx, url, req, &out); err != nil {
		return PlannerExecutionOutput{Success: false, Error: err.Error()}, nil
	}
	return out, nil
}

// PersistPlannerTasks implements "planner_persist_tasks": it stores the
// generated task list under statestore.TasksKey so the approval phase and
// the execution activity can both read it back.
func (h *Handlers) PersistPlannerTasks(ctx context.Context, input any) (any, error) {
	req, ok := input.(PlannerPersistInput)
	if !ok {
		return nil, fmt.Errorf("planner_persist_tasks: unexpected input type %T", input)
	}
	payload, err := json.Marshal(req.Tasks)
	if err != nil {
		return nil, fmt.Errorf("marshal tasks: %w", err)
	}
	key := req.InstanceID
	if err := h.Store.Set(ctx, "tasks:"+key, payload); err != nil {
		return PlannerPersistOutput{Success: false}, nil
	}
	return PlannerPersistOutput{Success: true}, nil
}

// SendAPCallback implements send_ap_callback / send_ap_step_update: both
// POST a status payload to an externally supplied callback URL carried in
// Payload["callback_url"].
func (h *Handlers) SendAPCallback(ctx context.Context, input any) (any, error) {
	req, ok := input.(CallbackInput)
	if !ok {
		return nil, fmt.Errorf("send_ap_callback: unexpected input type %T", input)
	}
	url, _ := req.Payload["callback_url"].(string)
	if url == "" {
		return CallbackOutput{Delivered: false}, nil
	}
	if err := h.postJSON(ctx, url, req.Payload, nil); err != nil {
		h.Log.Warn(ctx, "callback delivery failed", "flow_run_id", req.FlowRunID, "error", err.Error())
		return CallbackOutput{Delivered: false}, nil
	}
	return CallbackOutput{Delivered: true}, nil
}

// Register wires every activity handler on eng under its well-known name,
// each bounded to the engine's default retry policy (callers may still
// override per ActivityRequest).
func (h *Handlers) Register(ctx context.Context, eng engine.Engine) error {
	defs := []engine.ActivityDefinition{
		{Name: ExecuteAction, Handler: h.ExecuteAction},
		{Name: PublishEvent, Handler: h.PublishEvent},
		{Name: PublishPhaseChanged, Handler: h.PublishEvent},
		{Name: PersistState, Handler: h.PersistState},
		{Name: GetState, Handler: h.GetState},
		{Name: DeleteState, Handler: h.DeleteState},
		{Name: LogAudit, Handler: h.LogAudit},
		{Name: PersistResultsToDB, Handler: h.PersistResultsToDB},
		{Name: CallAgentRun, Handler: h.CallAgentRun},
		{Name: CallDurableAgentRun, Handler: h.CallAgentRun},
		{Name: CallMastraAgentRun, Handler: h.CallAgentRun},
		{Name: CallDurableExecutePlan, Handler: h.CallAgentRun},
		{Name: CallPlannerPlan, Handler: h.CallPlannerPlan},
		{Name: CallPlannerWorkflow, Handler: h.CallAgentRun},
		{Name: CallPlannerContinue, Handler: h.CallAgentRun},
		{Name: CallPlannerApprove, Handler: h.CallAgentRun},
		{Name: SendAPCallback, Handler: h.SendAPCallback},
		{Name: SendAPStepUpdate, Handler: h.SendAPCallback},
		{Name: PlannerPlanning, Handler: h.CallPlannerPlan},
		{Name: PlannerPersistTasks, Handler: h.PersistPlannerTasks},
		{Name: PlannerExecution, Handler: h.CallPlannerExecution},
	}
	for _, d := range defs {
		if err := eng.RegisterActivity(ctx, d); err != nil {
			return fmt.Errorf("register activity %s: %w", d.Name, err)
		}
	}
	return nil
}
