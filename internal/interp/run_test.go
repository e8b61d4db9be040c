package interp_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/engine/inmem"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/interp"
	"github.com/flowcraft/orchestrator/internal/model"
)

// newTestEngine registers the interpreter workflow plus a stub for every
// activity name it calls, mirroring spec §8's literal end-to-end scenarios.
// echoData is consulted by the execute_action stub to produce per-test
// results without a real function-router behind it.
func newTestEngine(t *testing.T, echoData func(in activities.ExecuteActionInput) activities.ExecuteActionOutput) engine.Engine {
	t.Helper()
	eng := inmem.New()
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	must(eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: interp.WorkflowName, Handler: interp.Run}))

	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: activities.ExecuteAction,
		Handler: func(_ context.Context, input any) (any, error) {
			in, _ := input.(activities.ExecuteActionInput)
			if echoData == nil {
				return activities.ExecuteActionOutput{Success: true}, nil
			}
			return echoData(in), nil
		},
	}))
	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activities.LogAudit,
		Handler: func(_ context.Context, _ any) (any, error) { return nil, nil },
	}))
	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activities.PublishPhaseChanged,
		Handler: func(_ context.Context, _ any) (any, error) { return nil, nil },
	}))
	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activities.PersistState,
		Handler: func(_ context.Context, _ any) (any, error) { return nil, nil },
	}))
	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name:    activities.PersistResultsToDB,
		Handler: func(_ context.Context, _ any) (any, error) { return nil, nil },
	}))
	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: activities.CallDurableAgentRun,
		Handler: func(_ context.Context, _ any) (any, error) {
			return activities.CallAgentOutput{Success: true, WorkflowID: "child-1"}, nil
		},
	}))
	must(eng.RegisterActivity(ctx, engine.ActivityDefinition{
		Name: activities.CallDurableExecutePlan,
		Handler: func(_ context.Context, _ any) (any, error) {
			return activities.CallAgentOutput{Success: true, WorkflowID: "child-1"}, nil
		},
	}))

	return eng
}

func waitTerminal(t *testing.T, h engine.WorkflowHandle, timeout time.Duration) model.RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var res model.RunResult
	if err := h.Wait(ctx, &res); err != nil {
		t.Fatalf("workflow wait: %v", err)
	}
	return res
}

func graph(id string, nodes []model.Node, edges []model.Edge, order []string) model.GraphDefinition {
	return model.GraphDefinition{ID: id, Name: id, Nodes: nodes, Edges: edges, ExecutionOrder: order}
}

// Scenario 1 (spec §8 "Hello"): a trigger feeding a single echo action.
func TestRun_Hello(t *testing.T) {
	eng := newTestEngine(t, func(in activities.ExecuteActionInput) activities.ExecuteActionOutput {
		return activities.ExecuteActionOutput{Success: true, Data: in.Input["text"]}
	})

	def := graph("hello", []model.Node{
		{ID: "T", Type: model.NodeTrigger},
		{ID: "A", Type: model.NodeAction, Label: "Echo", Config: map[string]any{
			"actionType": "echo",
			"text":       "{{T.name}}",
		}},
	}, []model.Edge{{Source: "T", Target: "A"}}, []string{"T", "A"})

	inst := model.Instance{
		InstanceID:  "wf-hello",
		Definition:  def,
		TriggerData: map[string]any{"name": "world"},
	}

	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "wf-hello", Workflow: interp.WorkflowName, Input: inst,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	res := waitTerminal(t, h, 2*time.Second)
	if !res.Success || res.Phase != model.PhaseCompleted {
		t.Fatalf("expected completed success, got %+v", res)
	}
	out, ok := res.Outputs["A"].(map[string]any)
	if !ok {
		t.Fatalf("expected map output for A, got %#v", res.Outputs["A"])
	}
	if out["success"] != true || out["data"] != "world" {
		t.Fatalf("unexpected action output: %#v", out)
	}
}

// Scenario 2 (spec §8 "Approval-reject"): an explicit rejection terminates
// the run with phase "rejected" and the action after the gate never runs.
func TestRun_ApprovalReject(t *testing.T) {
	var actionCalled int32
	eng := newTestEngine(t, func(activities.ExecuteActionInput) activities.ExecuteActionOutput {
		atomic.AddInt32(&actionCalled, 1)
		return activities.ExecuteActionOutput{Success: true}
	})

	def := graph("approval", []model.Node{
		{ID: "T", Type: model.NodeTrigger},
		{ID: "G", Type: model.NodeApprovalGate, Label: "Gate", Config: map[string]any{
			"eventName":      "go",
			"timeoutSeconds": 5,
		}},
		{ID: "A", Type: model.NodeAction, Config: map[string]any{"actionType": "noop"}},
	}, []model.Edge{{Source: "T", Target: "G"}, {Source: "G", Target: "A"}}, []string{"T", "G", "A"})

	inst := model.Instance{InstanceID: "wf-approval", Definition: def, TriggerData: map[string]any{}}

	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "wf-approval", Workflow: interp.WorkflowName, Input: inst,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := eng.RaiseEvent(context.Background(), "wf-approval", "go", map[string]any{
		"approved": false,
		"reason":   "nope",
	}); err != nil {
		t.Fatalf("raise event: %v", err)
	}

	res := waitTerminal(t, h, 2*time.Second)
	if res.Success || res.Phase != model.PhaseRejected {
		t.Fatalf("expected rejected failure, got %+v", res)
	}
	if res.Error != "Workflow rejected at G: nope" {
		t.Fatalf("unexpected error message: %q", res.Error)
	}
	if atomic.LoadInt32(&actionCalled) != 0 {
		t.Fatalf("action after a rejected gate must never run")
	}
}

// Scenario 3 (spec §8 "Loop-until"): the loop body re-runs via the index
// jump until the checked value reaches the target, then exits normally.
func TestRun_LoopUntil(t *testing.T) {
	var count int32
	eng := newTestEngine(t, func(activities.ExecuteActionInput) activities.ExecuteActionOutput {
		n := atomic.AddInt32(&count, 1)
		return activities.ExecuteActionOutput{Success: true, Data: map[string]any{"count": int(n)}}
	})

	def := graph("loop", []model.Node{
		{ID: "T", Type: model.NodeTrigger},
		{ID: "Inc", Type: model.NodeAction, Config: map[string]any{"actionType": "increment"}},
		{ID: "L", Type: model.NodeLoopUntil, Config: map[string]any{
			"operator":        "NUMBER_IS_EQUAL_TO",
			"left":            "{{Inc.data.count}}",
			"right":           3,
			"loopStartNodeId": "Inc",
			"maxIterations":   10,
		}},
	}, []model.Edge{{Source: "T", Target: "Inc"}, {Source: "Inc", Target: "L"}}, []string{"T", "Inc", "L"})

	inst := model.Instance{InstanceID: "wf-loop", Definition: def, TriggerData: map[string]any{}}

	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "wf-loop", Workflow: interp.WorkflowName, Input: inst,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	res := waitTerminal(t, h, 2*time.Second)
	if !res.Success || res.Phase != model.PhaseCompleted {
		t.Fatalf("expected completed success, got %+v", res)
	}
	if atomic.LoadInt32(&count) != 3 {
		t.Fatalf("expected the action to run exactly 3 times, ran %d", count)
	}
	loopOut, ok := res.Outputs["L"].(map[string]any)
	if !ok || loopOut["conditionMet"] != true {
		t.Fatalf("expected loop-until to exit with conditionMet=true, got %#v", res.Outputs["L"])
	}
}

// Scenario 4 (spec §8 "If/else"): the branch not taken is pruned from
// outputs as a skipped node, and only the chosen branch's action runs.
func TestRun_IfElse(t *testing.T) {
	var ran []string
	var mu sync.Mutex
	eng := newTestEngine(t, func(in activities.ExecuteActionInput) activities.ExecuteActionOutput {
		mu.Lock()
		ran = append(ran, in.NodeID)
		mu.Unlock()
		return activities.ExecuteActionOutput{Success: true}
	})

	def := graph("ifelse", []model.Node{
		{ID: "T", Type: model.NodeTrigger},
		{ID: "Cond", Type: model.NodeIfElse, Config: map[string]any{
			"operator": "NUMBER_IS_GREATER_THAN",
			"left":     "{{T.amount}}",
			"right":    100,
		}},
		{ID: "Big", Type: model.NodeAction, Config: map[string]any{"actionType": "big"}},
		{ID: "Small", Type: model.NodeAction, Config: map[string]any{"actionType": "small"}},
	}, []model.Edge{
		{Source: "T", Target: "Cond"},
		{Source: "Cond", Target: "Big", SourceHandle: "true"},
		{Source: "Cond", Target: "Small", SourceHandle: "false"},
	}, []string{"T", "Cond", "Big", "Small"})

	inst := model.Instance{InstanceID: "wf-ifelse", Definition: def, TriggerData: map[string]any{"amount": 150}}

	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "wf-ifelse", Workflow: interp.WorkflowName, Input: inst,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	res := waitTerminal(t, h, 2*time.Second)
	if !res.Success || res.Phase != model.PhaseCompleted {
		t.Fatalf("expected completed success, got %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "Big" {
		t.Fatalf("expected only Big to run, ran %v", ran)
	}
	small, ok := res.Outputs["Small"].(map[string]any)
	if !ok || small["skipped"] != true {
		t.Fatalf("expected Small to be recorded as skipped, got %#v", res.Outputs["Small"])
	}
	cond, ok := res.Outputs["Cond"].(map[string]any)
	if !ok || cond["branch"] != "true" {
		t.Fatalf("expected Cond branch=true, got %#v", res.Outputs["Cond"])
	}
}

// Scenario 5 (spec §8 "Agent child"): an agent-prefixed action starts a
// child run and suspends until its completion signal arrives.
func TestRun_AgentChild(t *testing.T) {
	eng := newTestEngine(t, nil)

	def := graph("agent", []model.Node{
		{ID: "T", Type: model.NodeTrigger},
		{ID: "AG", Type: model.NodeAction, Config: map[string]any{
			"actionType":     "durable/agent.run",
			"prompt":         "do the thing",
			"timeoutMinutes": 1,
		}},
	}, []model.Edge{{Source: "T", Target: "AG"}}, []string{"T", "AG"})

	inst := model.Instance{InstanceID: "wf-agent", Definition: def, TriggerData: map[string]any{}}

	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "wf-agent", Workflow: interp.WorkflowName, Input: inst,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The stub CallDurableAgentRun always names the child "child-1", so the
	// completion event name is known up front; RaiseEvent is safe to call
	// immediately since the in-memory engine buffers events delivered
	// before the workflow body reaches its own SignalChannel/WhenAny call.
	completion := model.CompletionData{Success: true, Result: map[string]any{"answer": float64(42)}}
	if err := eng.RaiseEvent(context.Background(), "wf-agent", "agent_completed_child-1", completion); err != nil {
		t.Fatalf("raise event: %v", err)
	}

	res := waitTerminal(t, h, 2*time.Second)
	if !res.Success || res.Phase != model.PhaseCompleted {
		t.Fatalf("expected completed success, got %+v", res)
	}
	out, ok := res.Outputs["AG"].(map[string]any)
	if !ok || out["answer"] != float64(42) {
		t.Fatalf("expected agent child result to surface as AG's output, got %#v", res.Outputs["AG"])
	}
}

// After a successful run, the terminal CustomStatus write carries progress
// 100 and phase "completed".
func TestRun_TerminalStatusReachesHundred(t *testing.T) {
	eng := newTestEngine(t, func(activities.ExecuteActionInput) activities.ExecuteActionOutput {
		return activities.ExecuteActionOutput{Success: true}
	})

	def := graph("progress", []model.Node{
		{ID: "T", Type: model.NodeTrigger},
		{ID: "A", Type: model.NodeAction, Config: map[string]any{"actionType": "noop"}},
	}, []model.Edge{{Source: "T", Target: "A"}}, []string{"T", "A"})

	inst := model.Instance{InstanceID: "wf-progress", Definition: def, TriggerData: map[string]any{}}

	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "wf-progress", Workflow: interp.WorkflowName, Input: inst,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res := waitTerminal(t, h, 2*time.Second)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	state, err := eng.GetWorkflowState(context.Background(), "wf-progress")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	status, ok := state.CustomStatus.(model.CustomStatus)
	if !ok {
		t.Fatalf("expected CustomStatus value, got %#v", state.CustomStatus)
	}
	if status.Progress != 100 || status.Phase != model.PhaseCompleted {
		t.Fatalf("expected terminal status 100/completed, got %+v", status)
	}
}
