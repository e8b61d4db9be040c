package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/engine/inmem"
	"github.com/flowcraft/orchestrator/internal/bridge"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/telemetry"
)

const waiterWorkflow = "bridge_test_waiter"

// waiterResult is what the test workflow body returns once it receives a
// signal, so the assertions below can inspect exactly what the bridge
// delivered.
type waiterResult struct {
	EventName string
	Payload   map[string]any
}

func newWaiterEngine(t *testing.T, eventName string) engine.Engine {
	t.Helper()
	eng := inmem.New()
	require.NoError(t, eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name: waiterWorkflow,
		Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			sig := wfCtx.SignalChannel(eventName)
			var payload map[string]any
			if err := sig.Receive(wfCtx.Context(), &payload); err != nil {
				return nil, err
			}
			return waiterResult{EventName: eventName, Payload: payload}, nil
		},
	}))
	return eng
}

func waitFor(t *testing.T, h engine.WorkflowHandle) waiterResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var res waiterResult
	require.NoError(t, h.Wait(ctx, &res))
	return res
}

// TestHandle_PlannerExecutionCompleted covers the literal §4.5 mapping row
// planner_execution_completed -> planner_execution_{workflowId}.
func TestHandle_PlannerExecutionCompleted(t *testing.T) {
	eng := newWaiterEngine(t, "planner_execution_child-1")
	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "parent-1", Workflow: waiterWorkflow,
	})
	require.NoError(t, err)

	b := bridge.New(eng, telemetry.NewNoopLogger())
	err = b.Handle(context.Background(), pubsub.Envelope{
		Type: "planner_execution_completed",
		Data: map[string]any{
			"workflow_id":         "child-1",
			"parent_execution_id": "parent-1",
			"success":             true,
			"result":              map[string]any{"answer": 42},
		},
	})
	require.NoError(t, err)

	res := waitFor(t, h)
	require.Equal(t, "planner_execution_child-1", res.EventName)
	require.Equal(t, true, res.Payload["success"])
}

// TestHandle_GenericExecutionCompleted covers execution_completed ->
// planner_execution_{workflowId}, the non-planner-prefixed source type that
// maps to the same target prefix.
func TestHandle_GenericExecutionCompleted(t *testing.T) {
	eng := newWaiterEngine(t, "planner_execution_child-2")
	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "parent-2", Workflow: waiterWorkflow,
	})
	require.NoError(t, err)

	b := bridge.New(eng, telemetry.NewNoopLogger())
	err = b.Handle(context.Background(), pubsub.Envelope{
		Type: "execution_completed",
		Data: map[string]any{
			"workflow_id":         "child-2",
			"parent_execution_id": "parent-2",
			"success":             false,
			"error":               "boom",
		},
	})
	require.NoError(t, err)

	res := waitFor(t, h)
	require.Equal(t, "planner_execution_child-2", res.EventName)
	require.Equal(t, "boom", res.Payload["error"])
}

// TestHandle_IgnoresUnrecognizedType covers "ignore other types" from §4.5.
func TestHandle_IgnoresUnrecognizedType(t *testing.T) {
	b := bridge.New(inmem.New(), telemetry.NewNoopLogger())
	err := b.Handle(context.Background(), pubsub.Envelope{
		Type: "something_else",
		Data: map[string]any{"parent_execution_id": "parent-3"},
	})
	require.NoError(t, err)
}

// TestHandle_IgnoresMissingParent covers "envelopes without parent routing"
// from §4.5.
func TestHandle_IgnoresMissingParent(t *testing.T) {
	b := bridge.New(inmem.New(), telemetry.NewNoopLogger())
	err := b.Handle(context.Background(), pubsub.Envelope{
		Type: "planner_planning_completed",
		Data: map[string]any{"workflow_id": "child-4"},
	})
	require.NoError(t, err)
}
