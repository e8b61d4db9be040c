package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/engine/inmem"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/bridge"
	"github.com/flowcraft/orchestrator/internal/config"
	"github.com/flowcraft/orchestrator/internal/flowplanner"
	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/internal/statestore"
	"github.com/flowcraft/orchestrator/telemetry"
)

// eventsTopic mirrors cmd/server's constant of the same name: the topic the
// Completion Bridge subscribes to, distinct from flowplanner's internal
// "workflow.stream" progress feed.
const eventsTopic = "workflow.events"

// TestBridge_ChildToParentCorrelation runs a real flowplanner.Run child
// workflow to its planning-completed checkpoint on an in-memory engine,
// publishing its completion envelope through the real activities.Handlers
// PublishEvent implementation and a real pubsub.PubSub, with the Completion
// Bridge subscribed exactly the way cmd/server wires it
// (bridge.Subscribe(ctx, ps, "workflow.events", group)). This exercises the
// full child-to-parent path end to end, not bridge.Handle called directly
// with a hand-built envelope, so a topic mismatch between the publisher and
// the bridge's subscription regresses this test instead of passing silently.
func TestBridge_ChildToParentCorrelation(t *testing.T) {
	ctx := context.Background()
	eng := inmem.New()
	ps := pubsub.NewInMemory()
	store := statestore.NewInMemory()
	log := telemetry.NewNoopLogger()

	// The bridge names the external event "{prefix}_{workflowId}" using the
	// CHILD's workflow ID (internal/bridge/bridge.go's externalEventName),
	// not the parent's: planner_planning_completed maps to prefix
	// "planner_planning", and the child here runs as "child-1".
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: waiterWorkflow, Handler: func(wfCtx engine.WorkflowContext, _ any) (any, error) {
			sig := wfCtx.SignalChannel("planner_planning_child-1")
			var payload map[string]any
			if err := sig.Receive(wfCtx.Context(), &payload); err != nil {
				return nil, err
			}
			return waiterResult{EventName: "planner_planning_child-1", Payload: payload}, nil
		},
	}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: flowplanner.WorkflowName, Handler: flowplanner.Run,
	}))

	handlers := activities.NewHandlers(config.DaprConfig{}, ps, store, nil, log)
	registerActivity := func(name string, fn func(context.Context, any) (any, error)) {
		require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: name, Handler: fn}))
	}
	registerActivity(activities.PublishEvent, handlers.PublishEvent)
	registerActivity(activities.PlannerPlanning, func(_ context.Context, input any) (any, error) {
		req := input.(activities.PlannerPlanningInput)
		return activities.PlannerPlanningOutput{
			Success: true,
			Tasks:   []activities.PlannerTask{{ID: "t1", Description: "design " + req.FeatureRequest}},
		}, nil
	})
	registerActivity(activities.PlannerPersistTasks, handlers.PersistPlannerTasks)
	registerActivity(activities.PlannerExecution, func(context.Context, any) (any, error) {
		return activities.PlannerExecutionOutput{Success: true, Result: map[string]any{"done": true}}, nil
	})

	b := bridge.New(eng, log)
	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	require.NoError(t, b.Subscribe(bridgeCtx, ps, eventsTopic, "completion-bridge"))

	parent, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{ID: "parent-1", Workflow: waiterWorkflow})
	require.NoError(t, err)

	_, err = eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       "child-1",
		Workflow: flowplanner.WorkflowName,
		Input: model.PlannerInstance{
			InstanceID:        "child-1",
			FeatureRequest:    "add logging",
			ParentExecutionID: "parent-1",
		},
	})
	require.NoError(t, err)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	var res waiterResult
	require.NoError(t, parent.Wait(waitCtx, &res))

	require.Equal(t, "planner_planning_child-1", res.EventName)
	require.Equal(t, "child-1", res.Payload["workflow_id"])
	require.Equal(t, true, res.Payload["success"])
}
