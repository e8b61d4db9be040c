package flowplanner_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/engine/inmem"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/flowplanner"
	"github.com/flowcraft/orchestrator/internal/model"
)

func newTestEngine(t *testing.T, execOutput activities.PlannerExecutionOutput) engine.Engine {
	t.Helper()
	eng := inmem.New()
	require.NoError(t, eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:    flowplanner.WorkflowName,
		Handler: flowplanner.Run,
	}))

	register := func(name string, fn func(ctx context.Context, input any) (any, error)) {
		require.NoError(t, eng.RegisterActivity(context.Background(), engine.ActivityDefinition{Name: name, Handler: fn}))
	}

	register(activities.PlannerPlanning, func(_ context.Context, input any) (any, error) {
		req := input.(activities.PlannerPlanningInput)
		return activities.PlannerPlanningOutput{
			Success: true,
			Tasks: []activities.PlannerTask{
				{ID: "t1", Description: "design " + req.FeatureRequest},
				{ID: "t2", Description: "implement " + req.FeatureRequest},
			},
		}, nil
	})
	register(activities.PlannerPersistTasks, func(_ context.Context, _ any) (any, error) {
		return activities.PlannerPersistOutput{Success: true}, nil
	})
	register(activities.PlannerExecution, func(_ context.Context, _ any) (any, error) {
		return execOutput, nil
	})
	register(activities.PublishEvent, func(_ context.Context, _ any) (any, error) {
		return activities.PublishEventOutput{}, nil
	})
	return eng
}

func waitPlannerResult(t *testing.T, h engine.WorkflowHandle, timeout time.Duration) model.PlannerResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var res model.PlannerResult
	require.NoError(t, h.Wait(ctx, &res))
	return res
}

// TestRun_HappyPath drives the fixed plan -> persist -> approve -> execute
// sequence (spec §4.4) to a successful terminal result.
func TestRun_HappyPath(t *testing.T) {
	eng := newTestEngine(t, activities.PlannerExecutionOutput{
		Success: true,
		Result:  map[string]any{"deployed": true},
	})

	inst := model.PlannerInstance{InstanceID: "inst-1", FeatureRequest: "add dark mode"}
	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "inst-1", Workflow: flowplanner.WorkflowName, Input: inst,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.RaiseEvent(context.Background(), "inst-1", "plan_approval_inst-1", map[string]any{"approved": true}) == nil
	}, time.Second, 10*time.Millisecond)

	res := waitPlannerResult(t, h, 2*time.Second)
	require.True(t, res.Success)
	require.Equal(t, model.PhaseCompleted, res.Phase)
	require.Equal(t, 2, res.TaskCount)
	require.Len(t, res.Tasks, 2)
}

// TestRun_Rejected covers the "approved: false" branch of step 4: the
// workflow must terminate failed with the rejection reason, without ever
// calling the execution activity.
func TestRun_Rejected(t *testing.T) {
	eng := newTestEngine(t, activities.PlannerExecutionOutput{Success: true})

	inst := model.PlannerInstance{InstanceID: "inst-2", FeatureRequest: "add widget"}
	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "inst-2", Workflow: flowplanner.WorkflowName, Input: inst,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.RaiseEvent(context.Background(), "inst-2", "plan_approval_inst-2",
			map[string]any{"approved": false, "reason": "too risky"}) == nil
	}, time.Second, 10*time.Millisecond)

	res := waitPlannerResult(t, h, 2*time.Second)
	require.False(t, res.Success)
	require.Equal(t, model.PhaseFailed, res.Phase)
	require.Equal(t, "Plan rejected: too risky", res.Error)
}

// TestRun_ParentCorrelation verifies that with a ParentExecutionID set, the
// completion events carry both the correlating parent id and this
// workflow's own id, the two fields internal/bridge needs to route an
// external event back to the parent (spec §4.5).
func TestRun_ParentCorrelation(t *testing.T) {
	var published []activities.PublishEventInput
	eng := inmem.New()
	require.NoError(t, eng.RegisterWorkflow(context.Background(), engine.WorkflowDefinition{
		Name:    flowplanner.WorkflowName,
		Handler: flowplanner.Run,
	}))
	register := func(name string, fn func(ctx context.Context, input any) (any, error)) {
		require.NoError(t, eng.RegisterActivity(context.Background(), engine.ActivityDefinition{Name: name, Handler: fn}))
	}
	register(activities.PlannerPlanning, func(_ context.Context, _ any) (any, error) {
		return activities.PlannerPlanningOutput{Success: true, Tasks: []activities.PlannerTask{{ID: "t1", Description: "x"}}}, nil
	})
	register(activities.PlannerPersistTasks, func(_ context.Context, _ any) (any, error) {
		return activities.PlannerPersistOutput{Success: true}, nil
	})
	register(activities.PlannerExecution, func(_ context.Context, _ any) (any, error) {
		return activities.PlannerExecutionOutput{Success: true, Result: map[string]any{"ok": true}}, nil
	})
	register(activities.PublishEvent, func(_ context.Context, input any) (any, error) {
		published = append(published, input.(activities.PublishEventInput))
		return activities.PublishEventOutput{}, nil
	})

	inst := model.PlannerInstance{InstanceID: "inst-3", FeatureRequest: "x", ParentExecutionID: "parent-3"}
	h, err := eng.StartWorkflow(context.Background(), engine.WorkflowStartRequest{
		ID: "inst-3", Workflow: flowplanner.WorkflowName, Input: inst,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.RaiseEvent(context.Background(), "inst-3", "plan_approval_inst-3", map[string]any{"approved": true}) == nil
	}, time.Second, 10*time.Millisecond)

	waitPlannerResult(t, h, 2*time.Second)

	var execCompleted *activities.PublishEventInput
	for i := range published {
		if published[i].Type == "planner_execution_completed" {
			execCompleted = &published[i]
		}
	}
	require.NotNil(t, execCompleted)
	require.Equal(t, "parent-3", execCompleted.Data["parent_execution_id"])
	require.Equal(t, "inst-3", execCompleted.Data["workflow_id"])
}
