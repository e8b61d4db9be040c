package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/engine/inmem"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/config"
	"github.com/flowcraft/orchestrator/internal/flowplanner"
	"github.com/flowcraft/orchestrator/internal/httpapi"
	"github.com/flowcraft/orchestrator/internal/interp"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/internal/statestore"
	"github.com/flowcraft/orchestrator/telemetry"
)

// newTestServer registers both workflow bodies and every activity they call
// against an in-memory engine, then wires a Server the way cmd/server does,
// minus the Postgres audit log (nil is a supported configuration per spec §7
// kind 7 — audit failures are never fatal).
func newTestServer(t *testing.T) (*echo.Echo, engine.Engine, statestore.Store) {
	t.Helper()
	ctx := context.Background()
	eng := inmem.New()

	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: interp.WorkflowName, Handler: interp.Run}))
	require.NoError(t, eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: flowplanner.WorkflowName, Handler: flowplanner.Run}))

	store := statestore.NewInMemory()
	ps := pubsub.NewInMemory()
	realHandlers := activities.NewHandlers(config.DaprConfig{}, ps, store, nil, telemetry.NewNoopLogger())

	register := func(name string, fn func(context.Context, any) (any, error)) {
		require.NoError(t, eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: name, Handler: fn}))
	}
	register(activities.ExecuteAction, func(_ context.Context, input any) (any, error) {
		in, _ := input.(activities.ExecuteActionInput)
		return activities.ExecuteActionOutput{Success: true, Data: in.Input["text"]}, nil
	})
	register(activities.LogAudit, func(context.Context, any) (any, error) { return nil, nil })
	register(activities.PublishPhaseChanged, func(context.Context, any) (any, error) { return nil, nil })
	register(activities.PersistState, func(context.Context, any) (any, error) { return nil, nil })
	register(activities.PersistResultsToDB, func(context.Context, any) (any, error) { return nil, nil })
	register(activities.PublishEvent, func(context.Context, any) (any, error) {
		return activities.PublishEventOutput{}, nil
	})
	register(activities.PlannerPlanning, func(_ context.Context, input any) (any, error) {
		req := input.(activities.PlannerPlanningInput)
		return activities.PlannerPlanningOutput{
			Success: true,
			Tasks:   []activities.PlannerTask{{ID: "t1", Description: "design " + req.FeatureRequest}},
		}, nil
	})
	register(activities.PlannerPersistTasks, realHandlers.PersistPlannerTasks)
	register(activities.PlannerExecution, func(context.Context, any) (any, error) {
		return activities.PlannerExecutionOutput{Success: true, Result: map[string]any{"done": true}}, nil
	})

	srv := httpapi.New(eng, store, ps, nil, telemetry.NewNoopLogger())

	e := echo.New()
	srv.Register(e)
	return e, eng, store
}

func doJSON(e *echo.Echo, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// TestDynamic_StartAndStatus drives the "Hello" scenario (spec §8) through
// the HTTP surface instead of calling interp.Run directly.
func TestDynamic_StartAndStatus(t *testing.T) {
	e, _, _ := newTestServer(t)

	startBody := map[string]any{
		"definition": map[string]any{
			"id":   "hello",
			"name": "hello",
			"nodes": []map[string]any{
				{"id": "T", "type": "trigger"},
				{"id": "A", "type": "action", "label": "Echo", "config": map[string]any{
					"actionType": "echo",
					"text":       "{{T.name}}",
				}},
			},
			"edges":          []map[string]any{{"source": "T", "target": "A"}},
			"executionOrder": []string{"T", "A"},
		},
		"triggerData": map[string]any{"name": "world"},
	}

	rec := doJSON(e, http.MethodPost, "/api/v2/workflows", startBody)
	require.Equal(t, http.StatusCreated, rec.Code)

	var startResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))
	instanceID, _ := startResp["instanceId"].(string)
	require.NotEmpty(t, instanceID)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/api/v2/workflows/"+instanceID+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status["runtimeStatus"] == "COMPLETED"
	}, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(e, http.MethodGet, "/api/v2/workflows/"+instanceID+"/status", nil)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	outputs, ok := status["outputs"].(map[string]any)
	require.True(t, ok)
	nodeA, ok := outputs["A"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "world", nodeA["data"])
}

// TestPlanner_StartApproveTasks drives the planner happy path (spec §8
// scenario 6, minus the parent-correlation envelope) through the planner
// HTTP surface, including the singular /api/workflow alias.
func TestPlanner_StartApproveTasks(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doJSON(e, http.MethodPost, "/api/workflows", map[string]any{"feature_request": "add logging"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var startResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &startResp))
	instanceID, _ := startResp["instanceId"].(string)
	require.NotEmpty(t, instanceID)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/api/workflow/"+instanceID+"/status", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var status map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status["phase"] == "awaiting_approval"
	}, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(e, http.MethodPost, "/api/workflows/"+instanceID+"/approve", map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		rec := doJSON(e, http.MethodGet, "/api/workflows/"+instanceID+"/status", nil)
		var status map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status["runtimeStatus"] == "COMPLETED"
	}, 2*time.Second, 10*time.Millisecond)

	rec = doJSON(e, http.MethodGet, "/api/workflows/"+instanceID+"/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tasksResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasksResp))
	tasks, ok := tasksResp["tasks"].([]any)
	require.True(t, ok)
	require.Len(t, tasks, 1)

	rec = doJSON(e, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.GreaterOrEqual(t, int(listResp["count"].(float64)), 1)
}
