package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/flowplanner"
	"github.com/flowcraft/orchestrator/internal/model"
	"github.com/flowcraft/orchestrator/internal/statestore"
)

// plannerHandler implements the planner-orchestrator surface: start and
// administer flowplanner.Run instances (spec §6).
type plannerHandler struct {
	s *Server
}

type startPlannerRequest struct {
	FeatureRequest    string `json:"feature_request"`
	ParentExecutionID string `json:"parent_execution_id,omitempty"`
}

// Start handles POST /api/workflows (and /api/workflow).
func (h *plannerHandler) Start(c echo.Context) error {
	ctx := c.Request().Context()
	var req startPlannerRequest
	if err := c.Bind(&req); err != nil || req.FeatureRequest == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "feature_request is required"})
	}

	instanceID := newInstanceID("planner")
	inst := model.PlannerInstance{
		InstanceID:        instanceID,
		FeatureRequest:    req.FeatureRequest,
		ParentExecutionID: req.ParentExecutionID,
	}

	if _, err := h.s.Engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: instanceID, Workflow: flowplanner.WorkflowName, Input: inst,
	}); err != nil {
		h.s.Log.Error(ctx, "start planner workflow failed", "instance_id", instanceID, "error", err.Error())
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to start planner workflow"})
	}

	if idx, err := json.Marshal(instanceID); err == nil {
		if err := h.s.Store.AppendCapped(ctx, statestore.IndexKey(), idx, 10000); err != nil {
			h.s.Log.Warn(ctx, "append workflow index failed", "instance_id", instanceID, "error", err.Error())
		}
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"instanceId": instanceID,
		"workflowId": instanceID,
		"status":     "started",
	})
}

// List handles GET /api/workflows (and /api/workflow).
func (h *plannerHandler) List(c echo.Context) error {
	ctx := c.Request().Context()
	entries, err := h.s.Store.ListCapped(ctx, statestore.IndexKey(), 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to list workflows"})
	}

	workflows := make([]map[string]any, 0, len(entries))
	for _, raw := range entries {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			continue
		}
		entry := map[string]any{"instanceId": id, "workflowId": id}
		if state, err := h.s.Engine.GetWorkflowState(ctx, id); err == nil {
			entry["runtimeStatus"] = string(state.RuntimeStatus)
			if status := asMap(unwrapDoubleEncoded(state.CustomStatus)); status != nil {
				entry["phase"] = status["phase"]
			} else if cs, ok := state.CustomStatus.(model.CustomStatus); ok {
				entry["phase"] = cs.Phase
			}
		}
		workflows = append(workflows, entry)
	}

	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows, "count": len(workflows)})
}

type approvePlannerRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Approve handles POST /api/workflows/{id}/approve.
func (h *plannerHandler) Approve(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	var req approvePlannerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}

	eventName := "plan_approval_" + id
	payload := map[string]any{"approved": req.Approved, "reason": req.Reason}
	if err := h.s.Engine.RaiseEvent(ctx, id, eventName, payload); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to raise approval event"})
	}
	return c.JSON(http.StatusOK, map[string]any{"approved": req.Approved})
}

// Status handles GET /api/workflows/{id}/status.
func (h *plannerHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	state, err := h.s.Engine.GetWorkflowState(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "workflow not found"})
	}

	resp := map[string]any{
		"instanceId":    id,
		"workflowId":    id,
		"runtimeStatus": string(state.RuntimeStatus),
	}
	if status := asMap(unwrapDoubleEncoded(state.CustomStatus)); status != nil {
		resp["phase"] = status["phase"]
		resp["progress"] = status["progress"]
		resp["message"] = status["message"]
	} else if cs, ok := state.CustomStatus.(model.CustomStatus); ok {
		resp["phase"] = cs.Phase
		resp["progress"] = cs.Progress
		resp["message"] = cs.Message
	}
	switch state.RuntimeStatus {
	case engine.StatusCompleted:
		if result, ok := state.Result.(model.PlannerResult); ok {
			resp["success"] = result.Success
			resp["tasks"] = result.Tasks
			resp["taskCount"] = result.TaskCount
			resp["phase"] = result.Phase
			if result.Error != "" {
				resp["error"] = result.Error
			}
		}
	case engine.StatusFailed, engine.StatusTerminated:
		resp["error"] = state.Error
	}
	return c.JSON(http.StatusOK, resp)
}

// Tasks handles GET /api/workflows/{id}/tasks, reading the planner's
// persisted task list back from the state store (written by
// internal/activities.Handlers.PersistPlannerTasks under "tasks:{id}").
func (h *plannerHandler) Tasks(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	raw, found, err := h.s.Store.Get(ctx, statestore.TasksKey(id))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to read tasks"})
	}
	if !found {
		return c.JSON(http.StatusNotFound, map[string]any{"error": "no tasks for this workflow"})
	}

	var tasks []model.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to decode tasks"})
	}
	return c.JSON(http.StatusOK, map[string]any{"instanceId": id, "tasks": tasks})
}
