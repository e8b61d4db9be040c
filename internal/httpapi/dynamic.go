package httpapi

import (
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/interp"
	"github.com/flowcraft/orchestrator/internal/model"
)

// dynamicHandler implements the dynamic-orchestrator surface: start and
// administer interp.Run instances (spec §6).
type dynamicHandler struct {
	s *Server
}

type startWorkflowRequest struct {
	Definition        model.GraphDefinition `json:"definition"`
	TriggerData       map[string]any        `json:"triggerData"`
	Integrations      map[string]any        `json:"integrations,omitempty"`
	DBExecutionID     string                 `json:"dbExecutionId,omitempty"`
	NodeConnectionMap map[string]any         `json:"nodeConnectionMap,omitempty"`
}

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlnum(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alnum[rand.IntN(len(alnum))]
	}
	return string(b)
}

// newInstanceID builds "{definitionId}-{epochMs}-{7 alnum}" per spec §6.
func newInstanceID(definitionID string) string {
	epochMs := time.Now().UnixMilli()
	return definitionID + "-" + itoa(epochMs) + "-" + randomAlnum(7)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Start handles POST /api/v2/workflows.
func (h *dynamicHandler) Start(c echo.Context) error {
	ctx := c.Request().Context()
	var req startWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
	}
	if len(req.Definition.Nodes) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "definition is required"})
	}

	instanceID := newInstanceID(req.Definition.ID)
	inst := model.Instance{
		InstanceID:        instanceID,
		Definition:        req.Definition,
		TriggerData:       req.TriggerData,
		Integrations:      req.Integrations,
		DBExecutionID:     req.DBExecutionID,
		NodeConnectionMap: req.NodeConnectionMap,
	}

	if h.s.Audit != nil {
		_ = h.s.Audit.CreateExecution(ctx, instanceID, instanceID, req.TriggerData)
	}

	if _, err := h.s.Engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: instanceID, Workflow: interp.WorkflowName, Input: inst,
	}); err != nil {
		h.s.Log.Error(ctx, "start workflow failed", "instance_id", instanceID, "error", err.Error())
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to start workflow"})
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"instanceId": instanceID,
		"workflowId": instanceID,
		"status":     "started",
	})
}

// Status handles GET /api/v2/workflows/{id}/status.
func (h *dynamicHandler) Status(c echo.Context) error {
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
		resp["currentNodeId"] = status["currentNodeId"]
		resp["currentNodeName"] = status["currentNodeName"]
	} else if cs, ok := state.CustomStatus.(model.CustomStatus); ok {
		resp["phase"] = cs.Phase
		resp["progress"] = cs.Progress
		resp["message"] = cs.Message
		resp["currentNodeId"] = cs.CurrentNodeID
		resp["currentNodeName"] = cs.CurrentNodeName
	}

	switch state.RuntimeStatus {
	case engine.StatusCompleted:
		if result, ok := state.Result.(model.RunResult); ok {
			resp["outputs"] = result.Outputs
			resp["phase"] = result.Phase
		}
	case engine.StatusFailed, engine.StatusTerminated:
		resp["error"] = state.Error
	}

	if h.s.Audit != nil {
		if startedAt, completedAt, err := h.s.Audit.GetExecutionTimes(ctx, id); err == nil {
			resp["startedAt"] = startedAt
			if !completedAt.IsZero() {
				resp["completedAt"] = completedAt
			}
		}
	}

	return c.JSON(http.StatusOK, resp)
}

type raiseEventRequest struct {
	EventName string `json:"eventName"`
	EventData any    `json:"eventData"`
}

// RaiseEvent handles POST /api/v2/workflows/{id}/events.
func (h *dynamicHandler) RaiseEvent(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	var req raiseEventRequest
	if err := c.Bind(&req); err != nil || req.EventName == "" {
		return c.JSON(http.StatusBadRequest, map[string]any{"error": "eventName is required"})
	}
	if err := h.s.Engine.RaiseEvent(ctx, id, req.EventName, req.EventData); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to raise event"})
	}
	return c.JSON(http.StatusOK, map[string]any{"raised": true})
}

// Terminate handles POST /api/v2/workflows/{id}/terminate.
func (h *dynamicHandler) Terminate(c echo.Context) error {
	return h.adminAction(c, func(ctx echo.Context, id, reason string) error {
		return h.s.Engine.Terminate(ctx.Request().Context(), id, reason)
	})
}

// Pause handles POST /api/v2/workflows/{id}/pause.
func (h *dynamicHandler) Pause(c echo.Context) error {
	return h.adminAction(c, func(ctx echo.Context, id, reason string) error {
		return h.s.Engine.Suspend(ctx.Request().Context(), id, reason)
	})
}

// Resume handles POST /api/v2/workflows/{id}/resume.
func (h *dynamicHandler) Resume(c echo.Context) error {
	return h.adminAction(c, func(ctx echo.Context, id, reason string) error {
		return h.s.Engine.Resume(ctx.Request().Context(), id, reason)
	})
}

// Purge handles DELETE /api/v2/workflows/{id}.
func (h *dynamicHandler) Purge(c echo.Context) error {
	id := c.Param("id")
	if err := h.s.Engine.Purge(c.Request().Context(), id); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": "failed to purge workflow"})
	}
	return c.JSON(http.StatusOK, map[string]any{"purged": true})
}

type adminActionRequest struct {
	Reason string `json:"reason"`
}

func (h *dynamicHandler) adminAction(c echo.Context, fn func(c echo.Context, id, reason string) error) error {
	id := c.Param("id")
	var req adminActionRequest
	_ = c.Bind(&req)
	if err := fn(c, id, req.Reason); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
