// Package httpapi exposes the two HTTP surfaces described in spec §6: the
// dynamic orchestrator (/api/v2/workflows/...) that starts and inspects
// interp.Run instances, and the planner orchestrator (/api/workflows/...,
// with singular /api/workflow/... aliases) that starts and approves
// flowplanner.Run instances. Routing follows the teacher's
// cmd/orchestrator/routes + handlers split: one small handler struct per
// surface, wired onto an *echo.Echo by a Register function.
package httpapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/audit"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/internal/statestore"
	"github.com/flowcraft/orchestrator/telemetry"
)

// Server holds the dependencies both HTTP surfaces share: the engine used to
// start/inspect/signal workflow instances, the state store for task and
// event-feed reads, the pub/sub publisher for ad hoc client notifications,
// the audit log, and a logger.
type Server struct {
	Engine engine.Engine
	Store  statestore.Store
	PubSub pubsub.Publisher
	Audit  *audit.DB
	Log    telemetry.Logger

	dynamic *dynamicHandler
	planner *plannerHandler
}

// New constructs a Server. Audit may be nil when no Postgres connection is
// configured; handlers treat that as "don't audit", matching spec §7 kind 7
// (audit failures are never fatal).
func New(eng engine.Engine, store statestore.Store, ps pubsub.Publisher, auditDB *audit.DB, log telemetry.Logger) *Server {
	s := &Server{Engine: eng, Store: store, PubSub: ps, Audit: auditDB, Log: log}
	s.dynamic = &dynamicHandler{s: s}
	s.planner = &plannerHandler{s: s}
	return s
}

// Register wires both HTTP surfaces and a health check onto e.
func (s *Server) Register(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok", "service": "orchestrator"})
	})

	v2 := e.Group("/api/v2/workflows")
	v2.POST("", s.dynamic.Start)
	v2.GET("/:id/status", s.dynamic.Status)
	v2.POST("/:id/events", s.dynamic.RaiseEvent)
	v2.POST("/:id/terminate", s.dynamic.Terminate)
	v2.POST("/:id/pause", s.dynamic.Pause)
	v2.POST("/:id/resume", s.dynamic.Resume)
	v2.DELETE("/:id", s.dynamic.Purge)

	for _, prefix := range []string{"/api/workflows", "/api/workflow"} {
		g := e.Group(prefix)
		g.POST("", s.planner.Start)
		g.GET("", s.planner.List)
		g.POST("/:id/approve", s.planner.Approve)
		g.GET("/:id/status", s.planner.Status)
		g.GET("/:id/tasks", s.planner.Tasks)
	}
}
