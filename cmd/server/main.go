// Command server wires the dynamic workflow interpreter and planner
// sub-workflow onto a durable engine (in-memory or Temporal, selected by
// config), registers their activities, starts the Completion Bridge
// subscription against the "workflow.events" topic, and serves both HTTP
// surfaces from spec §6 on one echo.Echo. Grounded on the teacher's
// cmd/<service>/main.go convention of a flat, linear wiring function with
// no framework-level DI container.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/flowcraft/orchestrator/engine"
	inmemengine "github.com/flowcraft/orchestrator/engine/inmem"
	temporalengine "github.com/flowcraft/orchestrator/engine/temporal"
	"github.com/flowcraft/orchestrator/internal/activities"
	"github.com/flowcraft/orchestrator/internal/audit"
	"github.com/flowcraft/orchestrator/internal/bridge"
	"github.com/flowcraft/orchestrator/internal/config"
	"github.com/flowcraft/orchestrator/internal/flowplanner"
	"github.com/flowcraft/orchestrator/internal/httpapi"
	"github.com/flowcraft/orchestrator/internal/interp"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/internal/statestore"
	"go.temporal.io/sdk/client"

	"github.com/flowcraft/orchestrator/telemetry"
)

// eventsTopic is the inter-orchestrator completion-envelope topic the
// Completion Bridge subscribes to (spec §6's "workflow.events").
const eventsTopic = "workflow.events"

// bridgeConsumerGroup is the Redis Streams consumer group the bridge reads
// under, so multiple server replicas share delivery rather than each
// replica re-processing every envelope.
const bridgeConsumerGroup = "completion-bridge"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := telemetry.NewClueLogger()

	ps, store := wireBackends(cfg, log)

	auditDB := wireAudit(ctx, cfg, log)
	if auditDB != nil {
		defer auditDB.Close()
	}

	eng, closeEngine, err := wireEngine(cfg, log)
	if err != nil {
		return err
	}
	defer closeEngine()

	handlers := activities.NewHandlers(cfg.Dapr, ps, store, auditDB, log)
	if err := handlers.Register(ctx, eng); err != nil {
		return fmt.Errorf("register activities: %w", err)
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      interp.WorkflowName,
		TaskQueue: cfg.Temporal.TaskQueue,
		Handler:   interp.Run,
	}); err != nil {
		return fmt.Errorf("register %s: %w", interp.WorkflowName, err)
	}
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name:      flowplanner.WorkflowName,
		TaskQueue: cfg.Temporal.TaskQueue,
		Handler:   flowplanner.Run,
	}); err != nil {
		return fmt.Errorf("register %s: %w", flowplanner.WorkflowName, err)
	}

	if tengine, ok := eng.(*temporalengine.Engine); ok {
		if err := tengine.Worker().Start(); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
		defer tengine.Worker().Stop()
	}

	br := bridge.New(eng, log)
	bridgeCtx, cancelBridge := context.WithCancel(ctx)
	defer cancelBridge()
	go func() {
		if err := br.Subscribe(bridgeCtx, ps, eventsTopic, bridgeConsumerGroup); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(bridgeCtx, "completion bridge subscription ended", "error", err.Error())
		}
	}()

	e := echo.New()
	e.HideBanner = true
	srv := httpapi.New(eng, store, ps, auditDB, log)
	srv.Register(e)

	addr := fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.Port)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "http server stopped", "error", err.Error())
		}
	}()
	log.Info(ctx, "orchestrator listening", "addr", addr, "temporal", cfg.Service.UseTemporal)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// wireBackends constructs the pub/sub transport and state store. Both are
// always Redis-backed, sharing one client built from cfg.Redis; the
// in-memory transports are used only by tests.
func wireBackends(cfg *config.Config, log telemetry.Logger) (pubsub.PubSub, statestore.Store) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ps := pubsub.NewRedisStreams(rdb, log)
	store := statestore.NewRedis(rdb)
	return ps, store
}

// wireAudit opens the Postgres-backed audit log. A connection failure is
// logged, not fatal: per spec §7 kind 7, audit is best-effort, and a server
// missing its audit DB can still run workflows (handlers just skip logging).
func wireAudit(ctx context.Context, cfg *config.Config, log telemetry.Logger) *audit.DB {
	db, err := audit.New(ctx, cfg.Database, log)
	if err != nil {
		log.Warn(ctx, "audit db unreachable, continuing without audit", "error", err.Error())
		return nil
	}
	return db
}

// wireEngine selects the Temporal-backed engine when cfg.Service.UseTemporal
// is set, otherwise the in-memory engine (suitable for local development,
// never for production durability).
func wireEngine(cfg *config.Config, log telemetry.Logger) (engine.Engine, func(), error) {
	if !cfg.Service.UseTemporal {
		return inmemengine.New(), func() {}, nil
	}

	clientOpts := client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	}
	eng, err := temporalengine.New(temporalengine.Options{
		ClientOptions: &clientOpts,
		WorkerOptions: temporalengine.WorkerOptions{TaskQueue: cfg.Temporal.TaskQueue},
		Logger:        log,
		Metrics:       telemetry.NewClueMetrics(),
		Tracer:        telemetry.NewClueTracer(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("construct temporal engine: %w", err)
	}
	return eng, eng.Close, nil
}
