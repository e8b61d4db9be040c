// Package bridge implements the Completion Bridge (spec §4.5): a stateless
// pub/sub subscriber that correlates a completion envelope published by a
// child run (planner or agent) back to the external-event queue of whatever
// parent instance is waiting on it.
package bridge

import (
	"context"
	"fmt"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/internal/pubsub"
	"github.com/flowcraft/orchestrator/telemetry"
)

// eventMapping is the exact, versioned mapping table from spec §4.5. It is
// a literal table, not a computed rule, because the source types and the
// target name prefixes are independently-evolving wire contracts shared
// with whatever publishes completion envelopes.
var eventMapping = map[string]string{
	"execution_completed":         "planner_execution",
	"planning_completed":          "planner_planning",
	"phase_completed":             "planner_phase",
	"planner_planning_completed":  "planner_planning",
	"planner_execution_completed": "planner_execution",
}

// Bridge subscribes to the topic it is given (cmd/server uses
// "workflow.events") and raises a
// correlated external event on the parent instance named by each
// completion envelope it recognizes. It holds no state of its own.
type Bridge struct {
	Engine engine.Engine
	Log    telemetry.Logger
}

// New constructs a Bridge.
func New(eng engine.Engine, log telemetry.Logger) *Bridge {
	return &Bridge{Engine: eng, Log: log}
}

// Subscribe registers the bridge's handler against topic under the given
// consumer group. It returns once the handler is registered; delivery
// continues until ctx is done (per pubsub.Subscriber).
func (b *Bridge) Subscribe(ctx context.Context, ps pubsub.Subscriber, topic, group string) error {
	return ps.Subscribe(ctx, topic, group, b.Handle)
}

// Handle implements pubsub.Handler. It ignores envelopes whose type is
// outside eventMapping or that carry no parent_execution_id, per spec
// §4.5's "ignore other types and envelopes without parent routing".
func (b *Bridge) Handle(ctx context.Context, env pubsub.Envelope) error {
	targetPrefix, recognized := eventMapping[env.Type]
	if !recognized {
		return nil
	}

	parentExecutionID, _ := env.Data["parent_execution_id"].(string)
	if parentExecutionID == "" {
		return nil
	}
	workflowID, _ := env.Data["workflow_id"].(string)
	if workflowID == "" {
		workflowID = env.Source
	}

	externalEventName := fmt.Sprintf("%s_%s", targetPrefix, workflowID)
	payload := map[string]any{
		"workflow_id": workflowID,
		"phase":       env.Data["phase"],
		"success":     env.Data["success"],
		"tasks":       env.Data["tasks"],
		"task_count":  env.Data["task_count"],
		"result":      env.Data["result"],
		"error":       env.Data["error"],
		"timestamp":   env.Time,
	}

	if err := b.Engine.RaiseEvent(ctx, parentExecutionID, externalEventName, payload); err != nil {
		b.Log.Warn(ctx, "completion bridge raise event failed",
			"parent_execution_id", parentExecutionID,
			"event_name", externalEventName,
			"error", err.Error())
		return fmt.Errorf("raise event %s on %s: %w", externalEventName, parentExecutionID, err)
	}
	return nil
}
