// Package statestore provides the Dapr-style key/value state store used to
// persist workflow node outputs, loop counters, and recent-events lists
// across activity and actor boundaries. It is deliberately a thin KV
// abstraction (Get/Set/Delete plus a capped list append) rather than a
// relational schema, matching the Dapr state-store component model this
// system's dynamic interpreter was originally built against.
package statestore

import "context"

// Store is the KV contract activities use to persist and retrieve workflow
// state outside of the workflow body itself (replay-safety requires that
// the workflow body never hold this directly; only activities do).
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// AppendCapped pushes value onto the front of a capped list stored at
	// key, trimming to maxLen. Used for the "workflow-events-{id}" recent
	// activity feed.
	AppendCapped(ctx context.Context, key string, value []byte, maxLen int64) error

	// ListCapped returns up to limit most-recent entries previously pushed
	// via AppendCapped, newest first.
	ListCapped(ctx context.Context, key string, limit int64) ([][]byte, error)
}

// Key helpers centralise the naming scheme so activities and the HTTP API
// never hand-build key strings independently.
func OutputsKey(workflowID, executionID string) string {
	return "workflow:" + workflowID + ":" + executionID + ":outputs"
}

func TasksKey(instanceID string) string {
	return "tasks:" + instanceID
}

func EventsKey(workflowID string) string {
	return "workflow-events-" + workflowID
}

func IndexKey() string {
	return "workflow_index"
}
