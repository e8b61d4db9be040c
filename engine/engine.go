// Package engine defines the durable workflow engine abstraction used by the
// interpreter and planner workflow. It provides a pluggable interface so the
// same workflow bodies can run against Temporal or an in-memory adapter
// without modification.
package engine

import (
	"context"
	"time"

	"github.com/flowcraft/orchestrator/telemetry"
)

type (
	// Engine abstracts workflow registration, execution, and administration so
	// adapters (Temporal, in-memory) can be swapped without touching the
	// interpreter or the planner workflow.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		// Must be called during initialization before StartWorkflow or worker
		// start.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition with the engine.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow initiates a new workflow execution and returns a handle
		// for interacting with it.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)

		// RaiseEvent delivers a named external event to a running or suspended
		// workflow instance. It is the engine-level counterpart of
		// WorkflowContext.SignalChannel: events raised before the
		// instance suspends on that name are queued and delivered on the next
		// matching wait.
		RaiseEvent(ctx context.Context, workflowID, eventName string, data any) error

		// GetWorkflowState returns the current runtime status and, when
		// terminal, the recorded result of a workflow instance.
		GetWorkflowState(ctx context.Context, workflowID string) (WorkflowState, error)

		// Terminate forcibly ends a workflow instance. In-flight activities
		// complete but their results are discarded.
		Terminate(ctx context.Context, workflowID, reason string) error

		// Suspend pauses dispatch of a running workflow instance. External
		// events received while suspended are queued for delivery on Resume.
		Suspend(ctx context.Context, workflowID, reason string) error

		// Resume continues a previously suspended workflow instance.
		Resume(ctx context.Context, workflowID, reason string) error

		// Purge removes all durable records of a terminal workflow instance.
		Purge(ctx context.Context, workflowID string) error
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default task queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a workflow entry point. It must be deterministic: given
	// the same inputs and activity/timer/signal results, it must produce the
	// same sequence of engine calls on every replay.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow body.
	// Implementations must guarantee deterministic replay: every method here
	// is replay-safe by construction. Workflow bodies must never call
	// time.Now, rand, or read the process environment directly — use Now()
	// and push any such need into an activity.
	WorkflowContext interface {
		// Context returns a Go context carrying workflow identity, suitable
		// for passing to ExecuteActivity.
		Context() context.Context

		WorkflowID() string
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error

		// ExecuteActivityAsync schedules an activity without blocking.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// CreateTimer starts a durable timer that fires after d. The
		// returned Future resolves (with a nil result) when the timer
		// fires; it never returns an error except on workflow cancellation.
		CreateTimer(ctx context.Context, d time.Duration) Future

		// SignalChannel returns the channel used to receive a named external
		// event. This is the waitForExternalEvent primitive: workflow code
		// calls Receive on the returned channel to suspend until the event
		// arrives (or use WhenAny to race it against a timer).
		SignalChannel(name string) SignalChannel

		// WhenAny suspends until the first of the given awaitables resolves,
		// returning its index. Awaitables are Future or SignalChannel values.
		// The losing legs are left pending; the engine abandons them when the
		// workflow advances past the point where they could still be
		// observed.
		WhenAny(ctx context.Context, awaitables ...Awaitable) (int, error)

		// StartChildWorkflow starts a child workflow instance from within a
		// running workflow body.
		StartChildWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)

		// SetCustomStatus records an engine-visible status document queryable
		// by GetWorkflowState while the workflow runs.
		SetCustomStatus(ctx context.Context, status any) error

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current workflow time in a replay-safe manner.
		Now() time.Time
	}

	// Awaitable is implemented by Future and SignalChannel so both can be
	// passed to WhenAny.
	Awaitable interface {
		isAwaitable()
	}

	// AwaitableBase must be embedded by any Future or SignalChannel
	// implementation defined outside this package. Go only treats an
	// unexported method as satisfying an interface requiring it when the
	// method is declared in the interface's own package; embedding this
	// type promotes that declaration into the embedder's method set.
	AwaitableBase struct{}

	// Future represents a pending activity or timer result.
	Future interface {
		Awaitable
		// Get blocks until the activity/timer completes and decodes the
		// result into dest. Calling Get multiple times returns the same
		// result/error every time.
		Get(ctx context.Context, dest any) error
		// IsReady reports whether Get will return immediately.
		IsReady() bool
	}

	// SignalChannel receives values delivered to a named external event.
	SignalChannel interface {
		Awaitable
		// Receive blocks until a signal is delivered and decodes it into
		// dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts a non-blocking receive; ok is false if no
		// signal is currently queued.
		ReceiveAsync(dest any) (ok bool)
	}

	// ActivityDefinition registers an activity handler with optional
	// defaults.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs a side-effecting operation. Unlike workflow
	// bodies, activities may freely perform I/O, read the clock, and use
	// randomness.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry and timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest describes an activity invocation from a workflow body.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle allows callers to interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, decoding its return
		// value into result.
		Wait(ctx context.Context, result any) error
		// Signal sends an asynchronous external event to the workflow.
		Signal(ctx context.Context, name string, payload any) error
		// Cancel requests cooperative cancellation of the workflow.
		Cancel(ctx context.Context) error
		WorkflowID() string
		RunID() string
	}

	// WorkflowState is the result of GetWorkflowState.
	WorkflowState struct {
		WorkflowID   string
		RunID        string
		RuntimeStatus RuntimeStatus
		// CustomStatus is the last value passed to SetCustomStatus, or nil.
		CustomStatus any
		// Result is populated once RuntimeStatus is terminal and the
		// workflow returned successfully.
		Result any
		// Error is populated once RuntimeStatus is FAILED.
		Error string
	}

	// RuntimeStatus mirrors the coarse lifecycle states exposed by the
	// durable-task engine.
	RuntimeStatus string

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}
)

const (
	StatusPending   RuntimeStatus = "PENDING"
	StatusRunning   RuntimeStatus = "RUNNING"
	StatusSuspended RuntimeStatus = "SUSPENDED"
	StatusCompleted RuntimeStatus = "COMPLETED"
	StatusFailed    RuntimeStatus = "FAILED"
	StatusTerminated RuntimeStatus = "TERMINATED"
	StatusUnknown   RuntimeStatus = "UNKNOWN"
)

func (AwaitableBase) isAwaitable() {}
