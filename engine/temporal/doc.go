// Package temporal implements engine.Engine using Temporal
// (https://temporal.io) as the durable execution backend, so interp.Run and
// flowplanner.Run survive process restarts, replay deterministically, and
// resume exactly where they suspended.
//
// This adapter is grounded on the teacher's own Temporal engine
// (runtime/agent/engine/temporal), generalized from the teacher's
// agent-runtime-specific WorkflowContext surface (typed planner/tool/hook
// activity calls, agent-specific signal receivers) to this system's general
// engine.WorkflowContext (ExecuteActivity/CreateTimer/SignalChannel/WhenAny
// over untyped activity names and payloads), since the dynamic interpreter
// dispatches activities by a runtime string rather than a fixed set of
// typed calls.
//
// # Worker lifecycle
//
// One worker per task queue is created lazily on first RegisterWorkflow or
// RegisterActivity call and started on first StartWorkflow, mirroring the
// teacher's auto-start default; call Worker().Stop() during shutdown.
//
// # Custom status and suspend/resume
//
// SetCustomStatus has no native Temporal counterpart visible to API callers,
// so this adapter registers a query handler ("__custom_status__") per
// workflow execution that returns the last status passed to
// SetCustomStatus; GetWorkflowState issues that query. Suspend/Resume have
// no native Temporal primitive either (as of SDK v1.42); they are
// implemented as a background signal-draining coroutine
// (workflow.Go + workflow.Await), the same "long-running workflow with a
// control-signal coroutine" idiom Temporal's own documentation recommends
// for cooperative pause — every suspend-capable engine.WorkflowContext
// operation awaits on the coroutine's not-suspended condition before
// proceeding.
package temporal
