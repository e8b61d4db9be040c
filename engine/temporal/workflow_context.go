package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/telemetry"
)

type (
	temporalWorkflowContext struct {
		engine     *Engine
		ctx        workflow.Context
		workflowID string
		runID      string
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer

		suspended bool
		lastStatus any
	}

	temporalFuture struct {
		engine.AwaitableBase
		future workflow.Future
		ctx    workflow.Context
	}

	temporalSignalChannel struct {
		engine.AwaitableBase
		ch  workflow.ReceiveChannel
		ctx workflow.Context
	}

	temporalChildHandle struct {
		ctx       workflow.Context
		future    workflow.ChildWorkflowFuture
		execution workflow.Execution
	}
)

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	w := &temporalWorkflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     e.logger,
		metrics:    e.metrics,
		tracer:     e.tracer,
	}
	// Registered unconditionally (not lazily on first SetCustomStatus call)
	// so GetWorkflowState can query it from the very first workflow task,
	// and so the query type is registered at a deterministic point on every
	// replay.
	_ = workflow.SetQueryHandler(ctx, customStatusQuery, func() (any, error) {
		return w.lastStatus, nil
	})
	w.startControlCoroutine(ctx)
	return w
}

// startControlCoroutine drains controlSignalName in the background and
// flips w.suspended, implementing the cooperative Suspend/Resume mechanism
// described in the package doc: Temporal has no native pause primitive, so
// every suspend-capable operation below gates on workflow.Await(ctx, func()
// bool { return !w.suspended }) before proceeding.
func (w *temporalWorkflowContext) startControlCoroutine(ctx workflow.Context) {
	workflow.Go(ctx, func(gctx workflow.Context) {
		ch := workflow.GetSignalChannel(gctx, controlSignalName)
		for {
			var sig controlSignal
			ch.Receive(gctx, &sig)
			switch sig.Action {
			case "suspend":
				w.suspended = true
			case "resume":
				w.suspended = false
			}
		}
	})
}

func (w *temporalWorkflowContext) awaitNotSuspended() error {
	return workflow.Await(w.ctx, func() bool { return !w.suspended })
}

func (w *temporalWorkflowContext) Context() context.Context {
	return context.Background()
}

func (w *temporalWorkflowContext) WorkflowID() string { return w.workflowID }
func (w *temporalWorkflowContext) RunID() string       { return w.runID }

func (w *temporalWorkflowContext) Logger() telemetry.Logger   { return w.logger }
func (w *temporalWorkflowContext) Metrics() telemetry.Metrics { return w.metrics }
func (w *temporalWorkflowContext) Tracer() telemetry.Tracer   { return w.tracer }

func (w *temporalWorkflowContext) Now() time.Time { return workflow.Now(w.ctx) }

func (w *temporalWorkflowContext) SetCustomStatus(_ context.Context, status any) error {
	w.lastStatus = status
	return nil
}

func (w *temporalWorkflowContext) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *temporalWorkflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	if err := w.awaitNotSuspended(); err != nil {
		return nil, err
	}
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{future: fut, ctx: actx}, nil
}

func (w *temporalWorkflowContext) activityOptionsFor(req engine.ActivityRequest) workflow.ActivityOptions {
	defaults := w.engine.activityDefaultsFor(req.Name)

	queue := req.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.engine.defaultQueue
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	if timeout == 0 {
		timeout = time.Minute
	}

	retry := req.RetryPolicy
	if retry.MaxAttempts == 0 && retry.InitialInterval == 0 && retry.BackoffCoefficient == 0 {
		retry = defaults.RetryPolicy
	}

	return workflow.ActivityOptions{
		ScheduleToStartTimeout: timeout,
		StartToCloseTimeout:    timeout,
		TaskQueue:              queue,
		RetryPolicy:            convertRetryPolicy(retry),
	}
}

func (w *temporalWorkflowContext) CreateTimer(_ context.Context, d time.Duration) engine.Future {
	fut := workflow.NewTimer(w.ctx, d)
	return &temporalFuture{future: fut, ctx: w.ctx}
}

func (w *temporalWorkflowContext) SignalChannel(name string) engine.SignalChannel {
	ch := workflow.GetSignalChannel(w.ctx, name)
	return &temporalSignalChannel{ch: ch, ctx: w.ctx}
}

func (w *temporalWorkflowContext) WhenAny(_ context.Context, awaitables ...engine.Awaitable) (int, error) {
	if len(awaitables) == 0 {
		return 0, errors.New("temporal engine: WhenAny requires at least one awaitable")
	}
	if err := w.awaitNotSuspended(); err != nil {
		return 0, err
	}

	sel := workflow.NewSelector(w.ctx)
	resultIdx := -1
	for i, a := range awaitables {
		i := i
		switch v := a.(type) {
		case *temporalFuture:
			sel.AddFuture(v.future, func(workflow.Future) { resultIdx = i })
		case *temporalSignalChannel:
			// Deliberately does not drain the channel: the losing legs (and
			// the winner, if it's a signal) stay queued so a subsequent
			// Receive/ReceiveAsync on the same SignalChannel still observes
			// the value.
			sel.AddReceive(v.ch, func(workflow.ReceiveChannel, bool) { resultIdx = i })
		default:
			return 0, errors.New("temporal engine: unsupported awaitable type")
		}
	}
	sel.Select(w.ctx)
	return resultIdx, nil
}

func (w *temporalWorkflowContext) StartChildWorkflow(_ context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if err := w.awaitNotSuspended(); err != nil {
		return nil, err
	}
	queue := req.TaskQueue
	if queue == "" {
		queue = w.engine.defaultQueue
	}
	opts := workflow.ChildWorkflowOptions{
		WorkflowID: req.ID,
		TaskQueue:  queue,
	}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	cctx := workflow.WithChildOptions(w.ctx, opts)
	fut := workflow.ExecuteChildWorkflow(cctx, req.Workflow, req.Input)

	var exec workflow.Execution
	if err := fut.GetChildWorkflowExecution().Get(cctx, &exec); err != nil {
		return nil, normalizeTemporalError(err)
	}
	return &temporalChildHandle{ctx: cctx, future: fut, execution: exec}, nil
}

func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

func (f *temporalFuture) Get(_ context.Context, dest any) error {
	if err := f.future.Get(f.ctx, dest); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

func (f *temporalFuture) IsReady() bool { return f.future.IsReady() }

func (s *temporalSignalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

func (h *temporalChildHandle) Wait(_ context.Context, result any) error {
	if err := h.future.Get(h.ctx, result); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

func (h *temporalChildHandle) Signal(_ context.Context, name string, payload any) error {
	return workflow.SignalExternalWorkflow(h.ctx, h.execution.ID, h.execution.RunID, name, payload).Get(h.ctx, nil)
}

func (h *temporalChildHandle) Cancel(_ context.Context) error {
	return workflow.RequestCancelExternalWorkflow(h.ctx, h.execution.ID, h.execution.RunID).Get(h.ctx, nil)
}

func (h *temporalChildHandle) WorkflowID() string { return h.execution.ID }
func (h *temporalChildHandle) RunID() string      { return h.execution.RunID }
