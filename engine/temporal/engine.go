package temporal

import (
	"context"
	"fmt"
	"sync"

	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/telemetry"
)

const controlSignalName = "__engine_control__"
const customStatusQuery = "__custom_status__"

// Options configures the Temporal engine adapter.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, ClientOptions
	// builds one lazily.
	Client client.Client
	// ClientOptions describes how to construct the Temporal client when
	// Client is nil.
	ClientOptions *client.Options
	// WorkerOptions configures the default task queue and worker settings.
	WorkerOptions WorkerOptions
	// DisableTracing skips installing the OTEL tracing interceptor.
	DisableTracing bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// WorkerOptions configures the shared worker settings applied to all task
// queues the engine manages.
type WorkerOptions struct {
	TaskQueue string
	Options   worker.Options
}

// Engine implements engine.Engine using Temporal as the durable execution
// backend. One worker is created per unique task queue, lazily, on first
// registration; workers start on first StartWorkflow call.
type Engine struct {
	client    client.Client
	namespace string

	defaultQueue string
	workerOpts   worker.Options

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu              sync.Mutex
	workers         map[string]*workerBundle
	workersStarted  bool
	workflows       map[string]engine.WorkflowDefinition
	activityOptions map[string]engine.ActivityOptions
	suspended       map[string]bool
}

// New constructs a Temporal engine adapter.
func New(opts Options) (*Engine, error) {
	if opts.WorkerOptions.TaskQueue == "" {
		return nil, fmt.Errorf("temporal engine: worker options must include a default task queue")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}

	cli := opts.Client
	namespace := "default"
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal engine: client options are required when Client is nil")
		}
		clientOpts := *opts.ClientOptions
		if clientOpts.Namespace != "" {
			namespace = clientOpts.Namespace
		}
		if !opts.DisableTracing {
			if interceptorTracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{}); err == nil {
				clientOpts.Interceptors = append(clientOpts.Interceptors, interceptorTracer)
			}
		}
		var err error
		cli, err = client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
	} else if opts.ClientOptions != nil && opts.ClientOptions.Namespace != "" {
		namespace = opts.ClientOptions.Namespace
	}

	return &Engine{
		client:          cli,
		namespace:       namespace,
		defaultQueue:    opts.WorkerOptions.TaskQueue,
		workerOpts:      opts.WorkerOptions.Options,
		logger:          logger,
		metrics:         metrics,
		tracer:          tracer,
		workers:         make(map[string]*workerBundle),
		workflows:       make(map[string]engine.WorkflowDefinition),
		activityOptions: make(map[string]engine.ActivityOptions),
		suspended:       make(map[string]bool),
	}, nil
}

// RegisterWorkflow registers a workflow definition with the worker for its
// task queue (or the engine default). The handler is wrapped to adapt a
// Temporal workflow.Context into engine.WorkflowContext and to install the
// custom-status query handler and control-signal coroutine described in the
// package doc.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: workflow name cannot be empty")
	}
	queue := def.TaskQueue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}

	bundle.registerWorkflow(def.Name, func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newTemporalWorkflowContext(e, tctx)
		return def.Handler(wfCtx, input)
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.Name]; exists {
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity registers an activity handler with the worker for its
// task queue (or the engine default).
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("temporal engine: activity name cannot be empty")
	}
	queue := def.Options.Queue
	if queue == "" {
		queue = e.defaultQueue
	}
	bundle, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	bundle.registerActivity(def.Name, func(actx context.Context, input any) (any, error) {
		return def.Handler(actx, input)
	})

	e.mu.Lock()
	e.activityOptions[def.Name] = def.Options
	e.mu.Unlock()
	return nil
}

// StartWorkflow starts a workflow execution and ensures workers are running.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("temporal engine: workflow name is required")
	}
	def, err := e.workflowDefinition(req.Workflow)
	if err != nil {
		return nil, err
	}
	e.ensureWorkersStarted()

	queue := req.TaskQueue
	if queue == "" {
		queue = def.TaskQueue
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if rp := convertRetryPolicy(req.RetryPolicy); rp != nil {
		opts.RetryPolicy = rp
	}
	if len(req.Memo) > 0 {
		opts.Memo = req.Memo
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, err
	}
	return &workflowHandle{run: run, client: e.client}, nil
}

// RaiseEvent delivers a named external event via Temporal's signal
// mechanism.
func (e *Engine) RaiseEvent(ctx context.Context, workflowID, eventName string, data any) error {
	return e.client.SignalWorkflow(ctx, workflowID, "", eventName, data)
}

// GetWorkflowState describes the execution and queries its last
// SetCustomStatus value.
func (e *Engine) GetWorkflowState(ctx context.Context, workflowID string) (engine.WorkflowState, error) {
	desc, err := e.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return engine.WorkflowState{}, err
	}
	info := desc.GetWorkflowExecutionInfo()
	state := engine.WorkflowState{
		WorkflowID:    workflowID,
		RuntimeStatus: mapRuntimeStatus(info.GetStatus()),
	}
	if info.GetExecution() != nil {
		state.RunID = info.GetExecution().GetRunId()
	}

	e.mu.Lock()
	suspended := e.suspended[workflowID]
	e.mu.Unlock()
	if suspended && state.RuntimeStatus == engine.StatusRunning {
		state.RuntimeStatus = engine.StatusSuspended
	}

	if encoded, err := e.client.QueryWorkflow(ctx, workflowID, "", customStatusQuery); err == nil {
		var status any
		if err := encoded.Get(&status); err == nil {
			state.CustomStatus = status
		}
	}

	switch state.RuntimeStatus {
	case engine.StatusCompleted:
		run := e.client.GetWorkflow(ctx, workflowID, "")
		var result any
		if err := run.Get(ctx, &result); err == nil {
			state.Result = result
		}
	case engine.StatusFailed:
		run := e.client.GetWorkflow(ctx, workflowID, "")
		var result any
		if err := run.Get(ctx, &result); err != nil {
			state.Error = err.Error()
		}
	}
	return state, nil
}

// Terminate forcibly ends a workflow execution.
func (e *Engine) Terminate(ctx context.Context, workflowID, reason string) error {
	return e.client.TerminateWorkflow(ctx, workflowID, "", reason)
}

// Suspend marks workflowID suspended and signals its control coroutine.
// Temporal has no native pause primitive (SDK v1.42); see the package doc
// for the control-signal-coroutine idiom this relies on.
func (e *Engine) Suspend(ctx context.Context, workflowID, reason string) error {
	e.mu.Lock()
	e.suspended[workflowID] = true
	e.mu.Unlock()
	return e.client.SignalWorkflow(ctx, workflowID, "", controlSignalName, controlSignal{Action: "suspend", Reason: reason})
}

// Resume clears the suspended flag and signals the control coroutine.
func (e *Engine) Resume(ctx context.Context, workflowID, reason string) error {
	e.mu.Lock()
	delete(e.suspended, workflowID)
	e.mu.Unlock()
	return e.client.SignalWorkflow(ctx, workflowID, "", controlSignalName, controlSignal{Action: "resume", Reason: reason})
}

// Purge deletes all durable records of a terminal workflow execution.
func (e *Engine) Purge(ctx context.Context, workflowID string) error {
	_, err := e.client.WorkflowService().DeleteWorkflowExecution(ctx, &workflowservice.DeleteWorkflowExecutionRequest{
		Namespace: e.namespace,
		WorkflowExecution: &commonpb.WorkflowExecution{
			WorkflowId: workflowID,
		},
	})
	return err
}

// Worker returns a controller for starting/stopping all managed workers.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the Temporal client.
func (e *Engine) Close() {
	if e.client != nil {
		e.client.Close()
	}
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	if queue == "" {
		return nil, fmt.Errorf("temporal engine: no task queue configured")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if bundle, ok := e.workers[queue]; ok {
		return bundle, nil
	}
	w := worker.New(e.client, queue, e.workerOpts)
	bundle := &workerBundle{queue: queue, worker: w, logger: e.logger}
	e.workers[queue] = bundle
	if e.workersStarted {
		bundle.start()
	}
	return bundle, nil
}

func (e *Engine) workflowDefinition(name string) (engine.WorkflowDefinition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.workflows[name]
	if !ok {
		return engine.WorkflowDefinition{}, fmt.Errorf("temporal engine: workflow %q is not registered", name)
	}
	return def, nil
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	if e.workersStarted {
		e.mu.Unlock()
		return
	}
	e.workersStarted = true
	bundles := make([]*workerBundle, 0, len(e.workers))
	for _, b := range e.workers {
		bundles = append(bundles, b)
	}
	e.mu.Unlock()
	for _, b := range bundles {
		b.start()
	}
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}

func mapRuntimeStatus(s enumspb.WorkflowExecutionStatus) engine.RuntimeStatus {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return engine.StatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return engine.StatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED, enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return engine.StatusFailed
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED, enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return engine.StatusTerminated
	default:
		return engine.StatusUnknown
	}
}

// convertRetryPolicy maps the engine's backend-neutral retry policy onto
// Temporal's, grounded on the teacher's adapter of the same name.
func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	policy := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}

// WorkerController manages the lifecycle of all workers an Engine manages.
type WorkerController struct {
	engine *Engine
}

// Start launches all registered workers.
func (c *WorkerController) Start() error {
	c.engine.ensureWorkersStarted()
	return nil
}

// Stop gracefully stops all workers.
func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	bundles := make([]*workerBundle, 0, len(c.engine.workers))
	for _, b := range c.engine.workers {
		bundles = append(bundles, b)
	}
	c.engine.mu.Unlock()
	for _, b := range bundles {
		b.stop()
	}
}

type workerBundle struct {
	queue     string
	worker    worker.Worker
	logger    telemetry.Logger
	startOnce sync.Once
}

func (b *workerBundle) start() {
	b.startOnce.Do(func() {
		go func() {
			if err := b.worker.Run(worker.InterruptCh()); err != nil {
				b.logger.Error(context.Background(), "temporal worker exited", "queue", b.queue, "error", err.Error())
			}
		}()
	})
}

func (b *workerBundle) stop() {
	b.worker.Stop()
}

func (b *workerBundle) registerWorkflow(name string, fn any) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn any) {
	b.worker.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

type workflowHandle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *workflowHandle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *workflowHandle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}

func (h *workflowHandle) WorkflowID() string { return h.run.GetID() }
func (h *workflowHandle) RunID() string      { return h.run.GetRunID() }

// controlSignal is the payload delivered to controlSignalName.
type controlSignal struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}
