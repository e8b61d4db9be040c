// Package inmem provides an in-memory implementation of engine.Engine for
// local development and tests. It is not replay-safe or crash-recoverable
// and must never be used in production; workflow bodies still observe the
// same WorkflowContext contract as the Temporal adapter, which is what makes
// it useful as a fast unit-test harness for interpreter and planner logic.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/flowcraft/orchestrator/engine"
	"github.com/flowcraft/orchestrator/telemetry"
)

type (
	eng struct {
		mu         sync.RWMutex
		workflows  map[string]engine.WorkflowDefinition
		activities map[string]activityReg
		instances  map[string]*instance
	}

	instance struct {
		mu           sync.Mutex
		handle       *handle
		wfCtx        *wfCtx
		status       engine.RuntimeStatus
		customStatus any
		suspended    bool
		queued       map[string][]any
	}

	handle struct {
		id     string
		runID  string
		done   chan struct{}
		err    error
		result any
		eng    *eng
	}

	wfCtx struct {
		ctx     context.Context
		id      string
		runID   string
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
		eng     *eng

		sigMu sync.Mutex
		sigs  map[string]*signalChan
	}

	future struct {
		engine.AwaitableBase
		mu     sync.Mutex
		ready  chan struct{}
		result any
		err    error
	}

	signalChan struct {
		engine.AwaitableBase
		ch chan any
	}

	activityReg struct {
		handler engine.ActivityFunc
		opts    engine.ActivityOptions
	}
)

// New returns a new in-memory Engine.
func New() engine.Engine {
	return &eng{instances: make(map[string]*instance)}
}

func (e *eng) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workflows == nil {
		e.workflows = make(map[string]engine.WorkflowDefinition)
	}
	if def.Name == "" || def.Handler == nil {
		return errors.New("invalid workflow definition")
	}
	if _, dup := e.workflows[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	return nil
}

func (e *eng) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activities == nil {
		e.activities = make(map[string]activityReg)
	}
	if def.Name == "" || def.Handler == nil {
		return errors.New("invalid activity definition")
	}
	if _, dup := e.activities[def.Name]; dup {
		return fmt.Errorf("activity %q already registered", def.Name)
	}
	e.activities[def.Name] = activityReg{handler: def.Handler, opts: def.Options}
	return nil
}

func (e *eng) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.RLock()
	def, ok := e.workflows[req.Workflow]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, errors.New("workflow id is required")
	}

	wc := &wfCtx{
		ctx:     ctx,
		id:      req.ID,
		runID:   req.ID,
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
		tracer:  telemetry.NewNoopTracer(),
		eng:     e,
		sigs:    make(map[string]*signalChan),
	}
	h := &handle{id: req.ID, runID: req.ID, done: make(chan struct{}), eng: e}
	inst := &instance{handle: h, wfCtx: wc, status: engine.StatusRunning, queued: make(map[string][]any)}

	e.mu.Lock()
	e.instances[req.ID] = inst
	e.mu.Unlock()

	go func() {
		defer close(h.done)
		res, err := def.Handler(wc, req.Input)
		inst.mu.Lock()
		h.result, h.err = res, err
		if err != nil {
			if errors.Is(err, context.Canceled) {
				inst.status = engine.StatusTerminated
			} else {
				inst.status = engine.StatusFailed
			}
		} else {
			inst.status = engine.StatusCompleted
		}
		inst.mu.Unlock()
	}()

	return h, nil
}

func (e *eng) RaiseEvent(_ context.Context, workflowID, eventName string, data any) error {
	e.mu.RLock()
	inst, ok := e.instances[workflowID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %q not found", workflowID)
	}
	inst.mu.Lock()
	suspended := inst.suspended
	inst.mu.Unlock()
	if suspended {
		inst.mu.Lock()
		inst.queued[eventName] = append(inst.queued[eventName], data)
		inst.mu.Unlock()
		return nil
	}
	ch := inst.wfCtx.SignalChannel(eventName).(*signalChan)
	select {
	case ch.ch <- data:
	default:
		go func() { ch.ch <- data }()
	}
	return nil
}

func (e *eng) GetWorkflowState(_ context.Context, workflowID string) (engine.WorkflowState, error) {
	e.mu.RLock()
	inst, ok := e.instances[workflowID]
	e.mu.RUnlock()
	if !ok {
		return engine.WorkflowState{}, fmt.Errorf("workflow %q not found", workflowID)
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()
	st := engine.WorkflowState{
		WorkflowID:    workflowID,
		RunID:         inst.handle.runID,
		RuntimeStatus: inst.status,
		CustomStatus:  inst.customStatus,
	}
	if inst.status == engine.StatusCompleted {
		st.Result = inst.handle.result
	}
	if inst.status == engine.StatusFailed && inst.handle.err != nil {
		st.Error = inst.handle.err.Error()
	}
	return st, nil
}

func (e *eng) Terminate(_ context.Context, workflowID, _ string) error {
	e.mu.RLock()
	inst, ok := e.instances[workflowID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %q not found", workflowID)
	}
	inst.mu.Lock()
	inst.status = engine.StatusTerminated
	inst.mu.Unlock()
	return nil
}

func (e *eng) Suspend(_ context.Context, workflowID, _ string) error {
	e.mu.RLock()
	inst, ok := e.instances[workflowID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %q not found", workflowID)
	}
	inst.mu.Lock()
	inst.suspended = true
	inst.status = engine.StatusSuspended
	inst.mu.Unlock()
	return nil
}

func (e *eng) Resume(_ context.Context, workflowID, _ string) error {
	e.mu.RLock()
	inst, ok := e.instances[workflowID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %q not found", workflowID)
	}
	inst.mu.Lock()
	inst.suspended = false
	inst.status = engine.StatusRunning
	queued := inst.queued
	inst.queued = make(map[string][]any)
	inst.mu.Unlock()

	for name, vals := range queued {
		ch := inst.wfCtx.SignalChannel(name).(*signalChan)
		for _, v := range vals {
			ch.ch <- v
		}
	}
	return nil
}

func (e *eng) Purge(_ context.Context, workflowID string) error {
	e.mu.Lock()
	delete(e.instances, workflowID)
	e.mu.Unlock()
	return nil
}

func (w *wfCtx) Context() context.Context   { return w.ctx }
func (w *wfCtx) WorkflowID() string         { return w.id }
func (w *wfCtx) RunID() string              { return w.runID }
func (w *wfCtx) Logger() telemetry.Logger   { return w.logger }
func (w *wfCtx) Metrics() telemetry.Metrics { return w.metrics }
func (w *wfCtx) Tracer() telemetry.Tracer   { return w.tracer }

// Now returns wall-clock time. The in-memory engine makes no replay
// guarantee, so this is acceptable here even though engine.WorkflowContext
// documents Now as replay-safe for production adapters.
func (w *wfCtx) Now() time.Time { return time.Now() }

func (w *wfCtx) SetCustomStatus(_ context.Context, status any) error {
	w.eng.mu.RLock()
	inst, ok := w.eng.instances[w.id]
	w.eng.mu.RUnlock()
	if !ok {
		return fmt.Errorf("workflow %q not found", w.id)
	}
	inst.mu.Lock()
	inst.customStatus = status
	inst.mu.Unlock()
	return nil
}

func (w *wfCtx) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *wfCtx) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	w.eng.mu.RLock()
	def, ok := w.eng.activities[req.Name]
	w.eng.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", req.Name)
	}
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		res, err := def.handler(ctx, req.Input)
		f.mu.Lock()
		f.result, f.err = res, err
		f.mu.Unlock()
	}()
	return f, nil
}

func (w *wfCtx) CreateTimer(ctx context.Context, d time.Duration) engine.Future {
	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			f.mu.Lock()
			f.err = ctx.Err()
			f.mu.Unlock()
		}
	}()
	return f
}

func (w *wfCtx) SignalChannel(name string) engine.SignalChannel {
	w.sigMu.Lock()
	defer w.sigMu.Unlock()
	ch, ok := w.sigs[name]
	if !ok {
		ch = &signalChan{ch: make(chan any, 8)}
		w.sigs[name] = ch
	}
	return ch
}

func (w *wfCtx) WhenAny(ctx context.Context, awaitables ...engine.Awaitable) (int, error) {
	if len(awaitables) == 0 {
		return -1, errors.New("whenAny requires at least one awaitable")
	}
	type result struct {
		idx int
		err error
	}
	resCh := make(chan result, len(awaitables))
	for i, a := range awaitables {
		i, a := i, a
		go func() {
			var err error
			switch v := a.(type) {
			case *future:
				err = v.Get(ctx, nil)
			case *signalChan:
				// Peek-then-restore: a channel receive is the only way to
				// observe readiness, but the node handler still needs to
				// consume the real payload afterward via Receive, so the
				// value is pushed back onto the buffered channel rather
				// than discarded.
				select {
				case val := <-v.ch:
					v.ch <- val
				case <-ctx.Done():
					err = ctx.Err()
				}
			default:
				err = fmt.Errorf("unsupported awaitable type %T", a)
			}
			resCh <- result{idx: i, err: err}
		}()
	}
	r := <-resCh
	return r.idx, r.err
}

func (w *wfCtx) StartChildWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	return w.eng.StartWorkflow(ctx, req)
}

func (h *handle) WorkflowID() string { return h.id }
func (h *handle) RunID() string      { return h.runID }

func (h *handle) Wait(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		assignResult(result, h.result)
		return h.err
	}
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	return h.eng.RaiseEvent(ctx, h.id, name, payload)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.eng.Terminate(ctx, h.id, "canceled")
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.ready:
		f.mu.Lock()
		defer f.mu.Unlock()
		assignResult(result, f.result)
		return f.err
	}
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

func (s *signalChan) Receive(ctx context.Context, dest any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case v := <-s.ch:
		assignResult(dest, v)
		return nil
	}
}

func (s *signalChan) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		assignResult(dest, v)
		return true
	default:
		return false
	}
}

// assignResult copies src into the value pointed to by dst when the types
// are compatible. Both nil dst and nil src are no-ops, matching the teacher's
// in-memory engine adapter.
func assignResult(dst any, src any) {
	if dst == nil || src == nil {
		return
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return
	}
	sv := reflect.ValueOf(src)
	if sv.IsValid() && sv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(sv)
		return
	}
	if dv.Elem().Kind() == reflect.Interface && sv.Type().Implements(dv.Elem().Type()) {
		dv.Elem().Set(sv)
	}
}
