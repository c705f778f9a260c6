package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/orchardhq/orchard/engine"
	"github.com/orchardhq/orchard/telemetry"
)

// temporalWorkflowContext adapts a Temporal workflow.Context into
// engine.WorkflowContext. Anything it exposes that touches the outside
// world (time, activity results, signals) is routed through Temporal's
// deterministic, replay-safe primitives.
type temporalWorkflowContext struct {
	eng        *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
}

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &temporalWorkflowContext{
		eng:        e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     e.logger,
		metrics:    e.metrics,
		tracer:     e.tracer,
	}
	e.workflowContexts.Store(wfCtx.runID, wfCtx)
	return wfCtx
}

func (w *temporalWorkflowContext) Context() context.Context {
	return context.Background()
}

func (w *temporalWorkflowContext) WorkflowID() string { return w.workflowID }
func (w *temporalWorkflowContext) RunID() string      { return w.runID }

func (w *temporalWorkflowContext) Logger() telemetry.Logger   { return w.logger }
func (w *temporalWorkflowContext) Metrics() telemetry.Metrics { return w.metrics }
func (w *temporalWorkflowContext) Tracer() telemetry.Tracer   { return w.tracer }

// Now returns Temporal's replay-safe workflow clock rather than the
// system clock, so re-execution during replay reproduces the same value.
func (w *temporalWorkflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *temporalWorkflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(context.Background(), req)
	if err != nil {
		return err
	}
	return fut.Get(context.Background(), result)
}

func (w *temporalWorkflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{future: fut, ctx: actx}, nil
}

func (w *temporalWorkflowContext) SignalChannel(name string) engine.SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (w *temporalWorkflowContext) activityOptionsFor(req engine.ActivityRequest) workflow.ActivityOptions {
	defaults := w.eng.activityDefaultsFor(req.Name)

	queue := req.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.eng.defaultQueue
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

// temporalFuture adapts workflow.Future onto engine.Future.
type temporalFuture struct {
	future workflow.Future
	ctx    workflow.Context
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	return f.future.Get(f.ctx, result)
}

func (f *temporalFuture) IsReady() bool {
	return f.future.IsReady()
}

// temporalSignalChannel adapts workflow.ReceiveChannel onto
// engine.SignalChannel.
type temporalSignalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *temporalSignalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}

var (
	_ engine.WorkflowContext = (*temporalWorkflowContext)(nil)
	_ engine.Future          = (*temporalFuture)(nil)
	_ engine.SignalChannel   = (*temporalSignalChannel)(nil)
)
