// Package temporal adapts engine.Engine onto go.temporal.io/sdk so
// production deployments get replay-safe durability across process and
// worker restarts. engine/inmem backs local development and tests with the
// same interface; turn logic is written once and never imports this
// package directly.
package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/orchardhq/orchard/engine"
	"github.com/orchardhq/orchard/telemetry"
)

// Options configures the Temporal engine adapter. Either Client or
// ClientOptions must be provided.
type Options struct {
	// Client is a pre-configured Temporal client. If nil, the adapter
	// creates a lazy client from ClientOptions.
	Client client.Client
	// ClientOptions describes how to construct the Temporal client when
	// Client is nil. Required in that case.
	ClientOptions *client.Options

	// TaskQueue is the default queue used when a workflow or activity
	// definition omits one. Required.
	TaskQueue string
	// WorkerOptions is forwarded to worker.New for every queue the engine
	// creates a worker for.
	WorkerOptions worker.Options
	// DisableWorkerAutoStart disables starting workers on first workflow
	// execution; call Worker().Start() manually instead.
	DisableWorkerAutoStart bool

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine implements engine.Engine on top of Temporal. It manages one
// worker per distinct task queue and tracks run status locally so
// QueryRunStatus does not need a round trip to the Temporal service.
type Engine struct {
	client      client.Client
	closeClient bool

	defaultQueue      string
	workerOpts        worker.Options
	autoStartDisabled bool

	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu              sync.Mutex
	workers         map[string]*workerBundle
	workersStarted  bool
	workflows       map[string]engine.WorkflowDefinition
	activityOptions map[string]engine.ActivityOptions
	statuses        map[string]engine.RunStatus

	workflowContexts sync.Map // runID -> *temporalWorkflowContext
}

// New constructs a Temporal engine adapter.
func New(opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, errors.New("temporal engine: a default task queue is required")
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
	closeClient := false
	if cli == nil {
		if opts.ClientOptions == nil {
			return nil, errors.New("temporal engine: client options are required when Client is nil")
		}
		var err error
		cli, err = client.NewLazyClient(*opts.ClientOptions)
		if err != nil {
			return nil, fmt.Errorf("temporal engine: create client: %w", err)
		}
		closeClient = true
	}

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      opts.TaskQueue,
		workerOpts:        opts.WorkerOptions,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            logger,
		metrics:           metrics,
		tracer:            tracer,
		workers:           make(map[string]*workerBundle),
		workflows:         make(map[string]engine.WorkflowDefinition),
		activityOptions:   make(map[string]engine.ActivityOptions),
		statuses:          make(map[string]engine.RunStatus),
	}, nil
}

// RegisterWorkflow registers def with the worker for its task queue
// (falling back to the engine's default), wrapping the handler so every
// invocation runs against a temporalWorkflowContext.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("temporal engine: invalid workflow definition")
	}
	bundle, err := e.workerForQueue(def.TaskQueue)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, dup := e.workflows[def.Name]; dup {
		e.mu.Unlock()
		return fmt.Errorf("temporal engine: workflow %q already registered", def.Name)
	}
	e.workflows[def.Name] = def
	e.mu.Unlock()

	bundle.registerWorkflow(def.Name, e.workflowAdapter(def.Handler))
	return nil
}

// RegisterActivity registers def with the worker for its task queue.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" || def.Handler == nil {
		return errors.New("temporal engine: invalid activity definition")
	}
	bundle, err := e.workerForQueue(def.Options.Queue)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.activityOptions[def.Name] = def.Options
	e.mu.Unlock()

	bundle.registerActivity(def.Name, def.Handler)
	return nil
}

// workflowAdapter wraps a deterministic engine.WorkflowFunc into the
// function shape Temporal's worker expects, binding it to a fresh
// temporalWorkflowContext per execution.
func (e *Engine) workflowAdapter(handler engine.WorkflowFunc) func(workflow.Context, any) (any, error) {
	return func(tctx workflow.Context, input any) (any, error) {
		wfCtx := newTemporalWorkflowContext(e, tctx)
		defer e.workflowContexts.Delete(wfCtx.runID)
		return handler(wfCtx, input)
	}
}

// StartWorkflow launches a new execution and begins tracking its status
// locally so QueryRunStatus resolves without contacting Temporal.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	if req.Workflow == "" {
		return nil, errors.New("temporal engine: workflow name is required")
	}
	def, err := e.workflowDefinition(req.Workflow)
	if err != nil {
		return nil, err
	}

	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

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

	run, err := e.client.ExecuteWorkflow(ctx, opts, def.Name, req.Input)
	if err != nil {
		return nil, err
	}

	e.setStatus(req.ID, engine.RunStatusRunning)
	go e.trackCompletion(req.ID, run)

	return &workflowHandle{run: run, client: e.client}, nil
}

func (e *Engine) trackCompletion(runID string, run client.WorkflowRun) {
	var ignored any
	err := run.Get(context.Background(), &ignored)
	switch {
	case errors.Is(err, context.Canceled):
		e.setStatus(runID, engine.RunStatusCanceled)
	case err != nil:
		e.setStatus(runID, engine.RunStatusFailed)
	default:
		e.setStatus(runID, engine.RunStatusCompleted)
	}
}

func (e *Engine) setStatus(runID string, status engine.RunStatus) {
	e.mu.Lock()
	e.statuses[runID] = status
	e.mu.Unlock()
}

// QueryRunStatus returns the last locally observed status for runID.
func (e *Engine) QueryRunStatus(_ context.Context, runID string) (engine.RunStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.statuses[runID]
	if !ok {
		return "", engine.ErrWorkflowNotFound
	}
	return status, nil
}

// Worker returns a controller for starting/stopping every worker the
// engine manages.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the Temporal client if this engine created it.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) workerForQueue(queue string) (*workerBundle, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	if queue == "" {
		return nil, errors.New("temporal engine: no task queue configured")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if bundle, ok := e.workers[queue]; ok {
		return bundle, nil
	}
	bundle := &workerBundle{
		queue:  queue,
		worker: worker.New(e.client, queue, e.workerOpts),
		logger: e.logger,
	}
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

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
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

// WorkerController manages start/stop of every worker the engine owns.
type WorkerController struct {
	engine *Engine
}

// Start launches every registered worker.
func (c *WorkerController) Start() {
	c.engine.ensureWorkersStarted()
}

// Stop gracefully stops every worker.
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

func (b *workerBundle) registerWorkflow(name string, fn func(workflow.Context, any) (any, error)) {
	b.worker.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})
}

func (b *workerBundle) registerActivity(name string, fn engine.ActivityFunc) {
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

func convertRetryPolicy(r engine.RetryPolicy) *sdktemporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}
	policy := &sdktemporal.RetryPolicy{}
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

var _ engine.Engine = (*Engine)(nil)
