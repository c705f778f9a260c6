// Package engine defines the durable-execution abstractions the Agent Loop
// runs on. Turn logic is written once against this interface; engine/inmem
// backs local development and tests, engine/temporal backs production
// deployments that need replay-safe durability across process restarts.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/orchardhq/orchard/telemetry"
)

// RunStatus is the lifecycle status of a workflow execution.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// ErrWorkflowNotFound is returned by QueryRunStatus for an unknown run id.
var ErrWorkflowNotFound = errors.New("engine: workflow not found")

type (
	// Engine abstracts workflow registration and execution so adapters
	// (in-memory, Temporal) can be swapped without touching turn logic.
	Engine interface {
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error
		RegisterActivity(ctx context.Context, def ActivityDefinition) error
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
		QueryRunStatus(ctx context.Context, runID string) (RunStatus, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is a durable entry point. It must be deterministic:
	// given the same inputs and activity results it must produce the same
	// execution sequence, since replay-based engines re-run it from the
	// top after every suspension point.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to workflow handlers.
	// Implementations must ensure deterministic replay: anything that
	// touches the outside world (time, randomness, activity results) must
	// flow through this interface rather than direct system calls.
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current workflow time through a replay-safe
		// source (e.g. Temporal's workflow.Now).
		Now() time.Time
	}

	// Future represents a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs a side-effecting task outside the
	// deterministic workflow boundary (provider calls, tool execution,
	// staging writes).
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
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

	// ActivityRequest contains the info needed to schedule an activity.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle allows callers to interact with a running workflow.
	WorkflowHandle interface {
		Wait(ctx context.Context, result any) error
		Signal(ctx context.Context, name string, payload any) error
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes signal delivery in an engine-agnostic way.
	SignalChannel interface {
		// Receive blocks until a signal value is delivered and decodes it
		// into dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts a non-blocking receive, returning false if
		// no value is available.
		ReceiveAsync(dest any) bool
	}
)
