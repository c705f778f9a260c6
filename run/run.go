// Package run defines the execution-scoped metadata passed through a
// single turn-engine invocation: which agent, which session/turn it
// belongs to, and — for nested agent-as-tool executions — which parent
// run and tool call spawned it.
package run

import (
	"encoding/json"

	"github.com/orchardhq/orchard/ident"
)

type (
	// Context carries execution metadata for one run of the agent loop.
	// It threads through the engine.Engine workflow invocation and the
	// turn.Runner it drives.
	Context struct {
		// RunID identifies this durable workflow execution.
		RunID ident.RunID

		// ParentToolCallID identifies the parent tool call when this run
		// is a nested agent-as-tool execution. Empty for top-level runs.
		ParentToolCallID ident.ToolCallID
		// ParentRunID identifies the run that scheduled this nested
		// execution. Empty for top-level runs.
		ParentRunID ident.RunID
		// ParentAgentID identifies the agent that invoked this nested
		// execution.
		ParentAgentID ident.AgentID

		// SessionID associates related runs into a conversation thread.
		SessionID ident.SessionID
		// TurnID groups the events this run produces for timeline
		// display. Multiple runs share a TurnID across pause/resume.
		TurnID ident.TurnID

		// Tool is the fully-qualified tool name when this run is a
		// nested agent-as-tool execution. Empty for top-level runs.
		Tool string
		// ToolArgs carries the original JSON arguments for that tool
		// call. Nil for top-level runs.
		ToolArgs json.RawMessage

		// Attempt counts how many times this run has been attempted or
		// resumed after interruption.
		Attempt int

		// Labels carries caller-provided metadata (tenant, priority).
		Labels map[string]string
	}

	// Handle links parent and child runs without exposing engine
	// details, for use in nested agent-as-tool wiring.
	Handle struct {
		RunID            ident.RunID
		AgentID          ident.AgentID
		ParentRunID      ident.RunID
		ParentToolCallID ident.ToolCallID
	}

	// Phase is a finer-grained lifecycle phase than session.RunStatus,
	// intended for streaming/UI surfaces rather than durable storage.
	Phase string
)

const (
	PhasePrompted       Phase = "prompted"
	PhasePlanning       Phase = "planning"
	PhaseExecutingTools Phase = "executing-tools"
	PhaseSynthesizing   Phase = "synthesizing"
	PhaseCompleted      Phase = "completed"
	PhaseFailed         Phase = "failed"
	PhaseCanceled       Phase = "canceled"
)
