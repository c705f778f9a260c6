// Package memory exposes a read-only contract for prior run history. The
// agent loop (turn.Runner) consults a Reader, when one is supplied, to pull
// planner annotations and prior tool outcomes into a turn's context; it
// never writes history itself. A durable, queryable store (with vector
// search or similar) lives outside this module — Reader only describes how
// callers consume one, not how one is implemented or persisted.
package memory

import (
	"context"
	"time"
)

// EventType enumerates persisted memory event categories.
type EventType string

const (
	EventUserMessage      EventType = "user_message"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventPlannerNote      EventType = "planner_note"
	EventAnnotation       EventType = "annotation"
)

// Event describes a single entry in a run's history.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
	Labels    map[string]string
}

// Reader provides read-only access to a run's prior history. Implementations
// typically wrap a durable store keyed by agent and run; this package never
// defines how that store persists or indexes events.
type Reader interface {
	// Events returns all events in chronological order.
	Events(ctx context.Context) ([]Event, error)

	// FilterByType returns events matching t, preserving chronological order.
	FilterByType(ctx context.Context, t EventType) ([]Event, error)

	// Latest returns the most recent event of type t. The boolean return
	// indicates whether an event was found.
	Latest(ctx context.Context, t EventType) (Event, bool, error)
}
