// Package eventbus is the central router of trigger events from registered
// sources to subscribed agents: it owns every registered source's listener
// task, maintains a bounded history ring, and dispatches matching events to
// a wake callback.
package eventbus

import (
	"time"

	"github.com/orchardhq/orchard/ident"
)

// EventType names the kind of a TriggerEvent payload, a tagged variant per
// §3/§4.2.
type EventType string

const (
	TypeScheduled     EventType = "scheduled"
	TypeFileChange    EventType = "file-change"
	TypeCalendar      EventType = "calendar"
	TypeNotification  EventType = "notification"
	TypeAgentMessage  EventType = "agent-message"
	TypeHealthMetric  EventType = "health-metric"
	TypeCustom        EventType = "custom"
)

// TriggerEvent is an immutable record of a single event emitted by a
// source. Once emitted, a TriggerEvent is never mutated.
type TriggerEvent struct {
	ID        ident.EventID
	SourceID  ident.SourceID
	Type      EventType
	Payload   any
	Priority  ident.EventPriority
	Timestamp time.Time
	Metadata  map[string]string
}

// Filter is the conjunction of optional predicates used to match events to
// subscriptions. A nil/empty field means "no constraint on this dimension".
type Filter struct {
	Types              map[EventType]struct{}
	Sources            map[ident.SourceID]struct{}
	MinPriority        *ident.EventPriority
	RequiredMetadata   map[string]string
}

// Matches reports whether e satisfies f, per the conjunction named in §4.6:
//
//	(no type constraint ∨ e.type ∈ f.types) ∧
//	(no source constraint ∨ e.source-id ∈ f.sources) ∧
//	(no min-priority ∨ e.priority ≥ min-priority) ∧
//	(every required metadata key equals the required value)
func (f Filter) Matches(e TriggerEvent) bool {
	if len(f.Types) > 0 {
		if _, ok := f.Types[e.Type]; !ok {
			return false
		}
	}
	if len(f.Sources) > 0 {
		if _, ok := f.Sources[e.SourceID]; !ok {
			return false
		}
	}
	if f.MinPriority != nil && e.Priority < *f.MinPriority {
		return false
	}
	for k, v := range f.RequiredMetadata {
		if e.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Subscription binds an agent to a Filter at a given dispatch priority. An
// agent may hold multiple subscriptions.
type Subscription struct {
	AgentID  ident.AgentID
	Filter   Filter
	Priority ident.SubscriptionPriority
}
