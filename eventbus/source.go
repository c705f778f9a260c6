package eventbus

import (
	"context"
	"errors"

	"github.com/orchardhq/orchard/ident"
)

// SourceState is an event source's lifecycle state.
type SourceState string

const (
	StateIdle     SourceState = "idle"
	StateStarting SourceState = "starting"
	StateRunning  SourceState = "running"
	StatePaused   SourceState = "paused"
	StateStopped  SourceState = "stopped"
	StateError    SourceState = "error"
)

// SourceKind enumerates the source-type values integrators choose from.
type SourceKind string

const (
	KindSchedule     SourceKind = "schedule"
	KindFileWatch    SourceKind = "file-watch"
	KindCalendar     SourceKind = "calendar"
	KindNotification SourceKind = "notification"
	KindAgentToAgent SourceKind = "agent-to-agent"
	KindHealthMetric SourceKind = "health-metric"
	KindMessaging    SourceKind = "messaging"
	KindWebhook      SourceKind = "webhook"
	KindRSS          SourceKind = "rss"
	KindAPIPoll      SourceKind = "api-poll"
	KindCustom       SourceKind = "custom"
)

// StartError classifies a Source.Start failure.
type StartError string

const (
	StartAccessDenied        StartError = "access-denied"
	StartMissingDependency    StartError = "missing-dependency"
	StartTransientUnavailable StartError = "transient-unavailable"
)

// Error is a typed Source failure carrying a StartError classification.
type Error struct {
	Kind    StartError
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// ErrUnknownSource is returned by bus operations referencing an
// unregistered source id.
var ErrUnknownSource = errors.New("eventbus: unknown source")

// Source is the contract integrators implement to produce a lazy,
// single-consumer stream of TriggerEvents.
type Source interface {
	ID() ident.SourceID
	Name() string
	Kind() SourceKind
	SupportedTypes() []EventType
	State() SourceState

	// Start is idempotent: calling Start on a Running source is a no-op
	// success; calling it on an Error source transitions to Starting.
	Start(ctx context.Context) error

	// Stop drains the source gracefully and transitions it to Stopped.
	Stop(ctx context.Context) error

	// Events returns the source's outbound event channel. The channel is
	// single-consumer (the bus) and closed when the source stops.
	Events() <-chan TriggerEvent
}
