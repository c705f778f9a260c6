// Package notification implements a push-only Source: integrators call
// Push whenever an external system (a webhook receiver, an RSS poller, an
// API poll loop, a messaging bridge) has a new event ready, and the source
// forwards it unchanged. One Source instance backs any of the
// notification/messaging/webhook/rss/api-poll/custom kinds; Kind is set at
// construction to match the integration it fronts.
package notification

import (
	"context"
	"sync"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

// Source is a push-only event source: it has no internal polling loop of
// its own and relies entirely on Push calls from the integration it fronts.
type Source struct {
	id           ident.SourceID
	name         string
	kind         eventbus.SourceKind
	supported    []eventbus.EventType

	mu     sync.Mutex
	state  eventbus.SourceState
	events chan eventbus.TriggerEvent
}

// New constructs a push-only Source of the given kind.
func New(id ident.SourceID, name string, kind eventbus.SourceKind, supported []eventbus.EventType) *Source {
	return &Source{
		id:        id,
		name:      name,
		kind:      kind,
		supported: supported,
		state:     eventbus.StateIdle,
		events:    make(chan eventbus.TriggerEvent, 64),
	}
}

func (s *Source) ID() ident.SourceID                   { return s.id }
func (s *Source) Name() string                         { return s.name }
func (s *Source) Kind() eventbus.SourceKind            { return s.kind }
func (s *Source) SupportedTypes() []eventbus.EventType { return s.supported }
func (s *Source) Events() <-chan eventbus.TriggerEvent { return s.events }

func (s *Source) State() eventbus.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start marks the source running; there is nothing to connect to since
// delivery is driven entirely by Push.
func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = eventbus.StateRunning
	return nil
}

// Push delivers event to the bus. It is a no-op (the event is dropped) once
// the source has stopped.
func (s *Source) Push(event eventbus.TriggerEvent) {
	s.mu.Lock()
	running := s.state == eventbus.StateRunning
	s.mu.Unlock()
	if !running {
		return
	}
	s.events <- event
}

func (s *Source) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == eventbus.StateStopped {
		return nil
	}
	s.state = eventbus.StateStopped
	close(s.events)
	return nil
}
