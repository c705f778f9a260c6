// Package a2a implements the built-in "agent-to-agent" event source kind:
// agents deliver messages to each other in-process by default, with an
// optional websocket transport for cross-process delivery.
package a2a

import (
	"context"
	"sync"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

// Source routes agent-to-agent messages addressed to RecipientAgentID onto
// its event channel. A Hub (below) owns one Source per registered
// recipient and dispatches Send calls to the matching Source.
type Source struct {
	id              ident.SourceID
	recipientAgentID ident.AgentID

	mu     sync.Mutex
	state  eventbus.SourceState
	events chan eventbus.TriggerEvent
}

func newSource(id ident.SourceID, recipient ident.AgentID) *Source {
	return &Source{id: id, recipientAgentID: recipient, state: eventbus.StateIdle, events: make(chan eventbus.TriggerEvent, 32)}
}

func (s *Source) ID() ident.SourceID                   { return s.id }
func (s *Source) Name() string                         { return "a2a:" + string(s.recipientAgentID) }
func (s *Source) Kind() eventbus.SourceKind            { return eventbus.KindAgentToAgent }
func (s *Source) SupportedTypes() []eventbus.EventType { return []eventbus.EventType{eventbus.TypeAgentMessage} }
func (s *Source) Events() <-chan eventbus.TriggerEvent { return s.events }

func (s *Source) State() eventbus.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = eventbus.StateRunning
	return nil
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

func (s *Source) deliver(event eventbus.TriggerEvent) {
	s.mu.Lock()
	running := s.state == eventbus.StateRunning
	s.mu.Unlock()
	if running {
		s.events <- event
	}
}

// Hub is an in-process registry of per-agent a2a Sources. Each recipient
// agent registers once; Send looks up the recipient's Source and delivers
// directly, with no network hop.
type Hub struct {
	mu      sync.Mutex
	sources map[ident.AgentID]*Source
}

// NewHub constructs an empty Hub.
func NewHub() *Hub { return &Hub{sources: make(map[ident.AgentID]*Source)} }

// SourceFor returns (creating if necessary) the Source that delivers
// messages addressed to recipient. Callers register the returned Source
// with the event bus.
func (h *Hub) SourceFor(recipient ident.AgentID) *Source {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sources[recipient]
	if !ok {
		s = newSource(ident.NewSourceID(), recipient)
		h.sources[recipient] = s
	}
	return s
}

// Send delivers a message from sender to recipient. If recipient has no
// registered Source the message is dropped (the recipient has never
// started an a2a source and cannot be woken by one).
func (h *Hub) Send(sender, recipient ident.AgentID, payload any, priority ident.EventPriority) {
	h.mu.Lock()
	s, ok := h.sources[recipient]
	h.mu.Unlock()
	if !ok {
		return
	}
	s.deliver(eventbus.TriggerEvent{
		ID:       ident.NewEventID(),
		SourceID: s.id,
		Type:     eventbus.TypeAgentMessage,
		Payload:  payload,
		Priority: priority,
		Metadata: map[string]string{"sender-agent-id": string(sender)},
	})
}
