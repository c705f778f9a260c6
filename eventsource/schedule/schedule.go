// Package schedule implements the built-in "schedule" event source kind: it
// fires a scheduled TriggerEvent for each configured cron expression.
package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

// Entry binds a cron expression to the event it produces when it fires.
type Entry struct {
	Expression string
	Priority   ident.EventPriority
	Metadata   map[string]string
}

// Source is a Source backed by a robfig/cron scheduler. Each configured
// Entry becomes one cron job; firing emits a TypeScheduled TriggerEvent on
// the source's channel.
type Source struct {
	id      ident.SourceID
	name    string
	entries []Entry

	mu     sync.Mutex
	state  eventbus.SourceState
	events chan eventbus.TriggerEvent
	sched  *cron.Cron
}

// New constructs a schedule Source from its cron entries. Start validates
// and schedules every entry; an invalid expression fails Start with
// StartAccessDenied (a configuration error the integrator must fix, not a
// transient condition worth retrying).
func New(id ident.SourceID, name string, entries []Entry) *Source {
	return &Source{
		id:      id,
		name:    name,
		entries: entries,
		state:   eventbus.StateIdle,
		events:  make(chan eventbus.TriggerEvent, 16),
	}
}

func (s *Source) ID() ident.SourceID                    { return s.id }
func (s *Source) Name() string                          { return s.name }
func (s *Source) Kind() eventbus.SourceKind             { return eventbus.KindSchedule }
func (s *Source) SupportedTypes() []eventbus.EventType  { return []eventbus.EventType{eventbus.TypeScheduled} }
func (s *Source) Events() <-chan eventbus.TriggerEvent  { return s.events }

func (s *Source) State() eventbus.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start schedules every configured entry and begins firing events.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == eventbus.StateRunning {
		return nil
	}
	s.state = eventbus.StateStarting

	sched := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))
	for _, entry := range s.entries {
		entry := entry
		if _, err := sched.AddFunc(entry.Expression, func() { s.fire(entry) }); err != nil {
			s.state = eventbus.StateError
			return &eventbus.Error{Kind: eventbus.StartAccessDenied, Message: fmt.Sprintf("invalid cron expression %q: %v", entry.Expression, err)}
		}
	}
	sched.Start()
	s.sched = sched
	s.state = eventbus.StateRunning
	return nil
}

func (s *Source) fire(entry Entry) {
	eventID := ident.NewEventID()
	s.events <- eventbus.TriggerEvent{
		ID:       eventID,
		SourceID: s.id,
		Type:     eventbus.TypeScheduled,
		Priority: entry.Priority,
		Metadata: entry.Metadata,
	}
}

// Stop halts the cron scheduler and closes the event channel.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil {
		stopCtx := s.sched.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}
	s.state = eventbus.StateStopped
	close(s.events)
	return nil
}
