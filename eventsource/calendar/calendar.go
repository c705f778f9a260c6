// Package calendar implements the built-in "calendar" event source kind: it
// polls a Store of upcoming calendar entries and fires a TriggerEvent once
// per entry as its start time arrives.
package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

// Entry is a single calendar occurrence.
type Entry struct {
	ID       string
	StartsAt time.Time
	Priority ident.EventPriority
	Metadata map[string]string
}

// Store is the integration point for a concrete calendar backend (a synced
// external calendar, a local store of reminders).
type Store interface {
	// Upcoming returns every entry with StartsAt in (since, until].
	Upcoming(ctx context.Context, since, until time.Time) ([]Entry, error)
}

// Source polls Store at PollInterval and fires one TriggerEvent per entry
// the first time its start time falls within a poll window.
type Source struct {
	id           ident.SourceID
	name         string
	store        Store
	pollInterval time.Duration

	mu     sync.Mutex
	state  eventbus.SourceState
	events chan eventbus.TriggerEvent
	cancel context.CancelFunc
	last   time.Time
}

// New constructs a calendar Source. pollInterval of 0 uses 60s.
func New(id ident.SourceID, name string, store Store, pollInterval time.Duration) *Source {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &Source{
		id:           id,
		name:         name,
		store:        store,
		pollInterval: pollInterval,
		state:        eventbus.StateIdle,
		events:       make(chan eventbus.TriggerEvent, 16),
	}
}

func (s *Source) ID() ident.SourceID                   { return s.id }
func (s *Source) Name() string                         { return s.name }
func (s *Source) Kind() eventbus.SourceKind            { return eventbus.KindCalendar }
func (s *Source) SupportedTypes() []eventbus.EventType { return []eventbus.EventType{eventbus.TypeCalendar} }
func (s *Source) Events() <-chan eventbus.TriggerEvent { return s.events }

func (s *Source) State() eventbus.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == eventbus.StateRunning {
		return nil
	}
	s.last = time.Now()
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.poll(watchCtx)
	s.state = eventbus.StateRunning
	return nil
}

func (s *Source) poll(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			since := s.last
			s.last = now
			s.mu.Unlock()

			entries, err := s.store.Upcoming(ctx, since, now)
			if err != nil {
				continue
			}
			for _, e := range entries {
				s.events <- eventbus.TriggerEvent{
					ID:        ident.NewEventID(),
					SourceID:  s.id,
					Type:      eventbus.TypeCalendar,
					Priority:  e.Priority,
					Timestamp: e.StartsAt,
					Metadata:  e.Metadata,
				}
			}
		}
	}
}

func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.state = eventbus.StateStopped
	close(s.events)
	return nil
}

// MemStore is an in-memory Store useful for tests and small deployments.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

// Add registers an entry.
func (m *MemStore) Add(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Upcoming implements Store.
func (m *MemStore) Upcoming(_ context.Context, since, until time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.StartsAt.After(since) && !e.StartsAt.After(until) {
			out = append(out, e)
		}
	}
	return out, nil
}
