// Package filewatch implements the built-in "file-watch" event source kind:
// it watches a set of paths via fsnotify and emits a debounced TriggerEvent
// per coalesced burst of filesystem activity.
package filewatch

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

// Source watches Paths for changes, coalescing rapid-fire events on the
// same path within Debounce into a single TriggerEvent.
type Source struct {
	id       ident.SourceID
	name     string
	paths    []string
	debounce time.Duration

	mu      sync.Mutex
	state   eventbus.SourceState
	events  chan eventbus.TriggerEvent
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	pending map[string]*time.Timer
}

// New constructs a filewatch Source. debounce of 0 uses 300ms.
func New(id ident.SourceID, name string, paths []string, debounce time.Duration) *Source {
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Source{
		id:       id,
		name:     name,
		paths:    paths,
		debounce: debounce,
		state:    eventbus.StateIdle,
		events:   make(chan eventbus.TriggerEvent, 16),
		pending:  make(map[string]*time.Timer),
	}
}

func (s *Source) ID() ident.SourceID                   { return s.id }
func (s *Source) Name() string                         { return s.name }
func (s *Source) Kind() eventbus.SourceKind            { return eventbus.KindFileWatch }
func (s *Source) SupportedTypes() []eventbus.EventType { return []eventbus.EventType{eventbus.TypeFileChange} }
func (s *Source) Events() <-chan eventbus.TriggerEvent { return s.events }

func (s *Source) State() eventbus.SourceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the underlying fsnotify watcher and adds every configured
// path. A missing path fails Start with StartMissingDependency.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == eventbus.StateRunning {
		return nil
	}
	s.state = eventbus.StateStarting

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.state = eventbus.StateError
		return &eventbus.Error{Kind: eventbus.StartTransientUnavailable, Message: err.Error()}
	}
	for _, p := range s.paths {
		if err := w.Add(p); err != nil {
			w.Close()
			s.state = eventbus.StateError
			return &eventbus.Error{Kind: eventbus.StartMissingDependency, Message: "watch path unavailable: " + p}
		}
	}
	s.watcher = w

	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(watchCtx)

	s.state = eventbus.StateRunning
	return nil
}

func (s *Source) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.debounceEvent(ev)
		case _, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (s *Source) debounceEvent(ev fsnotify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, exists := s.pending[ev.Name]; exists {
		t.Stop()
	}
	s.pending[ev.Name] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.pending, ev.Name)
		s.mu.Unlock()
		s.events <- eventbus.TriggerEvent{
			ID:       ident.NewEventID(),
			SourceID: s.id,
			Type:     eventbus.TypeFileChange,
			Priority: ident.PriorityNormal,
			Metadata: map[string]string{"path": ev.Name, "op": ev.Op.String()},
		}
	})
}

// Stop closes the watcher, cancels pending debounce timers, and closes the
// event channel.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	for _, t := range s.pending {
		t.Stop()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.state = eventbus.StateStopped
	close(s.events)
	return nil
}
