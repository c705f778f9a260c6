package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/ident"
)

func TestFilterMatches(t *testing.T) {
	minPriority := ident.PriorityHigh
	f := Filter{
		Types:            map[EventType]struct{}{TypeScheduled: {}},
		MinPriority:      &minPriority,
		RequiredMetadata: map[string]string{"env": "prod"},
	}
	e := TriggerEvent{Type: TypeScheduled, Priority: ident.PriorityUrgent, Metadata: map[string]string{"env": "prod"}}
	require.True(t, f.Matches(e))

	e.Priority = ident.PriorityNormal
	require.False(t, f.Matches(e))
}

func TestFilterMatchesEmptyConstraintsAlwaysMatch(t *testing.T) {
	f := Filter{}
	require.True(t, f.Matches(TriggerEvent{Type: TypeCustom}))
}

type fakeSource struct {
	id     ident.SourceID
	events chan TriggerEvent
	state  SourceState
}

func newFakeSource(id ident.SourceID) *fakeSource {
	return &fakeSource{id: id, events: make(chan TriggerEvent, 8), state: StateIdle}
}

func (s *fakeSource) ID() ident.SourceID            { return s.id }
func (s *fakeSource) Name() string                  { return string(s.id) }
func (s *fakeSource) Kind() SourceKind               { return KindCustom }
func (s *fakeSource) SupportedTypes() []EventType   { return []EventType{TypeScheduled} }
func (s *fakeSource) State() SourceState            { return s.state }
func (s *fakeSource) Start(ctx context.Context) error {
	s.state = StateRunning
	return nil
}
func (s *fakeSource) Stop(ctx context.Context) error {
	s.state = StateStopped
	close(s.events)
	return nil
}
func (s *fakeSource) Events() <-chan TriggerEvent { return s.events }

func TestDispatchOrderingFromSingleSource(t *testing.T) {
	bus := New(nil, 10)
	var mu sync.Mutex
	var received []ident.EventID
	done := make(chan struct{}, 3)
	bus.SetWakeFunc(func(ctx context.Context, agentID ident.AgentID, event TriggerEvent) {
		mu.Lock()
		received = append(received, event.ID)
		mu.Unlock()
		done <- struct{}{}
	})
	bus.Subscribe(Subscription{AgentID: "agent1", Filter: Filter{}, Priority: ident.SubscriptionNormal})

	src := newFakeSource("src1")
	require.NoError(t, bus.Register(context.Background(), src))

	src.events <- TriggerEvent{ID: "e1", SourceID: "src1", Type: TypeScheduled}
	src.events <- TriggerEvent{ID: "e2", SourceID: "src1", Type: TypeScheduled}
	src.events <- TriggerEvent{ID: "e3", SourceID: "src1", Type: TypeScheduled}

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ident.EventID{"e1", "e2", "e3"}, received)
}

func TestDispatchDeduplicatesMultipleMatchingSubscriptions(t *testing.T) {
	bus := New(nil, 10)
	var count int
	var mu sync.Mutex
	done := make(chan struct{}, 1)
	bus.SetWakeFunc(func(ctx context.Context, agentID ident.AgentID, event TriggerEvent) {
		mu.Lock()
		count++
		mu.Unlock()
		done <- struct{}{}
	})
	bus.Subscribe(Subscription{AgentID: "agent1", Filter: Filter{Types: map[EventType]struct{}{TypeScheduled: {}}}, Priority: ident.SubscriptionLow})
	bus.Subscribe(Subscription{AgentID: "agent1", Filter: Filter{}, Priority: ident.SubscriptionHigh})

	bus.Dispatch(context.Background(), TriggerEvent{ID: "e1", Type: TypeScheduled})
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}

func TestHistoryRingDropsOldestAtCapacity(t *testing.T) {
	bus := New(nil, 3)
	for i := 0; i < 5; i++ {
		bus.Dispatch(context.Background(), TriggerEvent{ID: ident.EventID(string(rune('a' + i)))})
	}
	history := bus.History()
	require.Len(t, history, 3)
	require.Equal(t, ident.EventID("c"), history[0].ID)
	require.Equal(t, ident.EventID("e"), history[2].ID)
}
