package wake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
)

func TestRequestWakeDeliversImmediatelyToIdleAgent(t *testing.T) {
	c := New(nil)
	var delivered []ident.EventID
	c.RegisterAgent(Profile{AgentID: "a1"}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
		delivered = append(delivered, event.ID)
	})

	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "e1"})

	require.Equal(t, []ident.EventID{"e1"}, delivered)
	require.Equal(t, StatusBusy, c.Status("a1"))
}

func TestRequestWakeDropsUnknownAgent(t *testing.T) {
	c := New(nil)
	c.RequestWake(context.Background(), "ghost", eventbus.TriggerEvent{ID: "e1"})
	require.Equal(t, StatusOffline, c.Status("ghost"))
}

func TestBusyAgentQueueingRespectsPriority(t *testing.T) {
	c := New(nil)
	var delivered []ident.EventID
	c.RegisterAgent(Profile{AgentID: "a1"}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
		delivered = append(delivered, event.ID)
	})

	// First event occupies the agent.
	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "busy", Priority: ident.PriorityNormal})
	require.Equal(t, StatusBusy, c.Status("a1"))

	// Queue a low and a high priority event while busy, low first.
	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "low", Priority: ident.PriorityLow})
	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "high", Priority: ident.PriorityHigh})
	require.Equal(t, 2, c.PendingCount("a1"))

	c.CompleteEvent(context.Background(), "a1")
	require.Equal(t, []ident.EventID{"busy", "high"}, delivered)
	require.Equal(t, StatusBusy, c.Status("a1"))

	c.CompleteEvent(context.Background(), "a1")
	require.Equal(t, []ident.EventID{"busy", "high", "low"}, delivered)
	require.Equal(t, StatusAvailable, c.Status("a1"))
}

func TestPendingQueueBreaksTiesByInsertionOrder(t *testing.T) {
	c := New(nil)
	var delivered []ident.EventID
	c.RegisterAgent(Profile{AgentID: "a1"}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
		delivered = append(delivered, event.ID)
	})

	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "busy", Priority: ident.PriorityNormal})
	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "first", Priority: ident.PriorityNormal})
	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "second", Priority: ident.PriorityNormal})

	c.CompleteEvent(context.Background(), "a1")
	c.CompleteEvent(context.Background(), "a1")
	require.Equal(t, []ident.EventID{"busy", "first", "second"}, delivered)
}

func TestOfflineAgentRoutesToCapableSubstitute(t *testing.T) {
	c := New(nil)
	var deliveredTo ident.AgentID
	var deliveredEvent ident.EventID
	c.RegisterAgent(Profile{AgentID: "offline-agent", RoleProfile: "specialist"}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
		t.Fatal("should not deliver to the offline agent")
	})
	c.RegisterAgent(Profile{
		AgentID:      "substitute",
		Capabilities: map[string]struct{}{"calendar": {}},
		Trust:        ident.TrustTrusted,
	}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
		deliveredTo = agentID
		deliveredEvent = event.ID
	})
	c.SetStatus("offline-agent", StatusOffline)

	c.RequestWake(context.Background(), "offline-agent", eventbus.TriggerEvent{
		ID:       "e1",
		Metadata: map[string]string{"requires-capability": "calendar"},
	})

	require.Equal(t, ident.AgentID("substitute"), deliveredTo)
	require.Equal(t, ident.EventID("e1"), deliveredEvent)
}

func TestOfflineAgentWithNoSubstituteEnqueuesOnOriginal(t *testing.T) {
	c := New(nil)
	c.RegisterAgent(Profile{AgentID: "offline-agent"}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
		t.Fatal("should not deliver while offline")
	})
	c.SetStatus("offline-agent", StatusOffline)

	c.RequestWake(context.Background(), "offline-agent", eventbus.TriggerEvent{ID: "e1"})

	require.Equal(t, 1, c.PendingCount("offline-agent"))
	require.Equal(t, StatusOffline, c.Status("offline-agent"))
}

func TestOfflineMidProcessingPreservesQueue(t *testing.T) {
	c := New(nil)
	c.RegisterAgent(Profile{AgentID: "a1"}, func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {})

	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "busy"})
	c.RequestWake(context.Background(), "a1", eventbus.TriggerEvent{ID: "queued"})
	require.Equal(t, 1, c.PendingCount("a1"))

	c.SetStatus("a1", StatusOffline)
	require.Equal(t, 1, c.PendingCount("a1"), "queue must survive an offline transition mid-processing")
}
