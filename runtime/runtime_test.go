package runtime

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/config"
	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/eventsource/schedule"
	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/model"
	"github.com/orchardhq/orchard/policy"
	"github.com/orchardhq/orchard/session/sqlstore"
	"github.com/orchardhq/orchard/toolregistry"
	"github.com/orchardhq/orchard/turn"
	"github.com/orchardhq/orchard/wake"
)

type fakeClient struct{}

func (fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, nil
}
func (fakeClient) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	return &fakeStream{}, nil
}
func (fakeClient) IsAvailable(ctx context.Context) bool            { return true }
func (fakeClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

type fakeStream struct{ sent bool }

func (s *fakeStream) Recv() (model.Chunk, error) {
	if s.sent {
		return model.Chunk{Type: model.ChunkDone}, nil
	}
	s.sent = true
	return model.Chunk{Type: model.ChunkTextDelta, Text: "acknowledged"}, nil
}
func (s *fakeStream) Close() error { return nil }

type fakeTrustStore struct{}

func (fakeTrustStore) LoadPolicy(ctx context.Context, agentID ident.AgentID) (policy.ApprovalPolicy, error) {
	return policy.DefaultApprovalPolicy(), nil
}
func (fakeTrustStore) SavePolicy(ctx context.Context, agentID ident.AgentID, p policy.ApprovalPolicy) error {
	return nil
}
func (fakeTrustStore) AppendAutoApprovePattern(ctx context.Context, agentID ident.AgentID, pattern string) error {
	return nil
}
func (fakeTrustStore) TrustLevel(ctx context.Context, agentID ident.AgentID, domain string) (ident.TrustLevel, error) {
	return ident.TrustAutonomous, nil
}
func (fakeTrustStore) TrustScore(ctx context.Context, agentID ident.AgentID, domain string) (float64, error) {
	return 4.0, nil
}
func (fakeTrustStore) RecordOutcome(ctx context.Context, outcome policy.InteractionOutcome) (ident.TrustLevel, bool, error) {
	return ident.TrustAutonomous, false, nil
}

// TestScheduleEventWakesIdleAgentThroughRuntime implements the documented
// scenario end to end: a schedule source fires, the bus dispatches it to
// the wake controller, which finds the agent idle and immediately runs a
// full turn.
func TestScheduleEventWakesIdleAgentThroughRuntime(t *testing.T) {
	bus := eventbus.New(nil, 100)
	wakeCtrl := wake.New(nil)
	router := model.NewRouter(map[model.Tier]model.Client{model.TierCloud: fakeClient{}})
	governor := policy.NewGovernor(fakeTrustStore{}, nil)
	runner := turn.New(router, toolregistry.New(), governor, nil, nil, config.Default())

	store, err := sqlstore.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rt := New(bus, wakeCtrl, runner, store, nil, nil)

	var mu sync.Mutex
	var completed bool
	agentID := ident.AgentID("digest-agent")
	rt.RegisterAgent(AgentConfig{
		Profile: wake.Profile{AgentID: agentID, Capabilities: map[string]struct{}{"digest": {}}, Trust: ident.TrustAutonomous},
		Domain:  "calendar",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
		BuildMessages: func(eventbus.TriggerEvent) []*model.Message {
			mu.Lock()
			completed = true
			mu.Unlock()
			return []*model.Message{{Role: model.RoleUser, Parts: []model.Part{model.TextPart{Text: "run the digest"}}}}
		},
	})

	bus.Subscribe(eventbus.Subscription{AgentID: agentID, Filter: eventbus.Filter{}, Priority: ident.SubscriptionNormal})

	sched := schedule.New(ident.NewSourceID(), "digest-schedule", []schedule.Entry{
		{Expression: "@every 10ms", Priority: ident.PriorityNormal},
	})
	require.NoError(t, rt.RegisterSource(context.Background(), sched))
	defer sched.Stop(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return completed
	}, time.Second, 5*time.Millisecond)
}
