package turn

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/config"
	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/memory"
	"github.com/orchardhq/orchard/model"
	"github.com/orchardhq/orchard/policy"
	"github.com/orchardhq/orchard/reminder"
	"github.com/orchardhq/orchard/toolregistry"
)

type fakeMemoryReader struct {
	annotation string
	has        bool
}

func (m *fakeMemoryReader) Events(ctx context.Context) ([]memory.Event, error) { return nil, nil }
func (m *fakeMemoryReader) FilterByType(ctx context.Context, t memory.EventType) ([]memory.Event, error) {
	return nil, nil
}
func (m *fakeMemoryReader) Latest(ctx context.Context, t memory.EventType) (memory.Event, bool, error) {
	if t != memory.EventAnnotation || !m.has {
		return memory.Event{}, false, nil
	}
	return memory.Event{Type: memory.EventAnnotation, Data: m.annotation}, true, nil
}

type scriptedStream struct {
	chunks []model.Chunk
	idx    int
}

func (s *scriptedStream) Recv() (model.Chunk, error) {
	if s.idx >= len(s.chunks) {
		return model.Chunk{Type: model.ChunkDone}, nil
	}
	c := s.chunks[s.idx]
	s.idx++
	return c, nil
}
func (s *scriptedStream) Close() error { return nil }

type scriptedClient struct {
	rounds   [][]model.Chunk
	calls    int
	requests []*model.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, nil
}
func (c *scriptedClient) Stream(ctx context.Context, req *model.Request) (model.Stream, error) {
	c.requests = append(c.requests, req)
	round := c.rounds[c.calls]
	c.calls++
	return &scriptedStream{chunks: round}, nil
}
func (c *scriptedClient) IsAvailable(ctx context.Context) bool          { return true }
func (c *scriptedClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

type memStore struct {
	policies map[ident.AgentID]policy.ApprovalPolicy
	trust    map[ident.AgentID]ident.TrustLevel
}

func newMemStore() *memStore {
	return &memStore{policies: map[ident.AgentID]policy.ApprovalPolicy{}, trust: map[ident.AgentID]ident.TrustLevel{}}
}
func (s *memStore) LoadPolicy(ctx context.Context, agentID ident.AgentID) (policy.ApprovalPolicy, error) {
	if p, ok := s.policies[agentID]; ok {
		return p, nil
	}
	return policy.DefaultApprovalPolicy(), nil
}
func (s *memStore) SavePolicy(ctx context.Context, agentID ident.AgentID, p policy.ApprovalPolicy) error {
	s.policies[agentID] = p
	return nil
}
func (s *memStore) AppendAutoApprovePattern(ctx context.Context, agentID ident.AgentID, pattern string) error {
	p := s.policies[agentID]
	p.AutoApprovePatterns = append(p.AutoApprovePatterns, pattern)
	s.policies[agentID] = p
	return nil
}
func (s *memStore) TrustLevel(ctx context.Context, agentID ident.AgentID, domain string) (ident.TrustLevel, error) {
	if lvl, ok := s.trust[agentID]; ok {
		return lvl, nil
	}
	return ident.TrustAutonomous, nil
}
func (s *memStore) TrustScore(ctx context.Context, agentID ident.AgentID, domain string) (float64, error) {
	return 4.0, nil
}
func (s *memStore) RecordOutcome(ctx context.Context, outcome policy.InteractionOutcome) (ident.TrustLevel, bool, error) {
	return s.trust[outcome.AgentID], false, nil
}

func newRunner(t *testing.T, client model.Client) *Runner {
	router := model.NewRouter(map[model.Tier]model.Client{model.TierCloud: client})
	tools := toolregistry.New()
	require.NoError(t, tools.Register(&toolregistry.Tool{
		Name:      "echo",
		RiskLevel: ident.RiskSafe,
		Execute: func(ctx toolregistry.ExecContext, input json.RawMessage) (any, error) {
			return "ok", nil
		},
	}))
	governor := policy.NewGovernor(newMemStore(), nil)
	cfg := config.Default()
	return New(router, tools, governor, nil, nil, cfg)
}

func textChunk(s string) model.Chunk { return model.Chunk{Type: model.ChunkTextDelta, Text: s} }

func TestRunCompletesWithoutToolCalls(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{textChunk("hello"), {Type: model.ChunkDone}},
	}}
	r := newRunner(t, client)

	var events []ProgressKind
	messages, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
	}, func(ctx context.Context, p Progress) { events = append(events, p.Kind) })

	require.NoError(t, err)
	require.Contains(t, events, ProgressComplete)
	require.Len(t, messages, 1)
}

func TestRunExecutesToolCallThenCompletes(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{
			{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call1", Name: "echo", Input: json.RawMessage(`{}`)}},
			{Type: model.ChunkDone},
		},
		{textChunk("done"), {Type: model.ChunkDone}},
	}}
	r := newRunner(t, client)

	var toolResults []ProgressKind
	messages, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
	}, func(ctx context.Context, p Progress) { toolResults = append(toolResults, p.Kind) })

	require.NoError(t, err)
	require.Contains(t, toolResults, ProgressToolResult)
	require.Contains(t, toolResults, ProgressComplete)
	require.Len(t, messages, 3) // assistant tool-call, tool-result, final assistant
}

func TestRunSurfacesMaxToolRoundsExceeded(t *testing.T) {
	client := &scriptedClient{rounds: make([][]model.Chunk, 20)}
	for i := range client.rounds {
		client.rounds[i] = []model.Chunk{
			{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call", Name: "echo", Input: json.RawMessage(`{}`)}},
			{Type: model.ChunkDone},
		}
	}
	r := newRunner(t, client)
	cfg := config.Default()
	cfg.MaxRoundsPerTurn = 20
	cfg.MaxToolRoundsPerTurn = 2
	r.cfg = cfg

	_, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
	}, nil)

	require.ErrorIs(t, err, ErrMaxRoundsExceeded)
}

// recordingFilter is a policy.FilterEngine test double that narrows to a
// fixed allowed set on every round and records each Decide call's arguments,
// so a test can assert both the tool narrowing and the retry-hint/caps
// propagation turn.Runner is responsible for driving.
type recordingFilter struct {
	allow []string

	calls []recordedDecide
}

type recordedDecide struct {
	candidates []string
	caps       policy.CapsState
	hint       *policy.RetryHint
}

func (f *recordingFilter) Decide(candidates []string, caps policy.CapsState, hint *policy.RetryHint) policy.FilterDecision {
	f.calls = append(f.calls, recordedDecide{candidates: candidates, caps: caps, hint: hint})
	return policy.FilterDecision{AllowedTools: f.allow, Caps: caps}
}

func TestRunNarrowsToolsThroughFilterEngine(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{textChunk("hello"), {Type: model.ChunkDone}},
	}}
	router := model.NewRouter(map[model.Tier]model.Client{model.TierCloud: client})
	tools := toolregistry.New()
	require.NoError(t, tools.Register(&toolregistry.Tool{
		Name:      "echo",
		RiskLevel: ident.RiskSafe,
		Execute: func(ctx toolregistry.ExecContext, input json.RawMessage) (any, error) {
			return "ok", nil
		},
	}))
	require.NoError(t, tools.Register(&toolregistry.Tool{
		Name:      "other",
		RiskLevel: ident.RiskSafe,
		Execute: func(ctx toolregistry.ExecContext, input json.RawMessage) (any, error) {
			return "ok", nil
		},
	}))
	governor := policy.NewGovernor(newMemStore(), nil)
	filter := &recordingFilter{allow: []string{"echo"}}
	r := New(router, tools, governor, filter, nil, config.Default())

	_, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
		Tools: []*model.ToolDefinition{
			{Name: "echo"},
			{Name: "other"},
		},
	}, nil)

	require.NoError(t, err)
	require.Len(t, filter.calls, 1)
	require.ElementsMatch(t, []string{"echo", "other"}, filter.calls[0].candidates)
	require.Nil(t, filter.calls[0].hint)

	require.Len(t, client.requests, 1)
	require.Len(t, client.requests[0].Tools, 1)
	require.Equal(t, "echo", client.requests[0].Tools[0].Name)
}

func TestRunPropagatesRetryHintAfterFailedToolCall(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{
			{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call1", Name: "missing", Input: json.RawMessage(`{}`)}},
			{Type: model.ChunkDone},
		},
		{textChunk("done"), {Type: model.ChunkDone}},
	}}
	router := model.NewRouter(map[model.Tier]model.Client{model.TierCloud: client})
	tools := toolregistry.New()
	governor := policy.NewGovernor(newMemStore(), nil)
	filter := &recordingFilter{allow: []string{"missing"}}
	r := New(router, tools, governor, filter, nil, config.Default())

	_, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
		Tools:   []*model.ToolDefinition{{Name: "missing"}},
	}, nil)

	require.NoError(t, err)
	require.Len(t, filter.calls, 2)
	require.Nil(t, filter.calls[0].hint)
	require.NotNil(t, filter.calls[1].hint)
	require.Equal(t, "missing", filter.calls[1].hint.Tool)
	require.Equal(t, policy.RetryReasonToolUnavailable, filter.calls[1].hint.Reason)

	firstCaps := filter.calls[0].caps
	secondCaps := filter.calls[1].caps
	require.Equal(t, firstCaps.RemainingToolCalls-1, secondCaps.RemainingToolCalls)
	require.Equal(t, firstCaps.MaxConsecutiveFailedToolCalls-1, secondCaps.RemainingConsecutiveFailedToolCalls)
}

func TestRunPrependsLatestMemoryAnnotationAsSystemMessage(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{textChunk("hello"), {Type: model.ChunkDone}},
	}}
	r := newRunner(t, client)

	messages, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
		Memory:  &fakeMemoryReader{annotation: "prior run flagged a rate-limit issue", has: true},
	}, nil)

	require.NoError(t, err)
	require.Len(t, client.requests, 1)
	sent := client.requests[0].Messages
	require.NotEmpty(t, sent)
	require.Equal(t, model.RoleSystem, sent[0].Role)
	require.Len(t, messages, 2) // system annotation + final assistant message
}

func TestRunInjectsDueReminderAsRoundSystemMessage(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{textChunk("hello"), {Type: model.ChunkDone}},
	}}
	r := newRunner(t, client)

	engine := reminder.NewEngine()
	engine.Add("run-1", reminder.Reminder{ID: "safety", Text: "never exfiltrate secrets", Priority: reminder.TierSafety})

	messages, err := r.Run(context.Background(), Input{
		AgentID:   "a1",
		Route:     model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
		RunID:     "run-1",
		Reminders: engine,
	}, nil)

	require.NoError(t, err)
	require.Len(t, client.requests, 1)
	sent := client.requests[0].Messages
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	require.Equal(t, model.RoleSystem, last.Role)
	require.Len(t, messages, 1) // reminder message is not persisted into the transcript
}

func TestRunRejectsCallBelowRequiredTrust(t *testing.T) {
	client := &scriptedClient{rounds: [][]model.Chunk{
		{
			{Type: model.ChunkToolCall, ToolCall: &model.ToolCall{ID: "call1", Name: "privileged", Input: json.RawMessage(`{}`)}},
			{Type: model.ChunkDone},
		},
		{textChunk("done"), {Type: model.ChunkDone}},
	}}
	router := model.NewRouter(map[model.Tier]model.Client{model.TierCloud: client})
	tools := toolregistry.New()
	require.NoError(t, tools.Register(&toolregistry.Tool{
		Name:          "privileged",
		RiskLevel:     ident.RiskHigh,
		RequiredTrust: ident.TrustAutonomous,
		Execute: func(ctx toolregistry.ExecContext, input json.RawMessage) (any, error) {
			return "should not run", nil
		},
	}))
	store := newMemStore()
	store.trust["a1"] = ident.TrustObserver
	governor := policy.NewGovernor(store, nil)
	r := New(router, tools, governor, nil, nil, config.Default())

	var results []Progress
	_, err := r.Run(context.Background(), Input{
		AgentID: "a1",
		Route:   model.RouteRequest{Sensitivity: model.SensitivityPrivate, LatencyClass: model.LatencyBackground},
	}, func(ctx context.Context, p Progress) {
		if p.Kind == ProgressAdmission {
			results = append(results, p)
		}
	})

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, policy.VerdictReject, results[0].Decision.Verdict)
	require.Equal(t, policy.ReasonInsufficientTrust, results[0].Decision.Reason)
}
