// Package turn implements the Agent Loop (C8): the per-round cycle of
// streaming a provider response, executing any requested tool calls through
// the approval and trust governor, and feeding results back for the next
// round, bounded by the configured round limits.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/orchardhq/orchard/config"
	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/memory"
	"github.com/orchardhq/orchard/model"
	"github.com/orchardhq/orchard/policy"
	"github.com/orchardhq/orchard/reminder"
	"github.com/orchardhq/orchard/telemetry"
	"github.com/orchardhq/orchard/toolregistry"
)

// ProgressKind identifies the shape of a single observer event, mirroring
// the observer stream named in §4.8: assistant text deltas, pending tool
// calls, admission decisions, tool results, usage deltas, turn completion,
// cancellation, and errors.
type ProgressKind string

const (
	ProgressTextDelta  ProgressKind = "text-delta"
	ProgressToolCall   ProgressKind = "tool-call"
	ProgressAdmission  ProgressKind = "admission-decision"
	ProgressToolResult ProgressKind = "tool-result"
	ProgressUsage      ProgressKind = "usage-delta"
	ProgressComplete   ProgressKind = "turn-complete"
	ProgressCancelled  ProgressKind = "cancelled"
	ProgressErrored    ProgressKind = "errored"
)

// Progress is a single observer-visible event emitted while a turn runs.
type Progress struct {
	Kind ProgressKind

	Text       string
	ToolCall   *model.ToolCall
	Decision   *policy.Decision
	ToolResult *ToolResult
	Usage      *model.TokenUsage
	Err        error
}

// ToolResult is the outcome of a single tool execution within a turn.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Output     any
	IsError    bool
}

// Observer receives progress events as a turn executes. It must not block
// for long: the turn engine calls it synchronously from the round loop.
type Observer func(ctx context.Context, p Progress)

// ErrMaxRoundsExceeded is surfaced when a turn reaches its configured round
// limit without reaching a tool-call-free response.
var ErrMaxRoundsExceeded = errors.New("turn: max rounds exceeded")

// Input describes a single turn invocation.
type Input struct {
	AgentID     ident.AgentID
	WorkspaceID ident.WorkspaceID
	// Domain is the trust/capability domain passed to Governor.Admit (e.g.
	// "filesystem", "calendar").
	Domain   string
	Messages []*model.Message
	Tools    []*model.ToolDefinition
	Route    model.RouteRequest
	// Memory, when set, is consulted once at the start of the turn for the
	// most recent planner annotation, which is surfaced to the provider as
	// a leading system message. Runner only reads from it; nothing in this
	// package ever appends to a memory store.
	Memory memory.Reader
	// RunID scopes Reminders lookups to a single durable run.
	RunID ident.RunID
	// Reminders, when set, is polled once per round for guidance due that
	// round; due reminders are appended to that round's request as a
	// system message but are not persisted into the returned transcript.
	Reminders *reminder.Engine
}

// Runner executes turns against a provider router, tool registry, and
// approval governor.
type Runner struct {
	router   *model.Router
	tools    *toolregistry.Registry
	governor *policy.Governor
	filter   policy.FilterEngine
	logger   telemetry.Logger
	cfg      config.Config

	limitersMu sync.Mutex
	limiters   map[model.Tier]*adaptiveLimiter
}

// New constructs a Runner. filter may be nil to skip the optional
// pre-admission narrowing hook.
func New(router *model.Router, tools *toolregistry.Registry, governor *policy.Governor, filter policy.FilterEngine, logger telemetry.Logger, cfg config.Config) *Runner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Runner{
		router:   router,
		tools:    tools,
		governor: governor,
		filter:   filter,
		logger:   logger,
		cfg:      cfg,
		limiters: make(map[model.Tier]*adaptiveLimiter),
	}
}

func (r *Runner) limiterFor(tier model.Tier) *adaptiveLimiter {
	r.limitersMu.Lock()
	defer r.limitersMu.Unlock()
	l, ok := r.limiters[tier]
	if !ok {
		l = newAdaptiveLimiter(60000, 60000)
		r.limiters[tier] = l
	}
	return l
}

// Run executes a turn: it streams provider responses, executes requested
// tool calls, and repeats until the model emits a response with no pending
// tool calls or the round limits are exhausted. It returns the updated
// message transcript (assistant and tool-result messages appended).
func (r *Runner) Run(ctx context.Context, in Input, observer Observer) ([]*model.Message, error) {
	if observer == nil {
		observer = func(context.Context, Progress) {}
	}
	messages := append([]*model.Message{}, in.Messages...)
	if in.Memory != nil {
		if note, ok, err := in.Memory.Latest(ctx, memory.EventAnnotation); err == nil && ok {
			if text, ok := note.Data.(string); ok && text != "" {
				messages = append([]*model.Message{{
					Role:  model.RoleSystem,
					Parts: []model.Part{model.TextPart{Text: text}},
				}}, messages...)
			}
		}
	}

	maxRounds := r.cfg.MaxRoundsPerTurn
	if maxRounds <= 0 {
		maxRounds = 16
	}
	maxToolRounds := r.cfg.MaxToolRoundsPerTurn
	if maxToolRounds <= 0 {
		maxToolRounds = 16
	}
	toolRounds := 0

	caps := policy.CapsState{
		MaxToolCalls:                        maxToolRounds * 8,
		RemainingToolCalls:                  maxToolRounds * 8,
		MaxConsecutiveFailedToolCalls:       3,
		RemainingConsecutiveFailedToolCalls: 3,
	}
	var retryHint *policy.RetryHint

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			observer(ctx, Progress{Kind: ProgressCancelled, Err: err})
			return messages, err
		}

		client, tier, ok := r.router.Select(in.Route)
		if !ok {
			err := fmt.Errorf("turn: no provider bound for resolved tier")
			observer(ctx, Progress{Kind: ProgressErrored, Err: err})
			return messages, err
		}

		tools := in.Tools
		if r.filter != nil {
			decision := r.filter.Decide(toolNames(in.Tools), caps, retryHint)
			caps = decision.Caps
			retryHint = nil
			if decision.DisableTools {
				tools = nil
			} else {
				tools = narrowToolDefs(in.Tools, decision.AllowedTools)
			}
		}

		roundMessages := messages
		if in.Reminders != nil {
			if due := in.Reminders.Next(in.RunID); len(due) > 0 {
				texts := make([]string, 0, len(due))
				for _, rem := range due {
					texts = append(texts, rem.Text)
				}
				roundMessages = append(append([]*model.Message{}, messages...), &model.Message{
					Role:  model.RoleSystem,
					Parts: []model.Part{model.TextPart{Text: strings.Join(texts, "\n")}},
				})
			}
		}

		req := &model.Request{
			Messages: roundMessages,
			Tools:    tools,
			Options:  model.Options{Stream: true},
		}

		text, toolCalls, usage, err := r.runRound(ctx, client, tier, req, observer)
		if err != nil {
			observer(ctx, Progress{Kind: ProgressErrored, Err: err})
			return messages, err
		}
		if usage != nil {
			observer(ctx, Progress{Kind: ProgressUsage, Usage: usage})
		}

		assistantParts := make([]model.Part, 0, len(toolCalls)+1)
		if text != "" {
			assistantParts = append(assistantParts, model.TextPart{Text: text})
		}
		for _, tc := range toolCalls {
			tc := tc
			assistantParts = append(assistantParts, model.ToolUsePart{ID: tc.ID, Name: tc.Name, Input: tc.Input})
		}
		messages = append(messages, &model.Message{Role: model.RoleAssistant, Parts: assistantParts})

		if len(toolCalls) == 0 {
			observer(ctx, Progress{Kind: ProgressComplete})
			return messages, nil
		}

		if toolRounds >= maxToolRounds {
			err := ErrMaxRoundsExceeded
			observer(ctx, Progress{Kind: ProgressErrored, Err: err})
			return messages, err
		}
		toolRounds++

		results := r.executeToolCalls(ctx, in, toolCalls, observer)
		resultParts := make([]model.Part, 0, len(results))
		for _, res := range results {
			resultParts = append(resultParts, model.ToolResultPart{ToolUseID: res.ToolCallID, Content: res.Output, IsError: res.IsError})
		}
		messages = append(messages, &model.Message{Role: model.RoleUser, Parts: resultParts})

		if r.filter != nil {
			caps.RemainingToolCalls -= len(results)
			retryHint = nextRetryHint(results)
			for _, res := range results {
				if res.IsError {
					caps.RemainingConsecutiveFailedToolCalls--
				} else {
					caps.RemainingConsecutiveFailedToolCalls = caps.MaxConsecutiveFailedToolCalls
				}
			}
		}
	}

	err := ErrMaxRoundsExceeded
	observer(ctx, Progress{Kind: ProgressErrored, Err: err})
	return messages, err
}

// runRound performs one provider round-trip, applying the error
// classification table from §4.8: RateLimited retries up to 3 times;
// NetworkError backs off 2s/4s/8s and surfaces after the third attempt;
// AuthenticationFailed/InvalidRequest surface immediately;
// ProviderUnavailable surfaces (callers decide whether to fail over via
// Router.Substitute before retrying the turn); ContextLengthExceeded
// surfaces for the caller's compaction hook to act on.
func (r *Runner) runRound(ctx context.Context, client model.Client, tier model.Tier, req *model.Request, observer Observer) (string, []model.ToolCall, *model.TokenUsage, error) {
	limiter := r.limiterFor(tier)

	const maxRateLimitRetries = 3
	const maxNetworkRetries = 3
	networkBackoff := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	rateLimitAttempts := 0
	networkAttempts := 0

	for {
		if err := limiter.wait(ctx, req); err != nil {
			return "", nil, nil, err
		}

		stream, err := client.Stream(ctx, req)
		limiter.observe(err)
		if err != nil {
			kind, retry, wait := classifyRetry(err, rateLimitAttempts, networkAttempts, networkBackoff)
			switch kind {
			case retryRateLimit:
				rateLimitAttempts++
				if !retry || rateLimitAttempts > maxRateLimitRetries {
					return "", nil, nil, err
				}
				if err := sleepCtx(ctx, wait); err != nil {
					return "", nil, nil, err
				}
				continue
			case retryNetwork:
				networkAttempts++
				if !retry || networkAttempts > maxNetworkRetries {
					return "", nil, nil, err
				}
				if err := sleepCtx(ctx, wait); err != nil {
					return "", nil, nil, err
				}
				continue
			default:
				return "", nil, nil, err
			}
		}

		text, toolCalls, usage, streamErr := r.consumeStream(ctx, stream, observer)
		_ = stream.Close()
		limiter.observe(streamErr)
		if streamErr == nil {
			return text, toolCalls, usage, nil
		}

		kind, retry, wait := classifyRetry(streamErr, rateLimitAttempts, networkAttempts, networkBackoff)
		switch kind {
		case retryRateLimit:
			rateLimitAttempts++
			if !retry || rateLimitAttempts > maxRateLimitRetries {
				return "", nil, nil, streamErr
			}
		case retryNetwork:
			networkAttempts++
			if !retry || networkAttempts > maxNetworkRetries {
				return "", nil, nil, streamErr
			}
		default:
			return "", nil, nil, streamErr
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return "", nil, nil, err
		}
	}
}

type retryClass int

const (
	retryNone retryClass = iota
	retryRateLimit
	retryNetwork
)

func classifyRetry(err error, rateLimitAttempts, networkAttempts int, networkBackoff []time.Duration) (retryClass, bool, time.Duration) {
	var perr *model.Error
	if !errors.As(err, &perr) {
		return retryNone, false, 0
	}
	switch perr.Kind {
	case model.ErrorRateLimited:
		wait := perr.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		return retryRateLimit, rateLimitAttempts < 3, wait
	case model.ErrorNetworkError:
		idx := networkAttempts
		if idx >= len(networkBackoff) {
			idx = len(networkBackoff) - 1
		}
		return retryNetwork, networkAttempts < len(networkBackoff), networkBackoff[idx]
	default:
		// AuthenticationFailed, InvalidRequest, ContextLengthExceeded,
		// ModelNotFound, ProviderUnavailable all surface immediately; a
		// ProviderUnavailable failover is the caller's decision via
		// Router.Substitute, not an automatic retry here.
		return retryNone, false, 0
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// consumeStream drains stream, translating text-delta/tool-call/usage/done
// chunks into accumulated state and observer events. An error chunk is
// translated into a returned *model.Error.
func (r *Runner) consumeStream(ctx context.Context, stream model.Stream, observer Observer) (string, []model.ToolCall, *model.TokenUsage, error) {
	var text string
	var toolCalls []model.ToolCall
	var usage *model.TokenUsage

	for {
		chunk, err := stream.Recv()
		if err != nil {
			return text, toolCalls, usage, err
		}
		switch chunk.Type {
		case model.ChunkTextDelta:
			text += chunk.Text
			observer(ctx, Progress{Kind: ProgressTextDelta, Text: chunk.Text})
		case model.ChunkText:
			text = chunk.Text
		case model.ChunkToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				observer(ctx, Progress{Kind: ProgressToolCall, ToolCall: chunk.ToolCall})
			}
		case model.ChunkUsage:
			usage = chunk.Usage
		case model.ChunkDone:
			return text, toolCalls, usage, nil
		case model.ChunkError:
			if chunk.Err != nil {
				return text, toolCalls, usage, chunk.Err
			}
			return text, toolCalls, usage, fmt.Errorf("turn: stream reported an error chunk with no error detail")
		}
	}
}

// executeToolCalls runs every pending call, respecting the within-turn
// concurrency rule: calls execute in parallel only when every one of them
// is risk <= low and carries no write intent; otherwise they execute
// sequentially in the order the provider emitted them.
func (r *Runner) executeToolCalls(ctx context.Context, in Input, calls []model.ToolCall, observer Observer) []ToolResult {
	results := make([]ToolResult, len(calls))

	if r.canParallelize(calls) {
		var wg sync.WaitGroup
		for i, call := range calls {
			i, call := i, call
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = r.executeOne(ctx, in, call, observer)
			}()
		}
		wg.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = r.executeOne(ctx, in, call, observer)
	}
	return results
}

func (r *Runner) canParallelize(calls []model.ToolCall) bool {
	for _, call := range calls {
		tool, ok := r.tools.Lookup(call.Name)
		if !ok {
			continue
		}
		if tool.RiskLevel > ident.RiskLow || tool.WriteIntent {
			return false
		}
	}
	return true
}

func (r *Runner) executeOne(ctx context.Context, in Input, call model.ToolCall, observer Observer) ToolResult {
	tool, ok := r.tools.Lookup(call.Name)
	if !ok {
		return ToolResult{ToolCallID: call.ID, ToolName: call.Name, IsError: true, Output: fmt.Sprintf("unknown tool %q", call.Name)}
	}

	if err := tool.Validate(call.Input); err != nil {
		return ToolResult{ToolCallID: call.ID, ToolName: call.Name, IsError: true, Output: err.Error()}
	}

	description := call.Name
	if tool.DescribeAction != nil {
		description = tool.DescribeAction(call.Input)
	}

	decision, err := r.governor.Admit(ctx, policy.CallRequest{
		AgentID:       in.AgentID,
		ToolName:      call.Name,
		Description:   description,
		InputPreview:  previewInput(call.Input),
		RiskLevel:     tool.RiskLevel,
		RequiredTrust: tool.RequiredTrust,
	}, in.Domain)
	if err != nil {
		return ToolResult{ToolCallID: call.ID, ToolName: call.Name, IsError: true, Output: err.Error()}
	}
	observer(ctx, Progress{Kind: ProgressAdmission, ToolCall: &call, Decision: &decision})

	if decision.Verdict != policy.VerdictAdmit {
		return ToolResult{ToolCallID: call.ID, ToolName: call.Name, IsError: true, Output: fmt.Sprintf("call rejected: %s", decision.Reason)}
	}

	timeout := r.cfg.ToolExecutionTimeout()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := tool.Execute(toolregistry.ExecContext{Context: execCtx, AgentID: in.AgentID, WorkspaceID: in.WorkspaceID}, call.Input)
	result := ToolResult{ToolCallID: call.ID, ToolName: call.Name, Output: output}
	if err != nil {
		result.IsError = true
		result.Output = err.Error()
	}
	observer(ctx, Progress{Kind: ProgressToolResult, ToolResult: &result})
	return result
}

func previewInput(input json.RawMessage) string {
	const maxPreview = 200
	s := string(input)
	if len(s) > maxPreview {
		return s[:maxPreview] + "..."
	}
	return s
}

func toolNames(defs []*model.ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

// narrowToolDefs returns the subset of defs whose name appears in allowed.
// A nil or empty allowed list narrows to zero tools, matching
// FilterEngine.Decide's contract that AllowedTools is the authoritative
// tool set for the round, not an optional hint.
func narrowToolDefs(defs []*model.ToolDefinition, allowed []string) []*model.ToolDefinition {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowSet[name] = struct{}{}
	}
	narrowed := make([]*model.ToolDefinition, 0, len(allowSet))
	for _, d := range defs {
		if _, ok := allowSet[d.Name]; ok {
			narrowed = append(narrowed, d)
		}
	}
	return narrowed
}

// nextRetryHint inspects the most recent round's tool results and derives
// guidance for the next FilterEngine.Decide call, so a failing tool can be
// excluded or restricted on the following round.
func nextRetryHint(results []ToolResult) *policy.RetryHint {
	for _, res := range results {
		if !res.IsError {
			continue
		}
		msg := fmt.Sprint(res.Output)
		hint := &policy.RetryHint{Tool: res.ToolName, Message: msg}
		switch {
		case strings.Contains(msg, "unknown tool"), strings.Contains(msg, "call rejected"):
			hint.Reason = policy.RetryReasonToolUnavailable
		default:
			hint.Reason = policy.RetryReasonInvalidArguments
		}
		return hint
	}
	return nil
}
