// Package policy implements the approval and trust governor: it decides
// before each tool invocation whether to admit, prompt, or reject the call,
// and maintains the per-agent, per-capability-domain trust metric that
// feeds that decision.
package policy

import (
	"context"
	"path/filepath"
	"time"

	"github.com/orchardhq/orchard/ident"
)

// DenyReason names why an admission decision was not Admit.
type DenyReason string

const (
	ReasonPolicyForbidden  DenyReason = "policy-forbidden"
	ReasonUserDenied       DenyReason = "user-denied"
	ReasonTimeout          DenyReason = "timeout"
	ReasonInsufficientTrust DenyReason = "insufficient-trust"
)

// Verdict is the outcome of the admission algorithm.
type Verdict string

const (
	VerdictAdmit  Verdict = "admit"
	VerdictPrompt Verdict = "prompt"
	VerdictReject Verdict = "reject"
)

// Decision is the result of Governor.Admit.
type Decision struct {
	Verdict Verdict
	Reason  DenyReason
}

// ApprovalRequest is submitted to the approval channel when the admission
// algorithm reaches step 3 (neither forbidden nor auto-approved).
type ApprovalRequest struct {
	AgentID      ident.AgentID
	ToolName     string
	Description  string
	InputPreview string
	RiskLevel    ident.RiskLevel
}

// ApprovalOutcome is the user's response to an ApprovalRequest.
type ApprovalOutcome string

const (
	ApprovalAllow       ApprovalOutcome = "allow"
	ApprovalAllowAlways ApprovalOutcome = "allow-always"
	ApprovalDeny        ApprovalOutcome = "deny"
)

// ApprovalChannel submits approval requests to a human reviewer (or an
// automated stand-in in tests) and waits for a decision, honoring the
// caller's context deadline as the prompt timeout.
type ApprovalChannel interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalOutcome, error)
}

// CallRequest describes a single tool call submitted for admission.
type CallRequest struct {
	AgentID       ident.AgentID
	ToolName      string
	Description   string
	InputPreview  string
	RiskLevel     ident.RiskLevel
	RequiredTrust ident.TrustLevel
}

// ApprovalPolicy is the per-agent or global approval configuration.
type ApprovalPolicy struct {
	ApprovalThreshold    ident.RiskLevel
	AutoApprovePatterns  []string
	NeverApprovePatterns []string
	PromptTimeout        time.Duration
}

// DefaultApprovalPolicy returns the documented defaults: threshold medium,
// empty pattern lists, 5 minute prompt timeout.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		ApprovalThreshold: ident.RiskMedium,
		PromptTimeout:     5 * time.Minute,
	}
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Store persists auto-approve patterns and the trust ledger.
type Store interface {
	TrustStore
	PolicyStore
}

// PolicyStore persists per-agent approval policy overrides, including
// patterns appended by an AlwaysAllow decision (step 5 of the admission
// algorithm).
type PolicyStore interface {
	LoadPolicy(ctx context.Context, agentID ident.AgentID) (ApprovalPolicy, error)
	SavePolicy(ctx context.Context, agentID ident.AgentID, policy ApprovalPolicy) error
	AppendAutoApprovePattern(ctx context.Context, agentID ident.AgentID, pattern string) error
}

// Governor implements the admission algorithm and trust update formula.
type Governor struct {
	store   Store
	approve ApprovalChannel
}

// NewGovernor constructs a Governor backed by store for persistence and
// approve for interactive prompts.
func NewGovernor(store Store, approve ApprovalChannel) *Governor {
	return &Governor{store: store, approve: approve}
}

// Admit runs the five-step admission algorithm from §4.5 against req,
// reading the agent's current approval policy and trust level from the
// store.
func (g *Governor) Admit(ctx context.Context, req CallRequest, domain string) (Decision, error) {
	policy, err := g.store.LoadPolicy(ctx, req.AgentID)
	if err != nil {
		return Decision{}, err
	}

	// Step 1: never-approve patterns reject unconditionally.
	if matchesAny(policy.NeverApprovePatterns, req.ToolName) {
		return Decision{Verdict: VerdictReject, Reason: ReasonPolicyForbidden}, nil
	}

	// Trust gating applies regardless of risk threshold: an agent below the
	// tool's required trust is rejected with a structured reason the agent
	// loop surfaces in-conversation rather than exiting the turn.
	trust, err := g.store.TrustLevel(ctx, req.AgentID, domain)
	if err != nil {
		return Decision{}, err
	}
	if trust < req.RequiredTrust {
		return Decision{Verdict: VerdictReject, Reason: ReasonInsufficientTrust}, nil
	}

	// Step 2: below the approval threshold, or an auto-approve pattern match.
	if req.RiskLevel < policy.ApprovalThreshold || matchesAny(policy.AutoApprovePatterns, req.ToolName) {
		return Decision{Verdict: VerdictAdmit}, nil
	}

	// Step 3/4: prompt, bounded by PromptTimeout.
	timeout := policy.PromptTimeout
	if timeout <= 0 {
		timeout = DefaultApprovalPolicy().PromptTimeout
	}
	promptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := g.approve.RequestApproval(promptCtx, ApprovalRequest{
		AgentID:      req.AgentID,
		ToolName:     req.ToolName,
		Description:  req.Description,
		InputPreview: req.InputPreview,
		RiskLevel:    req.RiskLevel,
	})
	if err != nil {
		if promptCtx.Err() != nil {
			return Decision{Verdict: VerdictReject, Reason: ReasonTimeout}, nil
		}
		return Decision{}, err
	}

	switch outcome {
	case ApprovalAllow:
		return Decision{Verdict: VerdictAdmit}, nil
	case ApprovalAllowAlways:
		// Step 5: persist an auto-approve pattern scoped to this agent.
		if err := g.store.AppendAutoApprovePattern(ctx, req.AgentID, req.ToolName); err != nil {
			return Decision{}, err
		}
		return Decision{Verdict: VerdictAdmit}, nil
	default:
		return Decision{Verdict: VerdictReject, Reason: ReasonUserDenied}, nil
	}
}
