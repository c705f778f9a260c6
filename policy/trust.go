package policy

import (
	"context"
	"math"

	"github.com/orchardhq/orchard/ident"
)

// InteractionOutcome is consumed by the trust governor to update the trust
// metric for (agent, capability-domain).
type InteractionOutcome struct {
	AgentID    ident.AgentID
	Domain     string
	Success    bool
	Correction bool
}

// Tally accumulates successes, total interactions, and corrections for one
// (agent, domain) pair, the running totals the trust-update formula needs.
type Tally struct {
	Successes   int
	Total       int
	Corrections int
}

// UpdateScore applies the documented trust-update formula to a running
// score in [0.0, 4.0]:
//
//	new = clamp(current + success_rate*log(1+total)/10 - error_rate*2.0, 0.0, 4.0)
//
// success_rate = successes/total, error_rate = corrections/total.
func UpdateScore(current float64, tally Tally) float64 {
	if tally.Total <= 0 {
		return clamp(current)
	}
	successRate := float64(tally.Successes) / float64(tally.Total)
	errorRate := float64(tally.Corrections) / float64(tally.Total)
	next := current + successRate*math.Log(1+float64(tally.Total))/10 - errorRate*2.0
	return clamp(next)
}

func clamp(v float64) float64 {
	if v < 0.0 {
		return 0.0
	}
	if v > 4.0 {
		return 4.0
	}
	return v
}

// TrustStore persists the running tally and score per (agent, domain). It
// keeps no aggregate across an agent's domains; every method takes a single
// domain.
type TrustStore interface {
	// TrustLevel returns the agent's coarse trust level for domain.
	TrustLevel(ctx context.Context, agentID ident.AgentID, domain string) (ident.TrustLevel, error)

	// TrustScore returns the agent's continuous trust score for domain.
	TrustScore(ctx context.Context, agentID ident.AgentID, domain string) (float64, error)

	// RecordOutcome folds outcome into the (agent, domain) tally and
	// persists the updated score, returning the new coarse level and
	// whether it crossed an integer boundary (promoted or demoted).
	RecordOutcome(ctx context.Context, outcome InteractionOutcome) (newLevel ident.TrustLevel, changed bool, err error)
}
