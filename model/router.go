package model

// Sensitivity is the compute-routing tier requested for a turn. It mirrors
// config.Sensitivity but is kept local to avoid an import cycle between
// model and config.
type Sensitivity string

const (
	SensitivityPrivate Sensitivity = "private"
	SensitivityHigh    Sensitivity = "high"
	SensitivityMaximum Sensitivity = "maximum"
)

// LatencyClass describes the latency budget a caller expects for a turn.
type LatencyClass string

const (
	LatencyInteractive LatencyClass = "interactive"
	LatencyBackground  LatencyClass = "background"
)

// RouteRequest carries the factors the router's policy depends on.
type RouteRequest struct {
	EstimatedTokenCount int
	RequiresToolCalling bool
	LatencyClass        LatencyClass
	Sensitivity         Sensitivity
	HighCapability       bool
}

// Tier names a provider pool the router can select from.
type Tier string

const (
	TierLocal        Tier = "local"
	TierPrivateCloud Tier = "private-cloud"
	TierCloud        Tier = "cloud"
)

// Route selects a provider tier given the documented policy:
//
//	sensitivity = maximum -> local-only
//	sensitivity = high    -> local or private-cloud
//	latency = interactive -> prefer local
//	capability = high     -> prefer cloud
func Route(req RouteRequest) Tier {
	switch req.Sensitivity {
	case SensitivityMaximum:
		return TierLocal
	case SensitivityHigh:
		if req.HighCapability {
			return TierPrivateCloud
		}
		return TierLocal
	}
	if req.HighCapability {
		return TierCloud
	}
	if req.LatencyClass == LatencyInteractive {
		return TierLocal
	}
	return TierCloud
}

// Router resolves a Tier to a concrete Client, substituting an alternate
// provider on hard failure only when the agent's policy permits (callers
// check that permission before invoking Substitute).
type Router struct {
	byTier map[Tier]Client
}

// NewRouter constructs a Router over the given tier-to-client bindings.
func NewRouter(byTier map[Tier]Client) *Router {
	return &Router{byTier: byTier}
}

// Select returns the client bound to req's resolved tier, or false if no
// client is bound to that tier.
func (r *Router) Select(req RouteRequest) (Client, Tier, bool) {
	tier := Route(req)
	c, ok := r.byTier[tier]
	return c, tier, ok
}

// Substitute returns an alternate client for a different tier, used when the
// primary tier's provider hard-fails and the calling agent's policy permits
// failover.
func (r *Router) Substitute(exclude Tier) (Client, Tier, bool) {
	for _, tier := range []Tier{TierCloud, TierPrivateCloud, TierLocal} {
		if tier == exclude {
			continue
		}
		if c, ok := r.byTier[tier]; ok {
			return c, tier, true
		}
	}
	return nil, "", false
}
