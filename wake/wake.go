// Package wake implements the Wake Controller (C7): it tracks each agent's
// availability, queues pending events for busy agents in priority order, and
// routes events that cannot be delivered to their intended agent toward a
// capable substitute.
package wake

import (
	"context"
	"sort"
	"sync"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/telemetry"
)

// AgentStatus is an agent's availability as seen by the wake controller.
type AgentStatus string

const (
	StatusAvailable   AgentStatus = "available"
	StatusBusy        AgentStatus = "busy"
	StatusOffline     AgentStatus = "offline"
	StatusMaintenance AgentStatus = "maintenance"
)

// Profile describes an agent's routing-relevant attributes: the tool/event
// capabilities it can service, its trust level, and an optional named role
// (e.g. "concierge") used as a routing fallback.
type Profile struct {
	AgentID      ident.AgentID
	Capabilities map[string]struct{}
	Trust        ident.TrustLevel
	RoleProfile  string
}

// WakeCallback delivers an event to an agent that has just become the one
// responsible for processing it.
type WakeCallback func(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent)

type pendingEvent struct {
	event eventbus.TriggerEvent
	seq   uint64
}

// Controller is the concrete Wake Controller. It holds, per agent: current
// status, the event currently being processed (if any), a priority-ordered
// pending queue, and the callback used to deliver events.
type Controller struct {
	logger telemetry.Logger

	mu       sync.Mutex
	status   map[ident.AgentID]AgentStatus
	current  map[ident.AgentID]*eventbus.TriggerEvent
	pending  map[ident.AgentID][]pendingEvent
	callback map[ident.AgentID]WakeCallback
	profiles map[ident.AgentID]Profile
	seq      uint64
}

// New constructs an empty Controller.
func New(logger telemetry.Logger) *Controller {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Controller{
		logger:   logger,
		status:   make(map[ident.AgentID]AgentStatus),
		current:  make(map[ident.AgentID]*eventbus.TriggerEvent),
		pending:  make(map[ident.AgentID][]pendingEvent),
		callback: make(map[ident.AgentID]WakeCallback),
		profiles: make(map[ident.AgentID]Profile),
	}
}

// RegisterAgent makes an agent known to the controller: available, with the
// given profile (used for routing) and wake callback.
func (c *Controller) RegisterAgent(profile Profile, cb WakeCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[profile.AgentID] = profile
	c.callback[profile.AgentID] = cb
	if _, ok := c.status[profile.AgentID]; !ok {
		c.status[profile.AgentID] = StatusAvailable
	}
}

// SetStatus transitions an agent's status. Transitioning to offline or
// maintenance preserves any queued pending events; they resume delivery once
// the agent becomes available again (the controller never drops a queue on
// an offline transition).
func (c *Controller) SetStatus(agentID ident.AgentID, status AgentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[agentID] = status
}

// Status reports an agent's current status; unknown agents report offline.
func (c *Controller) Status(agentID ident.AgentID) AgentStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.status[agentID]
	if !ok {
		return StatusOffline
	}
	return st
}

// RequestWake implements the wake-request handling algorithm of §4.7:
//
//   - unknown agent id: dropped
//   - available agent: transitions to busy, delivers immediately
//   - busy agent: enqueues the event in priority order
//   - offline/maintenance agent: routed to a capable substitute, or enqueued
//     on the original agent if no substitute is available
func (c *Controller) RequestWake(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
	c.mu.Lock()
	status, known := c.status[agentID]
	if !known {
		c.mu.Unlock()
		c.logger.Warn(ctx, "wake: dropping event for unknown agent", "agent_id", string(agentID), "event_id", string(event.ID))
		return
	}

	switch status {
	case StatusAvailable:
		c.status[agentID] = StatusBusy
		ev := event
		c.current[agentID] = &ev
		cb := c.callback[agentID]
		c.mu.Unlock()
		if cb != nil {
			cb(ctx, agentID, event)
		}
		return
	case StatusBusy:
		c.enqueueLocked(agentID, event)
		c.mu.Unlock()
		return
	default: // offline or maintenance
		target, ok := c.routeToCapableAgentLocked(agentID, event)
		if !ok {
			c.enqueueLocked(agentID, event)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.RequestWake(ctx, target, event)
		return
	}
}

func (c *Controller) enqueueLocked(agentID ident.AgentID, event eventbus.TriggerEvent) {
	c.seq++
	c.pending[agentID] = append(c.pending[agentID], pendingEvent{event: event, seq: c.seq})
}

// CompleteEvent marks the agent's current event as finished. If events are
// pending, the highest-priority one (oldest among ties) is popped and
// delivered immediately, leaving the agent busy; otherwise the agent
// transitions to available.
func (c *Controller) CompleteEvent(ctx context.Context, agentID ident.AgentID) {
	c.mu.Lock()
	delete(c.current, agentID)

	queue := c.pending[agentID]
	if len(queue) == 0 {
		c.status[agentID] = StatusAvailable
		c.mu.Unlock()
		return
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].event.Priority != queue[j].event.Priority {
			return queue[i].event.Priority > queue[j].event.Priority
		}
		return queue[i].seq < queue[j].seq
	})
	next := queue[0]
	c.pending[agentID] = queue[1:]
	c.status[agentID] = StatusBusy
	ev := next.event
	c.current[agentID] = &ev
	cb := c.callback[agentID]
	c.mu.Unlock()

	if cb != nil {
		cb(ctx, agentID, next.event)
	}
}

// PendingCount reports how many events are queued for agentID.
func (c *Controller) PendingCount(agentID ident.AgentID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[agentID])
}

// routeToCapableAgentLocked implements route-to-capable-agent: among
// registered agents (other than the original) that are available, it picks
// the one with the largest capability overlap with the event's declared
// requirements (event.Metadata["requires-capability"], comma-free single
// value per event), breaking ties by highest trust then lowest agent id. If
// none qualify it falls back to route-to-concierge. Must be called with the
// lock held.
func (c *Controller) routeToCapableAgentLocked(originalAgentID ident.AgentID, event eventbus.TriggerEvent) (ident.AgentID, bool) {
	required := event.Metadata["requires-capability"]

	type candidate struct {
		id       ident.AgentID
		overlap  int
		trust    ident.TrustLevel
	}
	var candidates []candidate
	for id, profile := range c.profiles {
		if id == originalAgentID {
			continue
		}
		if c.status[id] != StatusAvailable {
			continue
		}
		overlap := 0
		if required != "" {
			if _, ok := profile.Capabilities[required]; ok {
				overlap = 1
			} else {
				continue
			}
		}
		candidates = append(candidates, candidate{id: id, overlap: overlap, trust: profile.Trust})
	}
	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].overlap != candidates[j].overlap {
				return candidates[i].overlap > candidates[j].overlap
			}
			if candidates[i].trust != candidates[j].trust {
				return candidates[i].trust > candidates[j].trust
			}
			return candidates[i].id < candidates[j].id
		})
		return candidates[0].id, true
	}

	return c.routeToConciergeLocked(originalAgentID)
}

// routeToConciergeLocked implements route-to-concierge: the lowest-id
// available agent whose RoleProfile is "concierge". Must be called with the
// lock held.
func (c *Controller) routeToConciergeLocked(originalAgentID ident.AgentID) (ident.AgentID, bool) {
	var best ident.AgentID
	found := false
	for id, profile := range c.profiles {
		if id == originalAgentID || profile.RoleProfile != "concierge" {
			continue
		}
		if c.status[id] != StatusAvailable {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}
