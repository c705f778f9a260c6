package eventbus

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/telemetry"
)

// WakeFunc is invoked once per matching (agent, event) pair at dispatch
// time. If unset, Bus logs and drops dispatched events (documented data
// loss while unconfigured).
type WakeFunc func(ctx context.Context, agentID ident.AgentID, event TriggerEvent)

// Bus is the concrete Event Bus (C6): it owns every registered source and
// its listener task, holds the per-agent subscription list, the history
// ring, and fans out dispatches to a WakeFunc.
type Bus struct {
	logger telemetry.Logger
	wake   WakeFunc

	mu            sync.Mutex
	sources       map[ident.SourceID]Source
	cancelByID    map[ident.SourceID]context.CancelFunc
	subscriptions map[ident.AgentID][]Subscription
	history       *ring
	mirror        Mirror
}

// New constructs a Bus with the given history ring capacity (0 uses the
// documented default of 1000).
func New(logger telemetry.Logger, ringCapacity int) *Bus {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Bus{
		logger:        logger,
		sources:       make(map[ident.SourceID]Source),
		cancelByID:    make(map[ident.SourceID]context.CancelFunc),
		subscriptions: make(map[ident.AgentID][]Subscription),
		history:       newRing(ringCapacity),
	}
}

// SetWakeFunc installs the callback invoked for each matching dispatch.
func (b *Bus) SetWakeFunc(fn WakeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wake = fn
}

// Subscribe registers sub for its agent. An agent may hold multiple
// subscriptions.
func (b *Bus) Subscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions[sub.AgentID] = append(b.subscriptions[sub.AgentID], sub)
}

// Unsubscribe removes every subscription registered for agentID.
func (b *Bus) Unsubscribe(agentID ident.AgentID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, agentID)
}

// backoffSchedule implements the documented retry schedule for
// TransientUnavailable start failures: initial 2s, cap 60s, multiplicative
// factor 2. Each delay is adjusted by jitter before it is used.
func backoffSchedule() []time.Duration {
	var schedule []time.Duration
	d := 2 * time.Second
	for d < 60*time.Second {
		schedule = append(schedule, d)
		d *= 2
	}
	schedule = append(schedule, 60*time.Second)
	return schedule
}

// Register assigns ownership of src to the bus, calls Start, and — on
// success — spawns a listener task that dispatches every event the source
// emits. If Start fails with StartTransientUnavailable the bus retries with
// exponential backoff; any other Start error (StartAccessDenied included) is
// returned at once without retry. The bus does not change the source's
// state itself; a source reports its own Error state.
func (b *Bus) Register(ctx context.Context, src Source) error {
	listenerCtx, cancel := context.WithCancel(ctx)

	if err := b.startWithRetry(ctx, src); err != nil {
		cancel()
		return err
	}

	b.mu.Lock()
	b.sources[src.ID()] = src
	b.cancelByID[src.ID()] = cancel
	b.mu.Unlock()

	go b.listen(listenerCtx, src)
	return nil
}

func (b *Bus) startWithRetry(ctx context.Context, src Source) error {
	err := src.Start(ctx)
	if err == nil {
		return nil
	}
	serr, ok := err.(*Error)
	if !ok || serr.Kind != StartTransientUnavailable {
		return err
	}
	for _, delay := range backoffSchedule() {
		jittered := jitter(delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}
		err = src.Start(ctx)
		if err == nil {
			return nil
		}
		serr, ok = err.(*Error)
		if !ok || serr.Kind != StartTransientUnavailable {
			return err
		}
	}
	return err
}

func jitter(d time.Duration) time.Duration {
	// Deterministic jitter within ±20%: uses the duration's own low bits
	// rather than a random source so retries stay reproducible. The offset
	// lies in [-10%, +6%] of d; for whole-second delays d%5 is 0, so every
	// delay of the schedule is shortened by exactly 10%.
	frac := float64(d%5) / 25.0 // in [0, 0.16]
	return d + time.Duration(float64(d)*(frac-0.1))
}

func (b *Bus) listen(ctx context.Context, src Source) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-src.Events():
			if !ok {
				return
			}
			b.dispatch(ctx, event)
		}
	}
}

// Dispatch is exported for sources whose events are delivered out-of-band
// from the listener goroutine (e.g. a push-only notification source).
func (b *Bus) Dispatch(ctx context.Context, event TriggerEvent) {
	b.dispatch(ctx, event)
}

// dispatch appends event to the history ring, finds every agent with a
// matching subscription, de-duplicates so one event wakes an agent at most
// once, sorts by subscription priority descending with a stable tiebreak on
// agent id, and invokes the wake callback for each.
func (b *Bus) dispatch(ctx context.Context, event TriggerEvent) {
	b.mirrorEvent(ctx, event)

	b.mu.Lock()
	b.history.Push(event)
	wake := b.wake

	type matched struct {
		agentID  ident.AgentID
		priority ident.SubscriptionPriority
	}
	seen := map[ident.AgentID]ident.SubscriptionPriority{}
	for agentID, subs := range b.subscriptions {
		for _, sub := range subs {
			if !sub.Filter.Matches(event) {
				continue
			}
			if cur, ok := seen[agentID]; !ok || sub.Priority > cur {
				seen[agentID] = sub.Priority
			}
		}
	}
	b.mu.Unlock()

	if wake == nil {
		b.logger.Warn(ctx, "eventbus: no wake callback configured, dropping dispatch", "event_id", string(event.ID))
		return
	}

	recipients := make([]matched, 0, len(seen))
	for agentID, priority := range seen {
		recipients = append(recipients, matched{agentID, priority})
	}
	sort.Slice(recipients, func(i, j int) bool {
		if recipients[i].priority != recipients[j].priority {
			return recipients[i].priority > recipients[j].priority
		}
		return recipients[i].agentID < recipients[j].agentID
	})

	for _, r := range recipients {
		wake(ctx, r.agentID, event)
	}
}

// Unregister stops src, cancels its listener task, and removes it from the
// bus. In-flight dispatches already passed to the wake handler are not
// cancelled.
func (b *Bus) Unregister(ctx context.Context, id ident.SourceID) error {
	b.mu.Lock()
	src, ok := b.sources[id]
	cancel := b.cancelByID[id]
	if ok {
		delete(b.sources, id)
		delete(b.cancelByID, id)
	}
	b.mu.Unlock()

	if !ok {
		return ErrUnknownSource
	}
	err := src.Stop(ctx)
	if cancel != nil {
		cancel()
	}
	return err
}

// History returns a snapshot of the bounded event ring, oldest first.
func (b *Bus) History() []TriggerEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Snapshot()
}
