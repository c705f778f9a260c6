// Package runtime wires the core components together: the Event Bus
// dispatches external events to the Wake Controller, which awakens the
// Agent Loop for the target agent; completed turns report back so the
// controller can advance to the next queued event.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/orchardhq/orchard/eventbus"
	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/memory"
	"github.com/orchardhq/orchard/model"
	"github.com/orchardhq/orchard/reminder"
	"github.com/orchardhq/orchard/session"
	"github.com/orchardhq/orchard/telemetry"
	"github.com/orchardhq/orchard/turn"
	"github.com/orchardhq/orchard/wake"
)

// AgentConfig is everything the runtime needs to drive one registered
// agent's turn-engine invocations.
type AgentConfig struct {
	Profile wake.Profile
	// Domain is the trust/capability domain passed to the approval
	// governor for this agent's tool calls (e.g. "filesystem", "calendar").
	Domain string
	Tools  []*model.ToolDefinition
	Route  model.RouteRequest
	// BuildMessages turns a triggering event into the initial message
	// sequence sent to the provider for this turn.
	BuildMessages func(eventbus.TriggerEvent) []*model.Message
	// Memory, when set, backs this agent's turns with prior-run history.
	Memory memory.Reader
}

// Runtime owns the Event Bus, Wake Controller, and Agent Loop runner and
// connects them per the documented control/data flow: events enter
// through the bus, are dispatched to the wake controller, which awakens
// the agent loop; the loop's completion reports back so the controller
// can advance to the agent's next queued event.
type Runtime struct {
	bus       *eventbus.Bus
	wake      *wake.Controller
	runner    *turn.Runner
	logger    telemetry.Logger
	sess      session.Store
	reminders *reminder.Engine
	agents    map[ident.AgentID]AgentConfig
}

// New constructs a Runtime. sess may be nil to skip session/run
// bookkeeping. reminders may be nil to skip system-reminder injection.
func New(bus *eventbus.Bus, wakeCtrl *wake.Controller, runner *turn.Runner, sess session.Store, reminders *reminder.Engine, logger telemetry.Logger) *Runtime {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	rt := &Runtime{
		bus:       bus,
		wake:      wakeCtrl,
		runner:    runner,
		logger:    logger,
		sess:      sess,
		reminders: reminders,
		agents:    make(map[ident.AgentID]AgentConfig),
	}
	bus.SetWakeFunc(wakeCtrl.RequestWake)
	return rt
}

// RegisterAgent makes an agent known to both the wake controller and this
// runtime's turn-dispatch table.
func (rt *Runtime) RegisterAgent(cfg AgentConfig) {
	rt.agents[cfg.Profile.AgentID] = cfg
	rt.wake.RegisterAgent(cfg.Profile, rt.dispatchTurn)
}

// dispatchTurn is the wake.WakeCallback invoked when the controller
// awakens agentID with event. It runs the agent loop to completion (in
// its own goroutine, so the controller's dispatch never blocks) and
// reports back via CompleteEvent so the controller can pop the next
// queued event for this agent.
func (rt *Runtime) dispatchTurn(ctx context.Context, agentID ident.AgentID, event eventbus.TriggerEvent) {
	go func() {
		defer rt.wake.CompleteEvent(context.Background(), agentID)

		cfg, ok := rt.agents[agentID]
		if !ok {
			rt.logger.Warn(ctx, "runtime: dispatch for unregistered agent", "agent_id", string(agentID))
			return
		}

		runID := ident.NewRunID()
		sessionID := ident.NewSessionID()
		turnID := ident.NewTurnID()
		if rt.sess != nil {
			if _, err := rt.sess.CreateSession(ctx, sessionID, time.Now()); err != nil {
				rt.logger.Error(ctx, "runtime: create session", "error", err.Error())
			}
			rt.recordRun(ctx, runID, agentID, sessionID, turnID, session.RunStatusRunning)
		}

		var messages []*model.Message
		if cfg.BuildMessages != nil {
			messages = cfg.BuildMessages(event)
		}

		in := turn.Input{
			AgentID:     agentID,
			WorkspaceID: workspaceFromEvent(event),
			Domain:      cfg.Domain,
			Messages:    messages,
			Tools:       cfg.Tools,
			Route:       cfg.Route,
			Memory:      cfg.Memory,
			RunID:       runID,
			Reminders:   rt.reminders,
		}

		_, err := rt.runner.Run(ctx, in, func(context.Context, turn.Progress) {})
		status := session.RunStatusCompleted
		if err != nil {
			status = session.RunStatusFailed
			rt.logger.Error(ctx, "runtime: turn failed", "agent_id", string(agentID), "error", err.Error())
		}
		if rt.reminders != nil {
			rt.reminders.ClearRun(runID)
		}
		if rt.sess != nil {
			rt.recordRun(ctx, runID, agentID, sessionID, turnID, status)
		}
	}()
}

func (rt *Runtime) recordRun(ctx context.Context, runID ident.RunID, agentID ident.AgentID, sessionID ident.SessionID, turnID ident.TurnID, status session.RunStatus) {
	err := rt.sess.UpsertRun(ctx, session.RunMeta{
		RunID:     runID,
		AgentID:   agentID,
		SessionID: sessionID,
		TurnID:    turnID,
		Status:    status,
	})
	if err != nil {
		rt.logger.Error(ctx, "runtime: upsert run", "error", err.Error())
	}
}

func workspaceFromEvent(event eventbus.TriggerEvent) ident.WorkspaceID {
	if event.Metadata == nil {
		return ""
	}
	return ident.WorkspaceID(event.Metadata["workspace-id"])
}

// RegisterSource starts src and registers it with the bus, retrying
// transient startup failures per the bus's documented backoff schedule.
func (rt *Runtime) RegisterSource(ctx context.Context, src eventbus.Source) error {
	if err := rt.bus.Register(ctx, src); err != nil {
		return fmt.Errorf("runtime: register source %s: %w", src.Name(), err)
	}
	return nil
}
