// Package reminder defines run-scoped system reminders injected into a
// turn's prompt: safety, correctness, and workflow guidance that the agent
// loop surfaces to the provider without the caller embedding it in every
// message by hand. The package only tracks lifetime (per-run caps and
// round-spacing); rendering the reminder text into a message is the
// caller's job.
package reminder

import (
	"sort"
	"sync"

	"github.com/orchardhq/orchard/ident"
)

// Tier controls injection precedence and whether a reminder can be
// suppressed under a per-run cap.
type Tier int

const (
	// TierSafety reminders are never suppressed by MaxPerRun; only
	// MinRoundsBetween spacing still applies.
	TierSafety Tier = iota
	// TierCorrectness carries workflow-correctness guidance.
	TierCorrectness
	// TierGuidance carries the lowest-precedence soft nudges, ordered last
	// in Next's output.
	TierGuidance
)

// Reminder describes guidance to inject into a run's next round.
type Reminder struct {
	// ID identifies this reminder within a run for de-duplication and rate
	// limiting; callers should pick stable, deterministic IDs.
	ID   string
	Text string

	Priority Tier

	// MaxPerRun caps how many rounds may receive this reminder. Zero means
	// unlimited; TierSafety ignores this field.
	MaxPerRun int
	// MinRoundsBetween enforces a minimum number of rounds between
	// emissions. Zero means no spacing requirement.
	MinRoundsBetween int
}

// Engine tracks per-run reminder state across rounds. Engines are safe for
// concurrent use.
type Engine struct {
	mu   sync.Mutex
	runs map[ident.RunID]*runState
}

type runState struct {
	reminders map[string]*reminderState
	round     int
}

type reminderState struct {
	reminder  Reminder
	emitted   int
	lastRound int
}

// NewEngine constructs an empty Engine.
func NewEngine() *Engine {
	return &Engine{runs: make(map[ident.RunID]*runState)}
}

// Add registers or replaces a reminder for runID, preserving emission
// counters when a reminder with the same ID already exists so rate limiting
// continues to apply across the replacement.
func (e *Engine) Add(runID ident.RunID, r Reminder) {
	if runID == "" || r.ID == "" || r.Text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rs := e.ensureRunLocked(runID)
	if st, ok := rs.reminders[r.ID]; ok {
		st.reminder = r
		return
	}
	rs.reminders[r.ID] = &reminderState{reminder: r}
}

// Remove drops a reminder from a run. It is a no-op when unknown.
func (e *Engine) Remove(runID ident.RunID, id string) {
	if runID == "" || id == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if rs, ok := e.runs[runID]; ok {
		delete(rs.reminders, id)
	}
}

// Next returns the reminders that should be injected into the next round,
// ordered by priority tier (safety first) then ID. It advances the run's
// round counter and updates emission bookkeeping; call it at most once per
// round. Returns nil when the run is unknown or has nothing to emit.
func (e *Engine) Next(runID ident.RunID) []Reminder {
	if runID == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.runs[runID]
	if !ok || len(rs.reminders) == 0 {
		return nil
	}
	rs.round++
	round := rs.round

	out := make([]Reminder, 0, len(rs.reminders))
	for _, st := range rs.reminders {
		if !shouldEmit(st, round) {
			continue
		}
		st.emitted++
		st.lastRound = round
		out = append(out, st.reminder)
	}
	if len(out) == 0 {
		return nil
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ClearRun drops all reminder state for a run, e.g. once it completes.
func (e *Engine) ClearRun(runID ident.RunID) {
	if runID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, runID)
}

func (e *Engine) ensureRunLocked(runID ident.RunID) *runState {
	rs, ok := e.runs[runID]
	if ok {
		return rs
	}
	rs = &runState{reminders: make(map[string]*reminderState)}
	e.runs[runID] = rs
	return rs
}

func shouldEmit(st *reminderState, round int) bool {
	r := st.reminder
	if r.MaxPerRun > 0 && st.emitted >= r.MaxPerRun && r.Priority != TierSafety {
		return false
	}
	if r.MinRoundsBetween > 0 && st.lastRound > 0 {
		if delta := round - st.lastRound; delta >= 0 && delta < r.MinRoundsBetween {
			return false
		}
	}
	return true
}
