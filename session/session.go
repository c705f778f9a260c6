// Package session tracks the durable session/run/turn hierarchy above a
// single agent loop invocation: a Session groups related runs into one
// conversation or long-lived task; each Run is one execution of the
// turn engine; TurnID groups the events a single run produces for
// timeline display.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/orchardhq/orchard/ident"
)

type (
	// Session is the first-class conversational container. Runs always
	// belong to a session; session lifecycle is explicit and independent
	// of any one run's lifecycle.
	Session struct {
		ID        ident.SessionID
		Status    Status
		CreatedAt time.Time
		EndedAt   *time.Time
	}

	// RunMeta is the durable record of one turn-engine invocation.
	RunMeta struct {
		RunID     ident.RunID
		AgentID   ident.AgentID
		SessionID ident.SessionID
		TurnID    ident.TurnID
		Status    RunStatus
		StartedAt time.Time
		UpdatedAt time.Time
		Labels    map[string]string
		Metadata  map[string]any
	}

	// Status is the lifecycle state of a Session.
	Status string

	// RunStatus is the lifecycle state of a Run.
	RunStatus string

	// Store persists session lifecycle state and run metadata. Failures
	// are returned to callers rather than silently dropped; the runtime
	// logs them and still runs the turn.
	Store interface {
		// CreateSession creates (or returns, idempotently) an active
		// session. Returns ErrSessionEnded if the session exists and is
		// terminal.
		CreateSession(ctx context.Context, id ident.SessionID, createdAt time.Time) (Session, error)
		// LoadSession returns ErrSessionNotFound if id is unknown.
		LoadSession(ctx context.Context, id ident.SessionID) (Session, error)
		// EndSession is idempotent: ending an already-ended session
		// returns its stored terminal state without error.
		EndSession(ctx context.Context, id ident.SessionID, endedAt time.Time) (Session, error)

		UpsertRun(ctx context.Context, run RunMeta) error
		// LoadRun returns ErrRunNotFound if runID is unknown.
		LoadRun(ctx context.Context, runID ident.RunID) (RunMeta, error)
		// ListRunsBySession filters to statuses when non-empty.
		ListRunsBySession(ctx context.Context, sessionID ident.SessionID, statuses []RunStatus) ([]RunMeta, error)
	}
)

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"

	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionEnded    = errors.New("session: ended")
	ErrRunNotFound     = errors.New("session: run not found")
)
