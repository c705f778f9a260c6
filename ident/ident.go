// Package ident provides opaque, equality-comparable identifier and
// totally-ordered value types shared across every orchard component.
package ident

import "github.com/google/uuid"

type (
	// AgentID identifies a persistent agent identity.
	AgentID string
	// EventID identifies a single immutable trigger event.
	EventID string
	// SourceID identifies a registered event source.
	SourceID string
	// ToolCallID identifies one tool invocation within a turn.
	ToolCallID string
	// WorkspaceID identifies a versioned workspace.
	WorkspaceID string
	// DocumentID identifies a document within a workspace.
	DocumentID string
	// ChangeID identifies a staged change.
	ChangeID string
	// CommitID identifies a commit in a workspace's history log.
	CommitID string
	// SessionID groups a sequence of runs into one conversation.
	SessionID string
	// RunID identifies one workflow execution of the agent loop.
	RunID string
	// TurnID identifies one conversational turn within a run.
	TurnID string
)

func newID() string { return uuid.New().String() }

// NewAgentID generates a fresh random AgentID.
func NewAgentID() AgentID { return AgentID(newID()) }

// NewEventID generates a fresh random EventID.
func NewEventID() EventID { return EventID(newID()) }

// NewSourceID generates a fresh random SourceID.
func NewSourceID() SourceID { return SourceID(newID()) }

// NewToolCallID generates a fresh random ToolCallID.
func NewToolCallID() ToolCallID { return ToolCallID(newID()) }

// NewWorkspaceID generates a fresh random WorkspaceID.
func NewWorkspaceID() WorkspaceID { return WorkspaceID(newID()) }

// NewDocumentID generates a fresh random DocumentID.
func NewDocumentID() DocumentID { return DocumentID(newID()) }

// NewChangeID generates a fresh random ChangeID.
func NewChangeID() ChangeID { return ChangeID(newID()) }

// NewCommitID generates a fresh random CommitID.
func NewCommitID() CommitID { return CommitID(newID()) }

// NewSessionID generates a fresh random SessionID.
func NewSessionID() SessionID { return SessionID(newID()) }

// NewRunID generates a fresh random RunID.
func NewRunID() RunID { return RunID(newID()) }

// NewTurnID generates a fresh random TurnID.
func NewTurnID() TurnID { return TurnID(newID()) }
