// Package workspace implements the non-destructive write model: agent
// mutations land in a staging area scoped by (agent, workspace) and are
// committed into a versioned, content-addressed history log with
// per-document lineage.
package workspace

import (
	"errors"
	"time"

	"github.com/orchardhq/orchard/ident"
)

// ChangeType is the kind of mutation a StagedChange represents.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeModify ChangeType = "modify"
	ChangeDelete ChangeType = "delete"
)

// Workspace is a versioned collaboration space rooted at LocalPath, with
// an owner and a map of contributors. It has no remote field; a workspace
// exists only on local disk.
type Workspace struct {
	ID             ident.WorkspaceID
	Name           string
	Description    string
	Owner          ident.AgentID
	LocalPath      string
	ContributorMap map[ident.AgentID]string
	Version        int
}

// StagedChange is a pending, discardable, workspace-scoped mutation
// submitted by exactly one agent against one path.
type StagedChange struct {
	ID          ident.ChangeID
	AgentID     ident.AgentID
	WorkspaceID ident.WorkspaceID
	Path        string
	ChangeType  ChangeType
	Document    Document
	StagedAt    time.Time
	Preview     string
}

// ErrStagingConflict is returned when a submission collides with an
// already-staged change under the conflict policy.
var ErrStagingConflict = errors.New("workspace: staging conflict")

// StagingConflictError names the two colliding changes so the caller can
// surface both versions to the submitting agents.
type StagingConflictError struct {
	Path     string
	Existing StagedChange
	Incoming StagedChange
	Reason   string
}

func (e *StagingConflictError) Error() string {
	return "workspace: staging conflict on " + e.Path + ": " + e.Reason
}

func (e *StagingConflictError) Unwrap() error { return ErrStagingConflict }

// ErrChangeNotFound is returned by Commit/Discard when a change id does
// not correspond to a currently staged change.
var ErrChangeNotFound = errors.New("workspace: staged change not found")
