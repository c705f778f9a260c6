package workspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchardhq/orchard/ident"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), ident.AgentID("owner"))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestStageCommitDiscardRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	a1 := ident.AgentID("a1")

	doc := Document{ID: ident.NewDocumentID(), Title: "Doc 42", Blocks: []Block{TextBlock{Text: "hello"}}}
	change, err := e.Stage(a1, "doc42.md", ChangeCreate, doc)
	require.NoError(t, err)

	commit, err := e.Commit([]ident.ChangeID{change.ID}, a1, "create doc42")
	require.NoError(t, err)
	require.Empty(t, commit.Parent)
	require.Equal(t, []string{"doc42.md"}, commit.ChangedPaths)

	history, err := e.History("doc42.md", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, commit.ID, history[0].ID)
}

func TestDiscardLeavesWorkspaceUnchanged(t *testing.T) {
	e := openTestEngine(t)
	a1 := ident.AgentID("a1")

	doc := Document{ID: ident.NewDocumentID(), Blocks: []Block{TextBlock{Text: "draft"}}}
	change, err := e.Stage(a1, "draft.md", ChangeCreate, doc)
	require.NoError(t, err)

	require.NoError(t, e.Discard([]ident.ChangeID{change.ID}))

	history, err := e.History("draft.md", 10)
	require.NoError(t, err)
	require.Empty(t, history)
	require.Empty(t, e.staged)
}

// TestStagingConflictRejected implements the documented scenario: agent
// A1 stages a modify of doc42, agent A2 stages a delete of doc42. A2's
// submission must be rejected with StagingConflict, the document
// unchanged, and A1's change left staged.
func TestStagingConflictRejected(t *testing.T) {
	e := openTestEngine(t)
	a1, a2 := ident.AgentID("a1"), ident.AgentID("a2")

	base := Document{ID: ident.NewDocumentID(), Blocks: []Block{TextBlock{Text: "B1"}, TextBlock{Text: "B2"}}}
	created, err := e.Stage(a1, "doc42.md", ChangeCreate, base)
	require.NoError(t, err)
	_, err = e.Commit([]ident.ChangeID{created.ID}, a1, "seed doc42")
	require.NoError(t, err)

	modified := Document{ID: base.ID, Blocks: []Block{TextBlock{Text: "B1 edited"}, TextBlock{Text: "B2"}}}
	a1Change, err := e.Stage(a1, "doc42.md", ChangeModify, modified)
	require.NoError(t, err)

	_, err = e.Stage(a2, "doc42.md", ChangeDelete, Document{})
	require.ErrorIs(t, err, ErrStagingConflict)

	require.Len(t, e.staged["doc42.md"], 1)
	require.Equal(t, a1Change.ID, e.staged["doc42.md"][0].ID)
}

func TestConcurrentCreateOfSamePathRejected(t *testing.T) {
	e := openTestEngine(t)
	a1, a2 := ident.AgentID("a1"), ident.AgentID("a2")

	doc := Document{ID: ident.NewDocumentID(), Blocks: []Block{TextBlock{Text: "v1"}}}
	_, err := e.Stage(a1, "new.md", ChangeCreate, doc)
	require.NoError(t, err)

	_, err = e.Stage(a2, "new.md", ChangeCreate, doc)
	require.ErrorIs(t, err, ErrStagingConflict)
}

func TestNonOverlappingModifyMergesTrivially(t *testing.T) {
	e := openTestEngine(t)
	a1, a2 := ident.AgentID("a1"), ident.AgentID("a2")

	base := Document{ID: ident.NewDocumentID(), Blocks: []Block{TextBlock{Text: "B1"}, TextBlock{Text: "B2"}}}
	created, err := e.Stage(a1, "doc.md", ChangeCreate, base)
	require.NoError(t, err)
	_, err = e.Commit([]ident.ChangeID{created.ID}, a1, "seed")
	require.NoError(t, err)

	editB1 := Document{ID: base.ID, Blocks: []Block{TextBlock{Text: "B1 by a1"}, TextBlock{Text: "B2"}}}
	_, err = e.Stage(a1, "doc.md", ChangeModify, editB1)
	require.NoError(t, err)

	editB2 := Document{ID: base.ID, Blocks: []Block{TextBlock{Text: "B1"}, TextBlock{Text: "B2 by a2"}}}
	mergedChange, err := e.Stage(a2, "doc.md", ChangeModify, editB2)
	require.NoError(t, err)

	require.Equal(t, "B1 by a1", mergedChange.Document.Blocks[0].(TextBlock).Text)
	require.Equal(t, "B2 by a2", mergedChange.Document.Blocks[1].(TextBlock).Text)
}

func TestOverlappingModifyRejected(t *testing.T) {
	e := openTestEngine(t)
	a1, a2 := ident.AgentID("a1"), ident.AgentID("a2")

	base := Document{ID: ident.NewDocumentID(), Blocks: []Block{TextBlock{Text: "B1"}}}
	created, err := e.Stage(a1, "doc.md", ChangeCreate, base)
	require.NoError(t, err)
	_, err = e.Commit([]ident.ChangeID{created.ID}, a1, "seed")
	require.NoError(t, err)

	editA := Document{ID: base.ID, Blocks: []Block{TextBlock{Text: "B1 by a1"}}}
	_, err = e.Stage(a1, "doc.md", ChangeModify, editA)
	require.NoError(t, err)

	editB := Document{ID: base.ID, Blocks: []Block{TextBlock{Text: "B1 by a2"}}}
	_, err = e.Stage(a2, "doc.md", ChangeModify, editB)
	require.ErrorIs(t, err, ErrStagingConflict)
}

func TestCommitRejectsUnknownChangeID(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Commit([]ident.ChangeID{ident.NewChangeID()}, ident.AgentID("a1"), "nope")
	require.ErrorIs(t, err, ErrChangeNotFound)
}
