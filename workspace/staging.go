package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orchardhq/orchard/ident"
)

type metaFile struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Owner       string `yaml:"owner"`
	Version     int    `yaml:"version"`
}

// Engine is the staging area and history log for a single workspace
// directory on disk. It exclusively owns the staging area; the embedded
// History exclusively owns the commit log. Callers never touch the
// workspace's files directly — every mutation is submitted as a
// StagedChange and lands only through Commit.
type Engine struct {
	mu sync.Mutex

	root    string
	ws      Workspace
	history *History

	// staged holds every currently staged change, keyed by path, in
	// submission order. Multiple non-conflicting modify changes to the
	// same path can coexist pending merge at commit time.
	staged map[string][]StagedChange
	// docs is the committed document snapshot, keyed by path.
	docs map[string]Document
}

// Open opens (creating if necessary) the workspace rooted at dir,
// loading its metadata, document snapshot, and history log.
func Open(dir string, owner ident.AgentID) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	metaDir := filepath.Join(dir, ".meta")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create .meta: %w", err)
	}
	metaPath := filepath.Join(metaDir, "workspace.yaml")

	var mf metaFile
	if raw, err := os.ReadFile(metaPath); err == nil {
		if err := yaml.Unmarshal(raw, &mf); err != nil {
			return nil, fmt.Errorf("workspace: parse workspace.yaml: %w", err)
		}
	} else if os.IsNotExist(err) {
		mf = metaFile{Name: filepath.Base(dir), Owner: string(owner), Version: 1}
		raw, err := yaml.Marshal(mf)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
			return nil, fmt.Errorf("workspace: write workspace.yaml: %w", err)
		}
	} else {
		return nil, fmt.Errorf("workspace: read workspace.yaml: %w", err)
	}

	hist, err := OpenHistory(filepath.Join(dir, ".history", "commits.db"))
	if err != nil {
		return nil, err
	}

	e := &Engine{
		root: dir,
		ws: Workspace{
			ID:        ident.NewWorkspaceID(),
			Name:      mf.Name,
			Owner:     ident.AgentID(mf.Owner),
			LocalPath: dir,
			Version:   mf.Version,
		},
		history: hist,
		staged:  make(map[string][]StagedChange),
		docs:    make(map[string]Document),
	}
	if err := e.loadDocuments(); err != nil {
		hist.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the underlying history database.
func (e *Engine) Close() error { return e.history.Close() }

func (e *Engine) loadDocuments() error {
	entries, err := os.ReadDir(e.root)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(e.root, entry.Name()))
		if err != nil {
			return err
		}
		doc, err := DecodeDocument(raw)
		if err != nil {
			return fmt.Errorf("workspace: decode %s: %w", entry.Name(), err)
		}
		e.docs[entry.Name()] = doc
	}
	return nil
}

// Stage submits a mutation against path for agentID, applying the
// conflict policy against every change already staged for that path.
func (e *Engine) Stage(agentID ident.AgentID, path string, changeType ChangeType, doc Document) (StagedChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existing := e.staged[path]
	merged := doc
	for _, prior := range existing {
		switch {
		case changeType == ChangeCreate && prior.ChangeType == ChangeCreate:
			return StagedChange{}, &StagingConflictError{Path: path, Existing: prior, Reason: "both changes create the same path"}
		case changeType == ChangeDelete && prior.ChangeType != ChangeDelete:
			return StagedChange{}, &StagingConflictError{Path: path, Existing: prior, Reason: "delete conflicts with a pending non-delete change"}
		case changeType != ChangeDelete && prior.ChangeType == ChangeDelete:
			return StagedChange{}, &StagingConflictError{Path: path, Existing: prior, Reason: "change conflicts with a pending delete"}
		case changeType == ChangeModify && prior.ChangeType == ChangeModify:
			mergedBlocks, ok := mergeBlocks(e.docs[path].Blocks, prior.Document.Blocks, merged.Blocks)
			if !ok {
				return StagedChange{}, &StagingConflictError{Path: path, Existing: prior, Reason: "overlapping block modification"}
			}
			merged.Blocks = mergedBlocks
		}
	}

	change := StagedChange{
		ID:          ident.NewChangeID(),
		AgentID:     agentID,
		WorkspaceID: e.ws.ID,
		Path:        path,
		ChangeType:  changeType,
		Document:    merged,
		StagedAt:    time.Now(),
		Preview:     previewDocument(merged),
	}
	if err := e.writeStagingFile(change); err != nil {
		return StagedChange{}, err
	}
	e.staged[path] = append(existing, change)
	return change, nil
}

func previewDocument(doc Document) string {
	if len(doc.Blocks) == 0 {
		return ""
	}
	return encodeBlock(doc.Blocks[0])
}

func (e *Engine) stagingDir(change StagedChange) string {
	return filepath.Join(e.root, ".staging", string(change.AgentID), string(change.ID))
}

func (e *Engine) writeStagingFile(change StagedChange) error {
	dir := e.stagingDir(change)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: create staging dir: %w", err)
	}
	if change.ChangeType == ChangeDelete {
		return nil
	}
	raw, err := EncodeDocument(change.Document)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "document.md"), raw, 0o644)
}

// Discard removes staged changes with no effect on the workspace.
func (e *Engine) Discard(changeIDs []ident.ChangeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.discardLocked(changeIDs)
}

func (e *Engine) discardLocked(changeIDs []ident.ChangeID) error {
	for _, id := range changeIDs {
		found := false
		for path, list := range e.staged {
			for i, c := range list {
				if c.ID != id {
					continue
				}
				found = true
				os.RemoveAll(e.stagingDir(c))
				e.staged[path] = append(list[:i], list[i+1:]...)
				if len(e.staged[path]) == 0 {
					delete(e.staged, path)
				}
				break
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrChangeNotFound, id)
		}
	}
	return nil
}

// Commit validates and atomically applies the named staged changes to
// the workspace, then appends one commit to the history log. A commit
// succeeds entirely or not at all.
func (e *Engine) Commit(changeIDs []ident.ChangeID, author ident.AgentID, message string) (Commit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	changes := make([]StagedChange, 0, len(changeIDs))
	seenPaths := make(map[string]bool)
	for _, id := range changeIDs {
		c, ok := e.findStagedLocked(id)
		if !ok {
			return Commit{}, fmt.Errorf("%w: %s", ErrChangeNotFound, id)
		}
		if seenPaths[c.Path] {
			return Commit{}, &StagingConflictError{Path: c.Path, Existing: c, Reason: "commit batch touches the same path twice"}
		}
		seenPaths[c.Path] = true
		changes = append(changes, c)
	}

	for _, c := range changes {
		if err := e.applyChange(c); err != nil {
			return Commit{}, fmt.Errorf("workspace: apply %s: %w", c.Path, err)
		}
	}

	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.Path
	}
	commit, err := e.history.Append("main", author, message, paths, time.Now())
	if err != nil {
		return Commit{}, err
	}

	ids := make([]ident.ChangeID, len(changes))
	for i, c := range changes {
		ids[i] = c.ID
	}
	if err := e.discardLocked(ids); err != nil {
		return Commit{}, err
	}
	return commit, nil
}

func (e *Engine) findStagedLocked(id ident.ChangeID) (StagedChange, bool) {
	for _, list := range e.staged {
		for _, c := range list {
			if c.ID == id {
				return c, true
			}
		}
	}
	return StagedChange{}, false
}

func (e *Engine) applyChange(c StagedChange) error {
	fullPath := filepath.Join(e.root, c.Path)
	switch c.ChangeType {
	case ChangeDelete:
		if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		delete(e.docs, c.Path)
	case ChangeCreate, ChangeModify:
		raw, err := EncodeDocument(c.Document)
		if err != nil {
			return err
		}
		if err := os.WriteFile(fullPath, raw, 0o644); err != nil {
			return err
		}
		e.docs[c.Path] = c.Document
	}
	return nil
}

// History returns up to limit commits touching path (or every commit,
// if path is empty), newest first.
func (e *Engine) History(path string, limit int) ([]Commit, error) {
	return e.history.Log("main", path, limit)
}

// Diff returns the changed paths between two commits by walking parent
// pointers from b back to a (or to the root if a is empty).
func (e *Engine) Diff(a, b ident.CommitID) ([]string, error) {
	seen := make(map[string]bool)
	var order []string
	cur := b
	for cur != "" && cur != a {
		c, err := e.history.Get(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range c.ChangedPaths {
			if !seen[p] {
				seen[p] = true
				order = append(order, p)
			}
		}
		cur = c.Parent
	}
	return order, nil
}

// Restore stages and commits content — the document as it existed at
// commitID, resolved by the caller from an external document archive or
// replay of the history log — as the new state of path. Restore always
// produces a new commit on head rather than rewriting history.
func (e *Engine) Restore(path string, commitID ident.CommitID, content Document, author ident.AgentID) (Commit, error) {
	if _, err := e.history.Get(commitID); err != nil {
		return Commit{}, fmt.Errorf("workspace: restore: %w", err)
	}
	change, err := e.Stage(author, path, ChangeModify, content)
	if err != nil {
		return Commit{}, err
	}
	return e.Commit([]ident.ChangeID{change.ID}, author, fmt.Sprintf("restore %s to %s", path, commitID))
}

// mergeBlocks reconciles two independently modified block sequences
// against their common base at block-index granularity. It returns the
// merged sequence and true if every changed index was touched by only
// one of the two sides; otherwise it returns false (overlapping
// modification, reject with StagingConflict).
func mergeBlocks(base, a, b []Block) ([]Block, bool) {
	changedA := diffIndices(base, a)
	changedB := diffIndices(base, b)
	for idx := range changedA {
		if changedB[idx] {
			return nil, false
		}
	}

	length := len(base)
	if len(a) > length {
		length = len(a)
	}
	if len(b) > length {
		length = len(b)
	}
	merged := make([]Block, 0, length)
	for i := 0; i < length; i++ {
		switch {
		case changedA[i]:
			merged = append(merged, blockAt(a, i))
		case changedB[i]:
			merged = append(merged, blockAt(b, i))
		default:
			merged = append(merged, blockAt(base, i))
		}
	}
	return merged, true
}

func diffIndices(base, modified []Block) map[int]bool {
	out := make(map[int]bool)
	max := len(base)
	if len(modified) > max {
		max = len(modified)
	}
	for i := 0; i < max; i++ {
		if !blockEqual(blockAt(base, i), blockAt(modified, i)) {
			out[i] = true
		}
	}
	return out
}

func blockAt(blocks []Block, i int) Block {
	if i < 0 || i >= len(blocks) {
		return nil
	}
	return blocks[i]
}

func blockEqual(a, b Block) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return encodeBlock(a) == encodeBlock(b)
}
