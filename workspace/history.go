package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/orchardhq/orchard/ident"
)

// Commit is an append-only, content-addressed record of a committed
// mutation with a parent link.
type Commit struct {
	ID           ident.CommitID
	Parent       ident.CommitID
	Author       ident.AgentID
	Message      string
	Timestamp    time.Time
	ChangedPaths []string
}

var (
	bucketHeads   = []byte("heads")
	bucketCommits = []byte("commits")
)

// History is the append-only commit-graph store for a single workspace,
// backed by go.etcd.io/bbolt. Commits are keyed by the SHA-256 digest of
// their parent, author, message, timestamp and changed paths (see
// digestCommit) and stored as JSON; parent pointers are stored alongside so
// the log is a content-addressed chain rather than a simple counter.
type History struct {
	db *bbolt.DB
}

// OpenHistory opens (creating if necessary) the bbolt database backing a
// workspace's history log.
func OpenHistory(path string) (*History, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("workspace: open history: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketHeads); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketCommits)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("workspace: init history buckets: %w", err)
	}
	return &History{db: db}, nil
}

// Close releases the underlying database file.
func (h *History) Close() error { return h.db.Close() }

// Head returns the current head commit id for branch, or the zero value
// and false if the branch has no commits yet.
func (h *History) Head(branch string) (ident.CommitID, bool, error) {
	var id ident.CommitID
	var ok bool
	err := h.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketHeads).Get([]byte(branch))
		if raw == nil {
			return nil
		}
		id = ident.CommitID(raw)
		ok = true
		return nil
	})
	return id, ok, err
}

// Append stores a new commit as the child of branch's current head and
// advances the head pointer. The commit's ID is its content digest,
// computed over its fields excluding ID itself.
func (h *History) Append(branch string, author ident.AgentID, message string, changedPaths []string, timestamp time.Time) (Commit, error) {
	parent, _, err := h.Head(branch)
	if err != nil {
		return Commit{}, err
	}
	c := Commit{Parent: parent, Author: author, Message: message, Timestamp: timestamp, ChangedPaths: changedPaths}
	c.ID = digestCommit(c)

	err = h.db.Update(func(tx *bbolt.Tx) error {
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketCommits).Put([]byte(c.ID), raw); err != nil {
			return err
		}
		return tx.Bucket(bucketHeads).Put([]byte(branch), []byte(c.ID))
	})
	if err != nil {
		return Commit{}, fmt.Errorf("workspace: append commit: %w", err)
	}
	return c, nil
}

func digestCommit(c Commit) ident.CommitID {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", c.Parent, c.Author, c.Message, c.Timestamp.UnixNano())
	for _, p := range c.ChangedPaths {
		fmt.Fprintf(h, "|%s", p)
	}
	return ident.CommitID(hex.EncodeToString(h.Sum(nil)))
}

// Get returns the commit with the given id.
func (h *History) Get(id ident.CommitID) (Commit, error) {
	var c Commit
	err := h.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketCommits).Get([]byte(id))
		if raw == nil {
			return fmt.Errorf("workspace: commit %s not found", id)
		}
		return json.Unmarshal(raw, &c)
	})
	return c, err
}

// Log returns up to limit commits on branch, newest first, optionally
// filtered to those touching path (empty path returns all commits).
func (h *History) Log(branch, path string, limit int) ([]Commit, error) {
	head, ok, err := h.Head(branch)
	if err != nil || !ok {
		return nil, err
	}
	var out []Commit
	cur := head
	for cur != "" && (limit <= 0 || len(out) < limit) {
		c, err := h.Get(cur)
		if err != nil {
			return out, err
		}
		if path == "" || containsPath(c.ChangedPaths, path) {
			out = append(out, c)
		}
		cur = c.Parent
	}
	return out, nil
}

func containsPath(paths []string, path string) bool {
	for _, p := range paths {
		if p == path {
			return true
		}
	}
	return false
}
