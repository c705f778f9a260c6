// Package sqlstore persists session lifecycle state and run metadata in
// a relational schema via modernc.org/sqlite, chosen over the
// bbolt/key-value shape used elsewhere in this runtime because
// ListRunsBySession's filter-by-status, group-by-session query is
// exactly what a SQL WHERE clause is for and a KV store would make
// awkward.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	ended_at   INTEGER
);
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	session_id TEXT NOT NULL,
	turn_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	labels     TEXT,
	metadata   TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);
`

// Store is a session.Store backed by a modernc.org/sqlite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating and migrating if necessary) the sqlite database
// at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) CreateSession(ctx context.Context, id ident.SessionID, createdAt time.Time) (session.Session, error) {
	existing, err := s.LoadSession(ctx, id)
	if err == nil {
		if existing.Status == session.StatusEnded {
			return session.Session{}, session.ErrSessionEnded
		}
		return existing, nil
	}
	if err != session.ErrSessionNotFound {
		return session.Session{}, err
	}

	out := session.Session{ID: id, Status: session.StatusActive, CreatedAt: createdAt.UTC()}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sessions (id, status, created_at, ended_at) VALUES (?, ?, ?, NULL)`,
		string(id), string(out.Status), out.CreatedAt.UnixNano())
	if err != nil {
		return session.Session{}, fmt.Errorf("sqlstore: create session: %w", err)
	}
	return out, nil
}

func (s *Store) LoadSession(ctx context.Context, id ident.SessionID) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT status, created_at, ended_at FROM sessions WHERE id = ?`, string(id))
	var status string
	var createdAt int64
	var endedAt sql.NullInt64
	if err := row.Scan(&status, &createdAt, &endedAt); err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, session.ErrSessionNotFound
		}
		return session.Session{}, fmt.Errorf("sqlstore: load session: %w", err)
	}
	out := session.Session{ID: id, Status: session.Status(status), CreatedAt: time.Unix(0, createdAt).UTC()}
	if endedAt.Valid {
		at := time.Unix(0, endedAt.Int64).UTC()
		out.EndedAt = &at
	}
	return out, nil
}

func (s *Store) EndSession(ctx context.Context, id ident.SessionID, endedAt time.Time) (session.Session, error) {
	existing, err := s.LoadSession(ctx, id)
	if err != nil {
		return session.Session{}, err
	}
	if existing.Status == session.StatusEnded {
		return existing, nil
	}
	at := endedAt.UTC()
	_, err = s.db.ExecContext(ctx, `UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(session.StatusEnded), at.UnixNano(), string(id))
	if err != nil {
		return session.Session{}, fmt.Errorf("sqlstore: end session: %w", err)
	}
	existing.Status = session.StatusEnded
	existing.EndedAt = &at
	return existing, nil
}

func (s *Store) UpsertRun(ctx context.Context, run session.RunMeta) error {
	labels, err := json.Marshal(run.Labels)
	if err != nil {
		return err
	}
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return err
	}

	existing, err := s.LoadRun(ctx, run.RunID)
	now := time.Now().UTC()
	switch {
	case err == nil:
		if run.StartedAt.IsZero() {
			run.StartedAt = existing.StartedAt
		}
	case err == session.ErrRunNotFound:
		if run.StartedAt.IsZero() {
			run.StartedAt = now
		}
	default:
		return err
	}
	run.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, agent_id, session_id, turn_id, status, started_at, updated_at, labels, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			agent_id = excluded.agent_id, session_id = excluded.session_id, turn_id = excluded.turn_id,
			status = excluded.status, updated_at = excluded.updated_at, labels = excluded.labels, metadata = excluded.metadata`,
		string(run.RunID), string(run.AgentID), string(run.SessionID), string(run.TurnID), string(run.Status),
		run.StartedAt.UnixNano(), run.UpdatedAt.UnixNano(), string(labels), string(metadata))
	if err != nil {
		return fmt.Errorf("sqlstore: upsert run: %w", err)
	}
	return nil
}

func (s *Store) LoadRun(ctx context.Context, runID ident.RunID) (session.RunMeta, error) {
	row := s.db.QueryRowContext(ctx, `SELECT agent_id, session_id, turn_id, status, started_at, updated_at, labels, metadata FROM runs WHERE run_id = ?`, string(runID))
	return scanRun(row, runID)
}

func scanRun(row *sql.Row, runID ident.RunID) (session.RunMeta, error) {
	var agentID, sessionID, turnID, status string
	var startedAt, updatedAt int64
	var labels, metadata sql.NullString
	if err := row.Scan(&agentID, &sessionID, &turnID, &status, &startedAt, &updatedAt, &labels, &metadata); err != nil {
		if err == sql.ErrNoRows {
			return session.RunMeta{}, session.ErrRunNotFound
		}
		return session.RunMeta{}, fmt.Errorf("sqlstore: load run: %w", err)
	}
	out := session.RunMeta{
		RunID:     runID,
		AgentID:   ident.AgentID(agentID),
		SessionID: ident.SessionID(sessionID),
		TurnID:    ident.TurnID(turnID),
		Status:    session.RunStatus(status),
		StartedAt: time.Unix(0, startedAt).UTC(),
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
	}
	if labels.Valid && labels.String != "" {
		json.Unmarshal([]byte(labels.String), &out.Labels)
	}
	if metadata.Valid && metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &out.Metadata)
	}
	return out, nil
}

func (s *Store) ListRunsBySession(ctx context.Context, sessionID ident.SessionID, statuses []session.RunStatus) ([]session.RunMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, agent_id, turn_id, status, started_at, updated_at, labels, metadata FROM runs WHERE session_id = ? ORDER BY started_at`, string(sessionID))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list runs: %w", err)
	}
	defer rows.Close()

	allowed := make(map[session.RunStatus]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}

	var out []session.RunMeta
	for rows.Next() {
		var runID, agentID, turnID, status string
		var startedAt, updatedAt int64
		var labels, metadata sql.NullString
		if err := rows.Scan(&runID, &agentID, &turnID, &status, &startedAt, &updatedAt, &labels, &metadata); err != nil {
			return nil, fmt.Errorf("sqlstore: scan run: %w", err)
		}
		if len(statuses) > 0 && !allowed[session.RunStatus(status)] {
			continue
		}
		run := session.RunMeta{
			RunID:     ident.RunID(runID),
			AgentID:   ident.AgentID(agentID),
			SessionID: sessionID,
			TurnID:    ident.TurnID(turnID),
			Status:    session.RunStatus(status),
			StartedAt: time.Unix(0, startedAt).UTC(),
			UpdatedAt: time.Unix(0, updatedAt).UTC(),
		}
		if labels.Valid && labels.String != "" {
			json.Unmarshal([]byte(labels.String), &run.Labels)
		}
		if metadata.Valid && metadata.String != "" {
			json.Unmarshal([]byte(metadata.String), &run.Metadata)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
