// Package boltstore persists approval policy overrides and the trust ledger
// in an embedded go.etcd.io/bbolt database. The store is single-writer and
// append-friendly, the same storage shape the history engine assumes for
// its commit log (package workspace), reused here because both workloads
// are single-writer and crash-safe.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/policy"
)

var (
	bucketPolicy = []byte("policy")
	bucketTrust  = []byte("trust")
)

// Store is a policy.Store backed by a bbolt file.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the bbolt database at path and
// prepares its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketPolicy); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketTrust)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func policyKey(agentID ident.AgentID) []byte { return []byte(agentID) }

func trustKey(agentID ident.AgentID, domain string) []byte {
	return []byte(string(agentID) + "\x00" + domain)
}

type trustRecord struct {
	Score       float64 `json:"score"`
	Successes   int     `json:"successes"`
	Total       int     `json:"total"`
	Corrections int     `json:"corrections"`
}

// LoadPolicy returns the stored policy for agentID, or the documented
// defaults if none has been saved.
func (s *Store) LoadPolicy(ctx context.Context, agentID ident.AgentID) (policy.ApprovalPolicy, error) {
	result := policy.DefaultApprovalPolicy()
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketPolicy).Get(policyKey(agentID))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &result)
	})
	return result, err
}

// SavePolicy overwrites the stored policy for agentID.
func (s *Store) SavePolicy(ctx context.Context, agentID ident.AgentID, p policy.ApprovalPolicy) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketPolicy).Put(policyKey(agentID), raw)
	})
}

// AppendAutoApprovePattern adds pattern to agentID's auto-approve list if
// not already present.
func (s *Store) AppendAutoApprovePattern(ctx context.Context, agentID ident.AgentID, pattern string) error {
	p, err := s.LoadPolicy(ctx, agentID)
	if err != nil {
		return err
	}
	for _, existing := range p.AutoApprovePatterns {
		if existing == pattern {
			return nil
		}
	}
	p.AutoApprovePatterns = append(p.AutoApprovePatterns, pattern)
	return s.SavePolicy(ctx, agentID, p)
}

func (s *Store) loadTrust(tx *bbolt.Tx, agentID ident.AgentID, domain string) (trustRecord, error) {
	var rec trustRecord
	raw := tx.Bucket(bucketTrust).Get(trustKey(agentID, domain))
	if raw == nil {
		return rec, nil
	}
	err := json.Unmarshal(raw, &rec)
	return rec, err
}

// TrustScore returns the agent's continuous trust score for domain.
func (s *Store) TrustScore(ctx context.Context, agentID ident.AgentID, domain string) (float64, error) {
	var score float64
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, err := s.loadTrust(tx, agentID, domain)
		score = rec.Score
		return err
	})
	return score, err
}

// TrustLevel returns the agent's coarse trust level for domain.
func (s *Store) TrustLevel(ctx context.Context, agentID ident.AgentID, domain string) (ident.TrustLevel, error) {
	score, err := s.TrustScore(ctx, agentID, domain)
	if err != nil {
		return 0, err
	}
	return ident.TrustLevelForScore(score), nil
}

// RecordOutcome folds outcome into the stored tally and persists the
// updated score.
func (s *Store) RecordOutcome(ctx context.Context, outcome policy.InteractionOutcome) (ident.TrustLevel, bool, error) {
	var before, after ident.TrustLevel
	err := s.db.Update(func(tx *bbolt.Tx) error {
		rec, err := s.loadTrust(tx, outcome.AgentID, outcome.Domain)
		if err != nil {
			return err
		}
		before = ident.TrustLevelForScore(rec.Score)

		rec.Total++
		if outcome.Success {
			rec.Successes++
		}
		if outcome.Correction {
			rec.Corrections++
		}
		rec.Score = policy.UpdateScore(rec.Score, policy.Tally{
			Successes:   rec.Successes,
			Total:       rec.Total,
			Corrections: rec.Corrections,
		})
		after = ident.TrustLevelForScore(rec.Score)

		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTrust).Put(trustKey(outcome.AgentID, outcome.Domain), raw)
	})
	return after, before != after, err
}
