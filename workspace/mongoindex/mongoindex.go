// Package mongoindex maintains an optional, rebuildable secondary index
// of workspace commits in MongoDB, queryable by workspace, path, author,
// and time range. The bbolt-backed History in package workspace remains
// the source of truth; this index exists only to make
// "list recent commits to this path across these workspaces"-style
// queries efficient at scale, the same role the teacher's
// features/run/mongo/search package plays for session search.
package mongoindex

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/orchardhq/orchard/ident"
	"github.com/orchardhq/orchard/workspace"
)

type collection interface {
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
}

// WrapCollection adapts a *mongo.Collection to the collection interface
// this package consumes, keeping call sites testable against a fake.
func WrapCollection(coll *mongo.Collection) collection { return coll }

// CommitQuery filters the secondary commit index.
type CommitQuery struct {
	WorkspaceIDs []ident.WorkspaceID
	Path         string
	Authors      []ident.AgentID
	From, To     *time.Time
	Limit        int
}

// CommitRecord is a denormalized, queryable projection of one commit.
type CommitRecord struct {
	WorkspaceID  ident.WorkspaceID
	CommitID     ident.CommitID
	ParentID     ident.CommitID
	Author       ident.AgentID
	Message      string
	ChangedPaths []string
	Timestamp    time.Time
}

type commitDocument struct {
	WorkspaceID  string    `bson:"workspace_id"`
	CommitID     string    `bson:"commit_id"`
	ParentID     string    `bson:"parent_id"`
	Author       string    `bson:"author"`
	Message      string    `bson:"message"`
	ChangedPaths []string  `bson:"changed_paths"`
	Timestamp    time.Time `bson:"timestamp"`
}

const defaultLimit = 100

// Index is a rebuildable secondary index over a workspace's commit log.
type Index struct {
	commits collection
}

// New constructs an Index over the given collection.
func New(commits collection) (*Index, error) {
	if commits == nil {
		return nil, errors.New("mongoindex: commits collection is required")
	}
	return &Index{commits: commits}, nil
}

// Record inserts one commit into the index. Callers invoke this after a
// successful workspace.Engine.Commit; rebuilding the index is just
// replaying workspace.Engine.History for every workspace and calling
// Record again, since the bbolt log is authoritative.
func (idx *Index) Record(ctx context.Context, workspaceID ident.WorkspaceID, c workspace.Commit) error {
	doc := commitDocument{
		WorkspaceID:  string(workspaceID),
		CommitID:     string(c.ID),
		ParentID:     string(c.Parent),
		Author:       string(c.Author),
		Message:      c.Message,
		ChangedPaths: c.ChangedPaths,
		Timestamp:    c.Timestamp,
	}
	_, err := idx.commits.InsertOne(ctx, doc)
	return err
}

// Search returns commit records matching q, newest first.
func (idx *Index) Search(ctx context.Context, q CommitQuery) ([]CommitRecord, error) {
	filter := bson.M{}
	if len(q.WorkspaceIDs) > 0 {
		ids := make([]string, len(q.WorkspaceIDs))
		for i, id := range q.WorkspaceIDs {
			ids[i] = string(id)
		}
		filter["workspace_id"] = bson.M{"$in": ids}
	}
	if q.Path != "" {
		filter["changed_paths"] = q.Path
	}
	if len(q.Authors) > 0 {
		authors := make([]string, len(q.Authors))
		for i, a := range q.Authors {
			authors[i] = string(a)
		}
		filter["author"] = bson.M{"$in": authors}
	}
	if q.From != nil || q.To != nil {
		rng := bson.M{}
		if q.From != nil {
			rng["$gte"] = *q.From
		}
		if q.To != nil {
			rng["$lte"] = *q.To
		}
		filter["timestamp"] = rng
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = defaultLimit
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(limit)

	cur, err := idx.commits.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []CommitRecord
	for cur.Next(ctx) {
		var doc commitDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, CommitRecord{
			WorkspaceID:  ident.WorkspaceID(doc.WorkspaceID),
			CommitID:     ident.CommitID(doc.CommitID),
			ParentID:     ident.CommitID(doc.ParentID),
			Author:       ident.AgentID(doc.Author),
			Message:      doc.Message,
			ChangedPaths: doc.ChangedPaths,
			Timestamp:    doc.Timestamp,
		})
	}
	return out, cur.Err()
}
