// Package docstore declares the capability set the query runner consumes from a
// document database. Filters, projections, sorts and pipelines use the BSON
// vocabulary of the MongoDB driver so that every backend accepts the same values.
package docstore

import (
	"context"

	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Sentinel errors shared by all backends. Backends annotate them with
// errors.Annotate so errors.Cause recovers the sentinel.
var (
	ErrStoreClosed         = errors.New("store closed")
	ErrUnavailable         = errors.New("store unavailable")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrInvalidUpdate       = errors.New("invalid update document")
	ErrInvalidProjection   = errors.New("invalid projection")
	ErrInvalidPipeline     = errors.New("invalid aggregation pipeline")
	ErrEmptyIndex          = errors.New("cannot create empty index")
	ErrIndexExists         = errors.New("index already exists")
	ErrInvalidDocument     = errors.New("invalid document")
	ErrDuplicateKey        = errors.New("duplicate key")
)

// Explain verbosity modes.
const (
	ExplainQueryPlanner      = "queryPlanner"
	ExplainExecutionStats    = "executionStats"
	ExplainAllPlansExecution = "allPlansExecution"
)

// FindOptions narrows and orders a find. Zero values mean "not set".
type FindOptions struct {
	Projection any
	Sort       any
	Skip       int64
	Limit      int64
}

// UpdateResult reports how many documents matched and how many actually changed.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// DeleteResult reports how many documents were removed.
type DeleteResult struct {
	DeletedCount int64
}

// Collection is a handle to one named collection.
type Collection interface {
	Name() string
	Find(ctx context.Context, filter any, opts FindOptions) ([]bson.M, error)
	InsertMany(ctx context.Context, docs []any) (int, error)
	UpdateOne(ctx context.Context, filter, update any) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter any) (DeleteResult, error)
	Aggregate(ctx context.Context, pipeline any) ([]bson.M, error)
	// CreateIndex builds an index over keys and returns its name.
	CreateIndex(ctx context.Context, keys bson.D) (string, error)
	// Explain returns the plan document for a find on filter.
	Explain(ctx context.Context, filter any, verbosity string) (bson.M, error)
}

// Store is an open connection to a document database.
type Store interface {
	Collection(name string) Collection
	Close(ctx context.Context) error
}

// Connector opens a Store. Callers own the returned Store and must Close it.
type Connector func(ctx context.Context) (Store, error)

// IndexName derives the conventional index name from its key pattern,
// e.g. {author: 1, published_year: 1} -> "author_1_published_year_1".
func IndexName(keys bson.D) string {
	name := ""
	for i, k := range keys {
		if i > 0 {
			name += "_"
		}
		name += k.Key + "_" + directionString(k.Value)
	}
	return name
}

func directionString(v any) string {
	switch d := v.(type) {
	case int:
		if d < 0 {
			return "-1"
		}
	case int32:
		if d < 0 {
			return "-1"
		}
	case int64:
		if d < 0 {
			return "-1"
		}
	case float64:
		if d < 0 {
			return "-1"
		}
	case string:
		return d
	}
	return "1"
}
