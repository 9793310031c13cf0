package memstore

import (
	"context"
	"time"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// queryPlan is the access path chosen for a filter: either an index prefix
// lookup or a full collection scan.
type queryPlan struct {
	index  *fieldIndex
	prefix []any
}

type execStats struct {
	plan         queryPlan
	keysExamined int
	docsExamined int
	returned     int
}

// plan picks the index whose leading fields are covered by the longest run of
// equality predicates; ties go to the index created first. Caller holds c.mu.
func (c *Collection) plan(cf *compiledFilter) queryPlan {
	var best queryPlan
	for _, name := range c.indexOrder {
		idx := c.indexes[name]
		var prefix []any
		for _, field := range idx.fields {
			v, ok := cf.equalities[field]
			if !ok || v == nil {
				break
			}
			prefix = append(prefix, v)
		}
		if len(prefix) > len(best.prefix) {
			best = queryPlan{index: idx, prefix: prefix}
		}
	}
	return best
}

func (p queryPlan) winningPlan() bson.M {
	if p.index == nil {
		return bson.M{"stage": "COLLSCAN", "direction": "forward"}
	}
	return bson.M{
		"stage": "FETCH",
		"inputStage": bson.M{
			"stage":      "IXSCAN",
			"indexName":  p.index.name,
			"keyPattern": p.index.keys,
			"direction":  "forward",
		},
	}
}

// Explain executes the find for filter and describes how it ran, shaped like
// the server's explain output.
func (c *Collection) Explain(ctx context.Context, filter any, verbosity string) (bson.M, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	switch verbosity {
	case docstore.ExplainQueryPlanner, docstore.ExplainExecutionStats, docstore.ExplainAllPlansExecution:
	default:
		return nil, errors.Annotatef(docstore.ErrInvalidQuery, "unknown explain verbosity %q", verbosity)
	}
	cf, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.mu.RLock()
	_, stats := c.execute(cf)
	c.mu.RUnlock()
	elapsed := time.Since(start)

	result := bson.M{
		"queryPlanner": bson.M{
			"namespace":   c.store.name + "." + c.name,
			"winningPlan": stats.plan.winningPlan(),
		},
	}
	if verbosity == docstore.ExplainQueryPlanner {
		return result, nil
	}
	result["executionStats"] = bson.M{
		"executionSuccess":    true,
		"nReturned":           int32(stats.returned),
		"executionTimeMillis": int32(elapsed.Milliseconds()),
		"totalKeysExamined":   int32(stats.keysExamined),
		"totalDocsExamined":   int32(stats.docsExamined),
	}
	return result, nil
}
