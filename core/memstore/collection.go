package memstore

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const idIndexName = "_id_"

// document is one stored record. data always carries the _id field.
type document struct {
	id   string
	data map[string]any
}

// Collection keeps documents in stable slots; deleted slots are reused, so
// natural order is slot order rather than insertion order.
type Collection struct {
	name       string
	store      *Store
	documents  []*document
	freeSlots  []int
	slots      map[string]int
	indexes    map[string]*fieldIndex
	indexOrder []string
	mu         sync.RWMutex
}

func newCollection(name string, store *Store) *Collection {
	c := &Collection{
		name:      name,
		store:     store,
		documents: make([]*document, 0),
		freeSlots: make([]int, 0),
		slots:     make(map[string]int),
		indexes:   make(map[string]*fieldIndex),
	}
	idKeys := bson.D{{Key: "_id", Value: 1}}
	c.indexes[idIndexName] = newFieldIndex(idIndexName, idKeys)
	c.indexOrder = append(c.indexOrder, idIndexName)
	return c
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) check(ctx context.Context) error {
	if c.store.closed.Load() {
		return docstore.ErrStoreClosed
	}
	return errors.Trace(ctx.Err())
}

// InsertMany stores docs in order and stops at the first failure. Documents
// without an _id get a UUIDv7 string.
func (c *Collection) InsertMany(ctx context.Context, docs []any) (int, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, raw := range docs {
		data, err := utils.ToDocument(raw)
		if err != nil {
			return i, errors.Annotatef(docstore.ErrInvalidDocument, "document %d: %s", i, err.Error())
		}
		if _, ok := data["_id"]; !ok {
			data["_id"] = uuid.Must(uuid.NewV7()).String()
		}
		if err := c.insert(data); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

// insert adds a document and updates all indexes. Caller holds c.mu.
func (c *Collection) insert(data map[string]any) error {
	id := groupKey(data["_id"])
	if _, exists := c.slots[id]; exists {
		return errors.Annotatef(docstore.ErrDuplicateKey, "_id %v", data["_id"])
	}

	doc := &document{id: id, data: data}

	// Reuse a free slot if available
	var slot int
	if len(c.freeSlots) > 0 {
		slot = c.freeSlots[len(c.freeSlots)-1]
		c.freeSlots = c.freeSlots[:len(c.freeSlots)-1]
		c.documents[slot] = doc
	} else {
		c.documents = append(c.documents, doc)
		slot = len(c.documents) - 1
	}
	c.slots[id] = slot

	for _, idx := range c.indexes {
		idx.insertDocument(id, data)
	}
	return nil
}

// Find returns copies of the matching documents after sort, skip, limit and
// projection, in that order.
func (c *Collection) Find(ctx context.Context, filter any, opts docstore.FindOptions) ([]bson.M, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	cf, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}
	proj, err := compileProjection(opts.Projection)
	if err != nil {
		return nil, err
	}
	var keys []sortKey
	if opts.Sort != nil {
		if keys, err = compileSort(opts.Sort); err != nil {
			return nil, err
		}
	}
	if opts.Skip < 0 || opts.Limit < 0 {
		return nil, errors.Annotate(docstore.ErrInvalidQuery, "skip and limit must not be negative")
	}

	c.mu.RLock()
	docs, _ := c.execute(cf)
	c.mu.RUnlock()

	sortDocuments(docs, keys)
	docs = window(docs, opts.Skip, opts.Limit)

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		out = append(out, bson.M(proj.apply(d)))
	}
	return out, nil
}

// UpdateOne applies update to the first match in natural order.
func (c *Collection) UpdateOne(ctx context.Context, filter, update any) (docstore.UpdateResult, error) {
	var res docstore.UpdateResult
	if err := c.check(ctx); err != nil {
		return res, err
	}
	cf, err := compileFilter(filter)
	if err != nil {
		return res, err
	}
	ops, err := compileUpdate(update)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.first(cf)
	if doc == nil {
		return res, nil
	}
	res.MatchedCount = 1

	updated, err := applyUpdate(doc.data, ops)
	if err != nil {
		return res, err
	}
	if reflect.DeepEqual(updated, doc.data) {
		return res, nil
	}
	for _, idx := range c.indexes {
		idx.updateDocument(doc.id, doc.data, updated)
	}
	doc.data = updated
	res.ModifiedCount = 1
	return res, nil
}

// DeleteOne removes the first match in natural order.
func (c *Collection) DeleteOne(ctx context.Context, filter any) (docstore.DeleteResult, error) {
	var res docstore.DeleteResult
	if err := c.check(ctx); err != nil {
		return res, err
	}
	cf, err := compileFilter(filter)
	if err != nil {
		return res, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	doc := c.first(cf)
	if doc == nil {
		return res, nil
	}
	for _, idx := range c.indexes {
		idx.deleteDocument(doc.id, doc.data)
	}
	slot := c.slots[doc.id]
	c.documents[slot] = nil
	c.freeSlots = append(c.freeSlots, slot)
	delete(c.slots, doc.id)
	res.DeletedCount = 1
	return res, nil
}

// first returns the live first match without copying. Caller holds c.mu.
func (c *Collection) first(cf *compiledFilter) *document {
	for _, doc := range c.documents {
		if doc != nil && cf.match(doc.data) {
			return doc
		}
	}
	return nil
}

// Aggregate runs pipeline over a snapshot of the collection.
func (c *Collection) Aggregate(ctx context.Context, pipeline any) ([]bson.M, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	stages, err := compilePipeline(pipeline)
	if err != nil {
		return nil, err
	}

	docs := c.snapshot()
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		if docs, err = st(docs); err != nil {
			return nil, err
		}
	}

	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		out = append(out, bson.M(d))
	}
	return out, nil
}

// CreateIndex builds a btree index over keys. Creating an index that already
// exists with the same key pattern is a no-op returning its name.
func (c *Collection) CreateIndex(ctx context.Context, keys bson.D) (string, error) {
	if err := c.check(ctx); err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", docstore.ErrEmptyIndex
	}
	for _, k := range keys {
		dir, ok := utils.ToInt64(k.Value)
		if !ok || (dir != 1 && dir != -1) {
			return "", errors.Annotatef(docstore.ErrInvalidQuery, "index direction for %s must be 1 or -1", k.Key)
		}
	}
	name := docstore.IndexName(keys)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.indexes[name]; ok {
		if existing.sameKeys(keys) {
			return name, nil
		}
		return "", errors.Annotatef(docstore.ErrIndexExists, "%s with a different key pattern", name)
	}

	index := newFieldIndex(name, append(bson.D(nil), keys...))
	for _, doc := range c.documents {
		if doc != nil {
			index.insertDocument(doc.id, doc.data)
		}
	}
	c.indexes[name] = index
	c.indexOrder = append(c.indexOrder, name)
	return name, nil
}

// Indexes lists index names in creation order, starting with _id_.
func (c *Collection) Indexes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.indexOrder...)
}

// Count returns the number of live documents.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.slots)
}

// snapshot copies every live document in natural order.
func (c *Collection) snapshot() []map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]map[string]any, 0, len(c.slots))
	for _, doc := range c.documents {
		if doc != nil {
			result = append(result, utils.CopyDocument(doc.data))
		}
	}
	return result
}

// execute runs the chosen plan and returns copies of the matches in natural
// order together with the execution counters. Caller holds c.mu for reading.
func (c *Collection) execute(cf *compiledFilter) ([]map[string]any, execStats) {
	plan := c.plan(cf)
	stats := execStats{plan: plan}

	var candidates []*document
	if plan.index != nil {
		ids, keys := plan.index.lookupPrefix(plan.prefix)
		stats.keysExamined = keys
		slots := make([]int, 0, len(ids))
		for _, id := range ids {
			if slot, ok := c.slots[id]; ok {
				slots = append(slots, slot)
			}
		}
		sort.Ints(slots)
		for _, slot := range slots {
			candidates = append(candidates, c.documents[slot])
		}
	} else {
		for _, doc := range c.documents {
			if doc != nil {
				candidates = append(candidates, doc)
			}
		}
	}

	result := make([]map[string]any, 0)
	for _, doc := range candidates {
		stats.docsExamined++
		if cf.match(doc.data) {
			result = append(result, utils.CopyDocument(doc.data))
		}
	}
	stats.returned = len(result)
	return result, stats
}
