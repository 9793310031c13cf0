package memstore

import (
	"sort"
	"strings"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// matcher decides whether a document satisfies a compiled filter.
type matcher interface {
	match(doc map[string]any) bool
}

type andMatcher []matcher

func (m andMatcher) match(doc map[string]any) bool {
	for _, sub := range m {
		if !sub.match(doc) {
			return false
		}
	}
	return true
}

type orMatcher []matcher

func (m orMatcher) match(doc map[string]any) bool {
	for _, sub := range m {
		if sub.match(doc) {
			return true
		}
	}
	return false
}

type notMatcher struct{ inner matcher }

func (m notMatcher) match(doc map[string]any) bool { return !m.inner.match(doc) }

// fieldPredicate applies one comparison operator to the value at path.
type fieldPredicate struct {
	path  string
	op    string
	value any
}

func (p fieldPredicate) match(doc map[string]any) bool {
	actual, exists := utils.Lookup(doc, p.path)
	switch p.op {
	case "$exists":
		return exists == utils.Truthy(p.value)
	case "$ne":
		return !matchEqual(actual, exists, p.value)
	case "$eq":
		return matchEqual(actual, exists, p.value)
	case "$in":
		candidates, _ := utils.Array(p.value)
		for _, c := range candidates {
			if matchEqual(actual, exists, c) {
				return true
			}
		}
		return false
	case "$nin":
		candidates, _ := utils.Array(p.value)
		for _, c := range candidates {
			if matchEqual(actual, exists, c) {
				return false
			}
		}
		return true
	case "$gt", "$gte", "$lt", "$lte":
		if !exists {
			return false
		}
		if arr, ok := utils.Array(actual); ok {
			for _, elem := range arr {
				if compareOp(p.op, elem, p.value) {
					return true
				}
			}
			return false
		}
		return compareOp(p.op, actual, p.value)
	}
	return false
}

// matchEqual implements equality with array-contains semantics; a nil
// expectation also matches a missing field.
func matchEqual(actual any, exists bool, expected any) bool {
	if expected == nil {
		return !exists || actual == nil
	}
	if !exists {
		return false
	}
	if utils.Equal(actual, expected) {
		return true
	}
	if arr, ok := utils.Array(actual); ok {
		for _, elem := range arr {
			if utils.Equal(elem, expected) {
				return true
			}
		}
	}
	return false
}

func compareOp(op string, actual, expected any) bool {
	if !utils.Comparable(actual, expected) {
		return false
	}
	cmp := utils.CompareValues(actual, expected)
	switch op {
	case "$gt":
		return cmp > 0
	case "$gte":
		return cmp >= 0
	case "$lt":
		return cmp < 0
	case "$lte":
		return cmp <= 0
	}
	return false
}

// compiledFilter keeps the matcher and the top-level equality predicates the
// planner can serve from an index.
type compiledFilter struct {
	matcher    matcher
	equalities map[string]any
}

func (f *compiledFilter) match(doc map[string]any) bool {
	return f.matcher.match(doc)
}

// compileFilter turns a filter document into a matcher.
func compileFilter(filter any) (*compiledFilter, error) {
	pairs, err := utils.Pairs(filter)
	if err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidQuery, err.Error())
	}
	m, err := compilePairs(pairs)
	if err != nil {
		return nil, err
	}
	cf := &compiledFilter{matcher: m, equalities: make(map[string]any)}
	for _, p := range pairs {
		if strings.HasPrefix(p.Key, "$") {
			continue
		}
		if !utils.IsDocument(p.Value) {
			cf.equalities[p.Key] = utils.Normalize(p.Value)
			continue
		}
		ops, _ := utils.Pairs(p.Value)
		if len(ops) == 1 && ops[0].Key == "$eq" {
			cf.equalities[p.Key] = utils.Normalize(ops[0].Value)
		}
	}
	return cf, nil
}

func compilePairs(pairs []bson.E) (matcher, error) {
	all := make(andMatcher, 0, len(pairs))
	for _, p := range pairs {
		switch p.Key {
		case "$and", "$or", "$nor":
			subs, err := compileList(p.Key, p.Value)
			if err != nil {
				return nil, err
			}
			switch p.Key {
			case "$and":
				all = append(all, andMatcher(subs))
			case "$or":
				all = append(all, orMatcher(subs))
			default:
				all = append(all, notMatcher{inner: orMatcher(subs)})
			}
			continue
		}
		if strings.HasPrefix(p.Key, "$") {
			return nil, errors.Annotatef(docstore.ErrUnsupportedOperator, "top-level operator %s", p.Key)
		}
		preds, err := compileField(p.Key, p.Value)
		if err != nil {
			return nil, err
		}
		all = append(all, preds...)
	}
	return all, nil
}

func compileList(op string, v any) ([]matcher, error) {
	items, ok := utils.Array(v)
	if !ok || len(items) == 0 {
		return nil, errors.Annotatef(docstore.ErrInvalidQuery, "%s needs a non-empty array", op)
	}
	subs := make([]matcher, 0, len(items))
	for _, item := range items {
		pairs, err := utils.Pairs(item)
		if err != nil {
			return nil, errors.Annotatef(docstore.ErrInvalidQuery, "%s entry: %s", op, err.Error())
		}
		m, err := compilePairs(pairs)
		if err != nil {
			return nil, err
		}
		subs = append(subs, m)
	}
	return subs, nil
}

func compileField(path string, v any) ([]matcher, error) {
	if !utils.IsDocument(v) {
		return []matcher{fieldPredicate{path: path, op: "$eq", value: utils.Normalize(v)}}, nil
	}
	ops, _ := utils.Pairs(v)
	if len(ops) == 0 || !strings.HasPrefix(ops[0].Key, "$") {
		// Embedded document equality.
		return []matcher{fieldPredicate{path: path, op: "$eq", value: utils.Normalize(v)}}, nil
	}
	preds := make([]matcher, 0, len(ops))
	for _, op := range ops {
		switch op.Key {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte", "$exists":
			preds = append(preds, fieldPredicate{path: path, op: op.Key, value: utils.Normalize(op.Value)})
		case "$in", "$nin":
			if _, ok := utils.Array(op.Value); !ok {
				return nil, errors.Annotatef(docstore.ErrInvalidQuery, "%s on %s needs an array", op.Key, path)
			}
			preds = append(preds, fieldPredicate{path: path, op: op.Key, value: utils.Normalize(op.Value)})
		case "$not":
			inner, err := compileField(path, op.Value)
			if err != nil {
				return nil, err
			}
			preds = append(preds, notMatcher{inner: andMatcher(inner)})
		default:
			return nil, errors.Annotatef(docstore.ErrUnsupportedOperator, "%s on %s", op.Key, path)
		}
	}
	return preds, nil
}

// projection selects or drops top-level fields.
type projection struct {
	include   bool
	fields    map[string]struct{}
	excludeID bool
}

func compileProjection(spec any) (*projection, error) {
	if spec == nil {
		return nil, nil
	}
	pairs, err := utils.Pairs(spec)
	if err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidProjection, err.Error())
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	p := &projection{fields: make(map[string]struct{})}
	mode := 0 // 1 include, -1 exclude
	for _, e := range pairs {
		on := utils.Truthy(e.Value)
		if e.Key == "_id" {
			p.excludeID = !on
			continue
		}
		want := -1
		if on {
			want = 1
		}
		if mode != 0 && mode != want {
			return nil, errors.Annotatef(docstore.ErrInvalidProjection, "cannot mix inclusion and exclusion at %s", e.Key)
		}
		mode = want
		p.fields[e.Key] = struct{}{}
	}
	// {_id: 0} alone is an exclusion projection, {_id: 1} alone keeps only _id.
	p.include = mode == 1 || (mode == 0 && !p.excludeID)
	return p, nil
}

func (p *projection) apply(doc map[string]any) map[string]any {
	if p == nil {
		return doc
	}
	out := make(map[string]any, len(doc))
	if p.include {
		for f := range p.fields {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
		if !p.excludeID {
			if id, ok := doc["_id"]; ok {
				out["_id"] = id
			}
		}
		return out
	}
	for k, v := range doc {
		if _, drop := p.fields[k]; drop {
			continue
		}
		if k == "_id" && p.excludeID {
			continue
		}
		out[k] = v
	}
	return out
}

type sortKey struct {
	path string
	desc bool
}

func compileSort(spec any) ([]sortKey, error) {
	pairs, err := utils.Pairs(spec)
	if err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidQuery, err.Error())
	}
	keys := make([]sortKey, 0, len(pairs))
	for _, e := range pairs {
		dir, ok := utils.ToInt64(e.Value)
		if !ok || (dir != 1 && dir != -1) {
			return nil, errors.Annotatef(docstore.ErrInvalidQuery, "sort direction for %s must be 1 or -1", e.Key)
		}
		keys = append(keys, sortKey{path: e.Key, desc: dir < 0})
	}
	return keys, nil
}

// sortDocuments orders docs in place; equal keys keep their incoming order.
func sortDocuments(docs []map[string]any, keys []sortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			a, _ := utils.Lookup(docs[i], k.path)
			b, _ := utils.Lookup(docs[j], k.path)
			cmp := utils.CompareValues(a, b)
			if cmp == 0 {
				continue
			}
			if k.desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// window applies skip then limit.
func window[T any](items []T, skip, limit int64) []T {
	if skip > 0 {
		if skip >= int64(len(items)) {
			return items[:0]
		}
		items = items[skip:]
	}
	if limit > 0 && limit < int64(len(items)) {
		items = items[:limit]
	}
	return items
}
