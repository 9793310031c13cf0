package memstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// stage is one step of a compiled pipeline.
type stage func(docs []map[string]any) ([]map[string]any, error)

// compilePipeline accepts mongo.Pipeline, []bson.D, []bson.M, bson.A or []any.
func compilePipeline(pipeline any) ([]stage, error) {
	var raw []any
	switch p := pipeline.(type) {
	case mongo.Pipeline:
		for _, s := range p {
			raw = append(raw, s)
		}
	case []bson.D:
		for _, s := range p {
			raw = append(raw, s)
		}
	case []bson.M:
		for _, s := range p {
			raw = append(raw, s)
		}
	case []map[string]any:
		for _, s := range p {
			raw = append(raw, s)
		}
	default:
		arr, ok := utils.Array(pipeline)
		if !ok {
			return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "pipeline must be an array, got %T", pipeline)
		}
		raw = arr
	}

	stages := make([]stage, 0, len(raw))
	for i, s := range raw {
		pairs, err := utils.Pairs(s)
		if err != nil || len(pairs) != 1 {
			return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "stage %d must be a single-key document", i)
		}
		st, err := compileStage(pairs[0].Key, pairs[0].Value)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}

func compileStage(name string, spec any) (stage, error) {
	switch name {
	case "$match":
		f, err := compileFilter(spec)
		if err != nil {
			return nil, err
		}
		return func(docs []map[string]any) ([]map[string]any, error) {
			out := docs[:0:0]
			for _, d := range docs {
				if f.match(d) {
					out = append(out, d)
				}
			}
			return out, nil
		}, nil
	case "$group":
		return compileGroup(spec)
	case "$sort":
		keys, err := compileSort(spec)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, errors.Annotate(docstore.ErrInvalidPipeline, "$sort needs at least one key")
		}
		return func(docs []map[string]any) ([]map[string]any, error) {
			sortDocuments(docs, keys)
			return docs, nil
		}, nil
	case "$limit", "$skip":
		n, ok := utils.ToInt64(spec)
		if !ok || n < 0 || (name == "$limit" && n == 0) {
			return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "%s needs a positive integer", name)
		}
		return func(docs []map[string]any) ([]map[string]any, error) {
			if name == "$limit" {
				return window(docs, 0, n), nil
			}
			return window(docs, n, 0), nil
		}, nil
	case "$project":
		return compileProject(spec)
	case "$count":
		field, ok := spec.(string)
		if !ok || field == "" || strings.HasPrefix(field, "$") {
			return nil, errors.Annotate(docstore.ErrInvalidPipeline, "$count needs a field name")
		}
		return func(docs []map[string]any) ([]map[string]any, error) {
			if len(docs) == 0 {
				return nil, nil
			}
			return []map[string]any{{field: narrowInt(int64(len(docs)))}}, nil
		}, nil
	}
	return nil, errors.Annotatef(docstore.ErrUnsupportedOperator, "pipeline stage %s", name)
}

// accumulator folds the values of one output field of a $group.
type accumulator struct {
	field string
	op    string
	expr  any
}

type groupState struct {
	id     any
	values map[string]*accState
}

type accState struct {
	sum      float64
	intSum   int64
	isFloat  bool
	count    int64
	val      any
	set      bool
	elements []any
}

func compileGroup(spec any) (stage, error) {
	pairs, err := utils.Pairs(spec)
	if err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidPipeline, err.Error())
	}
	var (
		idExpr any
		hasID  bool
		accs   []accumulator
	)
	for _, p := range pairs {
		if p.Key == "_id" {
			idExpr, hasID = p.Value, true
			continue
		}
		ops, err := utils.Pairs(p.Value)
		if err != nil || len(ops) != 1 {
			return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "$group field %s must be an accumulator", p.Key)
		}
		switch ops[0].Key {
		case "$sum", "$avg", "$min", "$max", "$first", "$last", "$push":
		default:
			return nil, errors.Annotatef(docstore.ErrUnsupportedOperator, "accumulator %s", ops[0].Key)
		}
		accs = append(accs, accumulator{field: p.Key, op: ops[0].Key, expr: ops[0].Value})
	}
	if !hasID {
		return nil, errors.Annotate(docstore.ErrInvalidPipeline, "$group requires an _id")
	}

	return func(docs []map[string]any) ([]map[string]any, error) {
		var (
			order  []string
			groups = make(map[string]*groupState)
		)
		for _, d := range docs {
			id, err := evalExpr(idExpr, d)
			if err != nil {
				return nil, err
			}
			key := groupKey(id)
			g, ok := groups[key]
			if !ok {
				g = &groupState{id: id, values: make(map[string]*accState, len(accs))}
				for _, a := range accs {
					g.values[a.field] = &accState{}
				}
				groups[key] = g
				order = append(order, key)
			}
			for _, a := range accs {
				v, err := evalExpr(a.expr, d)
				if err != nil {
					return nil, err
				}
				g.values[a.field].add(a.op, v)
			}
		}

		out := make([]map[string]any, 0, len(order))
		for _, key := range order {
			g := groups[key]
			doc := map[string]any{"_id": g.id}
			for _, a := range accs {
				doc[a.field] = g.values[a.field].result(a.op)
			}
			out = append(out, doc)
		}
		return out, nil
	}, nil
}

func (s *accState) add(op string, v any) {
	switch op {
	case "$sum", "$avg":
		if !utils.IsNumber(v) {
			return
		}
		s.count++
		s.sum += utils.ToFloat64(v)
		if utils.IsInteger(v) {
			n, _ := utils.ToInt64(v)
			s.intSum += n
		} else {
			s.isFloat = true
		}
	case "$min", "$max":
		if v == nil {
			return
		}
		if !s.set {
			s.val, s.set = v, true
			return
		}
		cmp := utils.CompareValues(v, s.val)
		if (op == "$min" && cmp < 0) || (op == "$max" && cmp > 0) {
			s.val = v
		}
	case "$first":
		if !s.set {
			s.val, s.set = v, true
		}
	case "$last":
		s.val, s.set = v, true
	case "$push":
		s.elements = append(s.elements, v)
	}
}

func (s *accState) result(op string) any {
	switch op {
	case "$sum":
		if s.isFloat {
			return s.sum
		}
		return narrowInt(s.intSum)
	case "$avg":
		if s.count == 0 {
			return nil
		}
		return s.sum / float64(s.count)
	case "$push":
		if s.elements == nil {
			return []any{}
		}
		return s.elements
	default:
		return s.val
	}
}

// groupKey canonicalizes a group _id so numerically equal values of
// different widths land in the same group.
func groupKey(v any) string {
	switch {
	case v == nil:
		return "null"
	case utils.IsNumber(v):
		return "n:" + strconv.FormatFloat(utils.ToFloat64(v), 'g', -1, 64)
	}
	if m, ok := v.(map[string]any); ok {
		pairs, _ := utils.Pairs(m)
		parts := make([]string, len(pairs))
		for i, p := range pairs {
			parts[i] = p.Key + "=" + groupKey(p.Value)
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return fmt.Sprintf("%T:%v", v, v)
}

func compileProject(spec any) (stage, error) {
	pairs, err := utils.Pairs(spec)
	if err != nil || len(pairs) == 0 {
		return nil, errors.Annotate(docstore.ErrInvalidPipeline, "$project needs a document")
	}
	computed := make([]bson.E, 0)
	flags := bson.D{}
	for _, p := range pairs {
		if utils.IsNumber(p.Value) || isBool(p.Value) {
			flags = append(flags, p)
			continue
		}
		computed = append(computed, p)
	}
	proj, err := compileProjection(flags)
	if err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidPipeline, err.Error())
	}
	if len(computed) > 0 && proj != nil && !proj.include {
		if len(proj.fields) > 0 {
			return nil, errors.Annotate(docstore.ErrInvalidPipeline, "cannot mix computed fields with exclusions")
		}
	}
	return func(docs []map[string]any) ([]map[string]any, error) {
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			var projected map[string]any
			switch {
			case proj != nil:
				projected = proj.apply(d)
			case len(computed) > 0:
				// Computed-only projections keep _id.
				projected = map[string]any{}
				if id, ok := d["_id"]; ok {
					projected["_id"] = id
				}
			default:
				projected = utils.CopyDocument(d)
			}
			if proj != nil && !proj.include && len(computed) > 0 {
				// {_id: 0, x: expr}: keep only computed fields.
				projected = map[string]any{}
			}
			for _, c := range computed {
				v, err := evalExpr(c.Value, d)
				if err != nil {
					return nil, err
				}
				projected[c.Key] = v
			}
			out = append(out, projected)
		}
		return out, nil
	}, nil
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}
