package memstore

import (
	"strings"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
)

type updateOp struct {
	op     string
	fields []bson.E
}

// compileUpdate validates an update document. Only operator updates are
// accepted; replacements go through a dedicated call in the real driver.
func compileUpdate(update any) ([]updateOp, error) {
	pairs, err := utils.Pairs(update)
	if err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidUpdate, err.Error())
	}
	if len(pairs) == 0 {
		return nil, errors.Annotate(docstore.ErrInvalidUpdate, "update document is empty")
	}
	ops := make([]updateOp, 0, len(pairs))
	for _, p := range pairs {
		switch p.Key {
		case "$set", "$inc", "$unset":
		default:
			if !strings.HasPrefix(p.Key, "$") {
				return nil, errors.Annotatef(docstore.ErrInvalidUpdate, "update requires operators, found field %s", p.Key)
			}
			return nil, errors.Annotatef(docstore.ErrUnsupportedOperator, "update operator %s", p.Key)
		}
		fields, err := utils.Pairs(p.Value)
		if err != nil {
			return nil, errors.Annotatef(docstore.ErrInvalidUpdate, "%s: %s", p.Key, err.Error())
		}
		for _, f := range fields {
			if f.Key == "_id" {
				return nil, errors.Annotate(docstore.ErrInvalidUpdate, "_id is immutable")
			}
			if p.Key == "$inc" && !utils.IsNumber(f.Value) {
				return nil, errors.Annotatef(docstore.ErrInvalidUpdate, "$inc on %s needs a number", f.Key)
			}
		}
		ops = append(ops, updateOp{op: p.Key, fields: fields})
	}
	return ops, nil
}

// applyUpdate returns an updated copy of doc.
func applyUpdate(doc map[string]any, ops []updateOp) (map[string]any, error) {
	out := utils.CopyDocument(doc)
	for _, op := range ops {
		for _, f := range op.fields {
			switch op.op {
			case "$set":
				if err := setPath(out, f.Key, utils.Normalize(f.Value)); err != nil {
					return nil, err
				}
			case "$unset":
				unsetPath(out, f.Key)
			case "$inc":
				cur, exists := utils.Lookup(out, f.Key)
				if !exists || cur == nil {
					cur = int32(0)
				}
				if !utils.IsNumber(cur) {
					return nil, errors.Annotatef(docstore.ErrInvalidUpdate, "cannot $inc non-numeric field %s", f.Key)
				}
				if err := setPath(out, f.Key, addNumbers(cur, f.Value)); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

func setPath(doc map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			child := make(map[string]any)
			cur[part] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return errors.Annotatef(docstore.ErrInvalidUpdate, "cannot create field under non-document %s", part)
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

func unsetPath(doc map[string]any, path string) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		child, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = child
	}
	delete(cur, parts[len(parts)-1])
}

// addNumbers keeps integer arithmetic integral and widens to float64 otherwise.
func addNumbers(a, b any) any {
	if utils.IsInteger(a) && utils.IsInteger(b) {
		x, _ := utils.ToInt64(a)
		y, _ := utils.ToInt64(b)
		return narrowInt(x + y)
	}
	return utils.ToFloat64(a) + utils.ToFloat64(b)
}

// narrowInt returns int32 when the value fits, matching how the driver
// encodes small integers.
func narrowInt(n int64) any {
	if n >= -1<<31 && n <= 1<<31-1 {
		return int32(n)
	}
	return n
}
