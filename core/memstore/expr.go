package memstore

import (
	"math"
	"strings"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/pingcap/errors"
)

// evalExpr evaluates an aggregation expression against doc. Field paths start
// with "$"; operator documents have a single "$op" key; anything else is a
// literal or an object literal whose fields are evaluated.
func evalExpr(expr any, doc map[string]any) (any, error) {
	if s, ok := expr.(string); ok && strings.HasPrefix(s, "$") {
		v, _ := utils.Lookup(doc, s[1:])
		return v, nil
	}
	if arr, ok := utils.Array(expr); ok {
		out := make([]any, len(arr))
		for i, e := range arr {
			v, err := evalExpr(e, doc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	if !utils.IsDocument(expr) {
		return utils.Normalize(expr), nil
	}
	pairs, _ := utils.Pairs(expr)
	if len(pairs) == 1 && strings.HasPrefix(pairs[0].Key, "$") {
		return evalOperator(pairs[0].Key, pairs[0].Value, doc)
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		v, err := evalExpr(p.Value, doc)
		if err != nil {
			return nil, err
		}
		out[p.Key] = v
	}
	return out, nil
}

func evalOperator(op string, arg any, doc map[string]any) (any, error) {
	switch op {
	case "$literal":
		return utils.Normalize(arg), nil
	case "$floor", "$ceil", "$abs":
		v, err := evalExpr(unwrapSingle(arg), doc)
		if err != nil || v == nil {
			return nil, err
		}
		if !utils.IsNumber(v) {
			return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "%s needs a number, got %T", op, v)
		}
		if utils.IsInteger(v) {
			if op == "$abs" {
				n, _ := utils.ToInt64(v)
				if n < 0 {
					n = -n
				}
				return narrowInt(n), nil
			}
			return v, nil
		}
		f := utils.ToFloat64(v)
		switch op {
		case "$floor":
			return math.Floor(f), nil
		case "$ceil":
			return math.Ceil(f), nil
		default:
			return math.Abs(f), nil
		}
	case "$add", "$multiply":
		args, err := evalArgs(op, arg, doc, -1)
		if err != nil || args == nil {
			return nil, err
		}
		acc := args[0]
		for _, next := range args[1:] {
			if op == "$add" {
				acc = addNumbers(acc, next)
			} else {
				acc = mulNumbers(acc, next)
			}
		}
		return acc, nil
	case "$subtract", "$divide", "$mod":
		args, err := evalArgs(op, arg, doc, 2)
		if err != nil || args == nil {
			return nil, err
		}
		a, b := args[0], args[1]
		switch op {
		case "$subtract":
			if utils.IsInteger(a) && utils.IsInteger(b) {
				x, _ := utils.ToInt64(a)
				y, _ := utils.ToInt64(b)
				return narrowInt(x - y), nil
			}
			return utils.ToFloat64(a) - utils.ToFloat64(b), nil
		case "$divide":
			if utils.ToFloat64(b) == 0 {
				return nil, errors.Annotate(docstore.ErrInvalidPipeline, "$divide by zero")
			}
			return utils.ToFloat64(a) / utils.ToFloat64(b), nil
		default:
			if utils.ToFloat64(b) == 0 {
				return nil, errors.Annotate(docstore.ErrInvalidPipeline, "$mod by zero")
			}
			if utils.IsInteger(a) && utils.IsInteger(b) {
				x, _ := utils.ToInt64(a)
				y, _ := utils.ToInt64(b)
				return narrowInt(x % y), nil
			}
			return math.Mod(utils.ToFloat64(a), utils.ToFloat64(b)), nil
		}
	}
	return nil, errors.Annotatef(docstore.ErrUnsupportedOperator, "expression operator %s", op)
}

// evalArgs evaluates an operator's argument list. It returns nil args when any
// operand is null, which makes the whole expression null.
func evalArgs(op string, arg any, doc map[string]any, want int) ([]any, error) {
	items, ok := utils.Array(arg)
	if !ok || len(items) == 0 || (want > 0 && len(items) != want) {
		return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "%s takes an array of arguments", op)
	}
	args := make([]any, len(items))
	for i, item := range items {
		v, err := evalExpr(item, doc)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, nil
		}
		if !utils.IsNumber(v) {
			return nil, errors.Annotatef(docstore.ErrInvalidPipeline, "%s needs numbers, got %T", op, v)
		}
		args[i] = v
	}
	return args, nil
}

func unwrapSingle(arg any) any {
	if arr, ok := utils.Array(arg); ok && len(arr) == 1 {
		return arr[0]
	}
	return arg
}

func mulNumbers(a, b any) any {
	if utils.IsInteger(a) && utils.IsInteger(b) {
		x, _ := utils.ToInt64(a)
		y, _ := utils.ToInt64(b)
		return narrowInt(x * y)
	}
	return utils.ToFloat64(a) * utils.ToFloat64(b)
}
