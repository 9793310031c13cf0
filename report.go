package bookstore

import (
	"fmt"
	"io"
	"sort"

	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Reporter renders the outcome of a run for a human reader.
type Reporter interface {
	Connected(database string)
	Result(index int, op Operation, res Result) error
	Closed()
}

type textReporter struct {
	w io.Writer
}

// NewTextReporter prints results as relaxed Extended JSON, one document per
// line, with keys sorted and _id first.
func NewTextReporter(w io.Writer) Reporter {
	return &textReporter{w: w}
}

func (r *textReporter) Connected(database string) {
	fmt.Fprintf(r.w, "Connected to %s\n", database)
}

func (r *textReporter) Closed() {
	fmt.Fprintln(r.w, "\nConnection closed")
}

func (r *textReporter) Result(index int, op Operation, res Result) error {
	if res.Documents != nil || res.Value == nil {
		fmt.Fprintf(r.w, "\n[%d] %s (%d):\n", index, op.Label, len(res.Documents))
		for _, doc := range res.Documents {
			line, err := renderDocument(doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(r.w, "  %s\n", line)
		}
		return nil
	}

	switch v := res.Value.(type) {
	case bson.M:
		line, err := renderDocument(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.w, "\n[%d] %s: %s\n", index, op.Label, line)
	default:
		fmt.Fprintf(r.w, "\n[%d] %s: %v\n", index, op.Label, v)
	}
	return nil
}

func renderDocument(doc bson.M) (string, error) {
	out, err := bson.MarshalExtJSON(ordered(doc), false, false)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(out), nil
}

// ordered converts a document to bson.D so the output is stable: _id first,
// then the remaining keys in lexical order. Nested documents get the same
// treatment.
func ordered(doc map[string]any) bson.D {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if k != "_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(bson.D, 0, len(doc))
	if id, ok := doc["_id"]; ok {
		out = append(out, bson.E{Key: "_id", Value: orderedValue(id)})
	}
	for _, k := range keys {
		out = append(out, bson.E{Key: k, Value: orderedValue(doc[k])})
	}
	return out
}

func orderedValue(v any) any {
	switch val := utils.Normalize(v).(type) {
	case map[string]any:
		return ordered(val)
	case []any:
		arr := make(bson.A, len(val))
		for i, e := range val {
			arr[i] = orderedValue(e)
		}
		return arr
	default:
		return val
	}
}
