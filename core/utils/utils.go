package utils

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CopyDocument creates a deep copy of a document.
func CopyDocument(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}

	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = copyValue(v)
	}
	return dst
}

// copyValue creates a deep copy of a value, handling nested structures.
func copyValue(src any) any {
	switch v := src.(type) {
	case map[string]any:
		return CopyDocument(v)
	case []any:
		dst := make([]any, len(v))
		for i, elem := range v {
			dst[i] = copyValue(elem)
		}
		return dst
	default:
		// For primitive types, direct assignment is sufficient
		return v
	}
}

// ToDocument converts any BSON-marshalable value (struct, bson.M, bson.D, map)
// into a plain map with nested documents and arrays normalized.
func ToDocument(v any) (map[string]any, error) {
	if v == nil {
		return nil, errors.New("nil document")
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, errors.Trace(err)
	}
	return Normalize(m).(map[string]any), nil
}

// Normalize rewrites the driver's named BSON container types into plain
// map[string]any and []any so the rest of the package needs one type switch.
func Normalize(v any) any {
	switch val := v.(type) {
	case primitive.M:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = Normalize(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Normalize(e)
		}
		return out
	default:
		return v
	}
}

// Pairs flattens a filter-like value into ordered key/value pairs. Ordered
// inputs keep their order; maps are sorted by key.
func Pairs(v any) ([]bson.E, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case primitive.D:
		return append([]bson.E(nil), val...), nil
	case []bson.E:
		return append([]bson.E(nil), val...), nil
	case primitive.M:
		return sortedPairs(val), nil
	case map[string]any:
		return sortedPairs(val), nil
	default:
		return nil, errors.Errorf("expected a document, got %T", v)
	}
}

func sortedPairs(m map[string]any) []bson.E {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]bson.E, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, bson.E{Key: k, Value: m[k]})
	}
	return pairs
}

// IsDocument reports whether v is any of the document shapes Pairs accepts.
func IsDocument(v any) bool {
	switch v.(type) {
	case primitive.D, []bson.E, primitive.M, map[string]any:
		return true
	}
	return false
}

// Array returns v as a slice if it is any of the array shapes.
func Array(v any) ([]any, bool) {
	switch val := v.(type) {
	case primitive.A:
		return []any(val), true
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

// Lookup resolves a dotted path inside a document.
func Lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// CompareValues orders two values the way the document store sorts them:
// null, numbers, strings, documents, arrays, object ids, booleans, dates.
func CompareValues(a, b any) int {
	// Handle nil values
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}

	// Handle numeric types
	if aIsNum, bIsNum := IsNumber(a), IsNumber(b); aIsNum && bIsNum {
		return compareNumbers(a, b)
	}

	if ra, rb := typeRank(a), typeRank(b); ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	// Handle same types
	if reflect.TypeOf(a) == reflect.TypeOf(b) {
		return compareSameType(a, b)
	}

	// Handle different types by comparing type names
	typeA, typeB := reflect.TypeOf(a).String(), reflect.TypeOf(b).String()
	if typeA < typeB {
		return -1
	} else if typeA > typeB {
		return 1
	}

	return 0
}

// Comparable reports whether a and b belong to the same type bracket, which
// is required for range predicates to match.
func Comparable(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return typeRank(a) == typeRank(b)
}

func typeRank(v any) int {
	switch v.(type) {
	case nil, primitive.Null:
		return 1
	case int, int32, int64, float32, float64:
		return 2
	case string, primitive.Symbol:
		return 3
	case map[string]any, primitive.M, primitive.D:
		return 4
	case []any, primitive.A:
		return 5
	case primitive.Binary:
		return 6
	case primitive.ObjectID:
		return 7
	case bool:
		return 8
	case time.Time, primitive.DateTime:
		return 9
	case primitive.Timestamp:
		return 10
	case primitive.Regex:
		return 11
	default:
		return 12
	}
}

// compareNumbers compares two numeric values.
func compareNumbers(a, b any) int {
	valA := ToFloat64(a)
	valB := ToFloat64(b)

	if valA < valB {
		return -1
	} else if valA > valB {
		return 1
	}
	return 0
}

// compareSameType compares two values of the same type.
func compareSameType(a, b any) int {
	switch va := a.(type) {
	case string:
		return strings.Compare(va, b.(string))

	case bool:
		vb := b.(bool)
		if va == vb {
			return 0
		}
		if va {
			return 1
		}
		return -1

	case primitive.ObjectID:
		vb := b.(primitive.ObjectID)
		return strings.Compare(va.Hex(), vb.Hex())

	case time.Time:
		return va.Compare(b.(time.Time))

	case primitive.DateTime:
		vb := b.(primitive.DateTime)
		if va < vb {
			return -1
		} else if va > vb {
			return 1
		}
		return 0

	case []any:
		vb := b.([]any)
		for i := 0; i < len(va) && i < len(vb); i++ {
			if cmp := CompareValues(va[i], vb[i]); cmp != 0 {
				return cmp
			}
		}
		return compareInts(int64(len(va)), int64(len(vb)))

	default:
		// Fallback to string comparison for other types
		return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
	}
}

func compareInts(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// Equal reports whether two values are equal under CompareValues and belong
// to the same type bracket.
func Equal(a, b any) bool {
	return Comparable(a, b) && CompareValues(a, b) == 0
}

// ToFloat64 converts a numeric value to float64.
func ToFloat64(v any) float64 {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case float64:
		return val
	default:
		return 0 // Should not happen if IsNumber returned true
	}
}

// ToInt64 converts a whole-valued number to int64.
func ToInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case float32:
		if float64(val) == math.Trunc(float64(val)) {
			return int64(val), true
		}
	case float64:
		if val == math.Trunc(val) {
			return int64(val), true
		}
	}
	return 0, false
}

// IsNumber checks if a value is a numeric type.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// IsInteger checks if a value is an integral numeric type.
func IsInteger(v any) bool {
	switch v.(type) {
	case int, int32, int64:
		return true
	default:
		return false
	}
}

// Truthy interprets projection and boolean-ish flags: non-zero numbers and true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case nil:
		return false
	default:
		if IsNumber(v) {
			return ToFloat64(v) != 0
		}
		return true
	}
}
