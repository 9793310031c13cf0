package memstore

import (
	"reflect"
	"sync"

	"github.com/asaidimu/bookstore-queries/core/utils"
	"github.com/google/btree"
	"go.mongodb.org/mongo-driver/bson"
)

// indexKey represents a composite key for index entries.
type indexKey struct {
	values []any
}

// Less implements btree.Item interface for ordering index keys.
func (ik indexKey) Less(other btree.Item) bool {
	otherKey := other.(indexKey)

	// Compare values element by element
	minLen := min(len(otherKey.values), len(ik.values))

	for i := 0; i < minLen; i++ {
		if cmp := utils.CompareValues(ik.values[i], otherKey.values[i]); cmp != 0 {
			return cmp < 0
		}
	}

	// If all compared values are equal, shorter key comes first
	return len(ik.values) < len(otherKey.values)
}

// indexEntry stores a key and the set of document IDs that match it.
type indexEntry struct {
	key    indexKey
	docIDs map[string]struct{}
}

// Less implements btree.Item interface for ordering index entries.
func (ie indexEntry) Less(other btree.Item) bool {
	return ie.key.Less(other.(indexEntry).key)
}

// fieldIndex is a B-tree based index on one or more document fields.
// Documents missing any indexed field are left out of the tree.
type fieldIndex struct {
	name   string
	keys   bson.D
	fields []string
	tree   *btree.BTree
	mu     sync.RWMutex
}

// newFieldIndex creates a new field index over the key pattern.
func newFieldIndex(name string, keys bson.D) *fieldIndex {
	fields := make([]string, len(keys))
	for i, k := range keys {
		fields[i] = k.Key
	}
	return &fieldIndex{
		name:   name,
		keys:   keys,
		fields: fields,
		tree:   btree.New(32),
	}
}

// sameKeys reports whether the index was built over exactly this key pattern.
func (fi *fieldIndex) sameKeys(keys bson.D) bool {
	if len(keys) != len(fi.keys) {
		return false
	}
	for i := range keys {
		if keys[i].Key != fi.keys[i].Key || docstoreDirection(keys[i].Value) != docstoreDirection(fi.keys[i].Value) {
			return false
		}
	}
	return true
}

// insertDocument adds a document to the index if it has values for all indexed fields.
func (fi *fieldIndex) insertDocument(id string, data map[string]any) bool {
	keys := fi.extractKeys(data)
	if keys == nil {
		return false
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, key := range keys {
		fi.addToIndex(id, key)
	}
	return true
}

// updateDocument moves a document to its new positions in the index.
func (fi *fieldIndex) updateDocument(id string, prev, cur map[string]any) {
	oldKeys := fi.extractKeys(prev)
	newKeys := fi.extractKeys(cur)

	if reflect.DeepEqual(oldKeys, newKeys) {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	for _, key := range oldKeys {
		fi.removeFromIndex(id, key)
	}
	for _, key := range newKeys {
		fi.addToIndex(id, key)
	}
}

// deleteDocument removes a document from the index.
func (fi *fieldIndex) deleteDocument(id string, data map[string]any) {
	keys := fi.extractKeys(data)
	if keys == nil {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()
	for _, key := range keys {
		fi.removeFromIndex(id, key)
	}
}

// removeFromIndex removes a document ID from an index entry.
func (fi *fieldIndex) removeFromIndex(id string, keyValues []any) {
	searchEntry := indexEntry{key: indexKey{values: keyValues}}

	if item := fi.tree.Get(searchEntry); item != nil {
		entry := item.(indexEntry)
		delete(entry.docIDs, id)

		// Clean up empty entries
		if len(entry.docIDs) == 0 {
			fi.tree.Delete(searchEntry)
		}
	}
}

// addToIndex adds a document ID to an index entry.
func (fi *fieldIndex) addToIndex(id string, keyValues []any) {
	searchEntry := indexEntry{key: indexKey{values: keyValues}}

	if item := fi.tree.Get(searchEntry); item != nil {
		entry := item.(indexEntry)
		entry.docIDs[id] = struct{}{}
		return
	}
	fi.tree.ReplaceOrInsert(indexEntry{
		key:    indexKey{values: keyValues},
		docIDs: map[string]struct{}{id: {}},
	})
}

// extractKeys returns every index key for a document, or nil when an
// indexed field is missing. An array value is indexed as a whole and once per
// element, so equality on an element finds the document through the index
// just as a collection scan would.
func (fi *fieldIndex) extractKeys(data map[string]any) [][]any {
	keys := [][]any{{}}

	for _, field := range fi.fields {
		value, exists := utils.Lookup(data, field)
		if !exists || value == nil {
			return nil
		}
		candidates := []any{value}
		if arr, ok := utils.Array(value); ok {
			for _, elem := range arr {
				if elem != nil {
					candidates = append(candidates, elem)
				}
			}
		}

		next := make([][]any, 0, len(keys)*len(candidates))
		for _, key := range keys {
			for _, c := range candidates {
				next = append(next, append(append(make([]any, 0, len(key)+1), key...), c))
			}
		}
		keys = next
	}

	return keys
}

// lookupPrefix returns the IDs of documents whose leading key values equal
// prefix, and the number of index keys walked to find them. A document
// reached through several keys is returned once.
func (fi *fieldIndex) lookupPrefix(prefix []any) ([]string, int) {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	var (
		result      []string
		keysVisited int
		seen        = make(map[string]struct{})
	)
	pivot := indexEntry{key: indexKey{values: prefix}}
	fi.tree.AscendGreaterOrEqual(pivot, func(item btree.Item) bool {
		entry := item.(indexEntry)
		for i, v := range prefix {
			if !utils.Equal(entry.key.values[i], v) {
				return false
			}
		}
		for id := range entry.docIDs {
			keysVisited++
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)
		}
		return true
	})
	return result, keysVisited
}

// len returns the number of distinct keys in the index.
func (fi *fieldIndex) len() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return fi.tree.Len()
}

func docstoreDirection(v any) int {
	if n, ok := utils.ToInt64(v); ok && n < 0 {
		return -1
	}
	return 1
}
