// Package memstore is an in-memory document store implementing the docstore
// capability set. It backs tests, examples and the CLI's memory backend.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"go.mongodb.org/mongo-driver/bson"
)

// Store is an in-memory database holding named collections.
type Store struct {
	name        string
	collections map[string]*Collection
	mu          sync.Mutex
	closed      atomic.Bool  // Indicates if store is closed
	closes      atomic.Int64 // Number of Close calls
}

// NewStore creates a new, empty store for the named database.
func NewStore(database string) *Store {
	return &Store{
		name:        database,
		collections: make(map[string]*Collection),
	}
}

// Connector returns a docstore.Connector that opens a new Session on every
// call. It fails once the store itself is closed.
func (s *Store) Connector() docstore.Connector {
	return func(ctx context.Context) (docstore.Store, error) {
		if s.closed.Load() {
			return nil, docstore.ErrStoreClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Session{store: s}, nil
	}
}

// Collection returns the named collection, creating it on first use.
func (s *Store) Collection(name string) docstore.Collection {
	return s.collection(name)
}

func (s *Store) collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = newCollection(name, s)
		s.collections[name] = c
	}
	return c
}

// Close shuts the whole store down; later operations and connections fail
// with ErrStoreClosed. Data stays readable through Dump.
func (s *Store) Close(context.Context) error {
	s.closes.Add(1)
	s.closed.Store(true)
	return nil
}

// Closes reports how many times Close has been called on the store or on
// any of its sessions.
func (s *Store) Closes() int64 {
	return s.closes.Load()
}

// Dump returns copies of every document of the named collection in natural
// order. It ignores the closed flag so state can be inspected after a run.
func (s *Store) Dump(name string) []bson.M {
	docs := s.collection(name).snapshot()
	out := make([]bson.M, 0, len(docs))
	for _, d := range docs {
		out = append(out, bson.M(utils.CopyDocument(d)))
	}
	return out
}
