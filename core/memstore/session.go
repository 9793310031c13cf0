package memstore

import (
	"context"
	"sync/atomic"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"go.mongodb.org/mongo-driver/bson"
)

// Session is one connection to a Store. Closing it ends that connection
// only; the store and its other sessions keep working.
type Session struct {
	store  *Store
	closed atomic.Bool
}

// Collection returns the named collection as seen through this session.
func (s *Session) Collection(name string) docstore.Collection {
	return &sessionCollection{Collection: s.store.collection(name), session: s}
}

// Close ends the session. It is counted in the store's Closes.
func (s *Session) Close(context.Context) error {
	s.store.closes.Add(1)
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called on this session.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// sessionCollection rejects every call once its session is closed.
type sessionCollection struct {
	*Collection
	session *Session
}

func (c *sessionCollection) check() error {
	if c.session.closed.Load() {
		return docstore.ErrStoreClosed
	}
	return nil
}

func (c *sessionCollection) InsertMany(ctx context.Context, docs []any) (int, error) {
	if err := c.check(); err != nil {
		return 0, err
	}
	return c.Collection.InsertMany(ctx, docs)
}

func (c *sessionCollection) Find(ctx context.Context, filter any, opts docstore.FindOptions) ([]bson.M, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.Collection.Find(ctx, filter, opts)
}

func (c *sessionCollection) UpdateOne(ctx context.Context, filter, update any) (docstore.UpdateResult, error) {
	if err := c.check(); err != nil {
		return docstore.UpdateResult{}, err
	}
	return c.Collection.UpdateOne(ctx, filter, update)
}

func (c *sessionCollection) DeleteOne(ctx context.Context, filter any) (docstore.DeleteResult, error) {
	if err := c.check(); err != nil {
		return docstore.DeleteResult{}, err
	}
	return c.Collection.DeleteOne(ctx, filter)
}

func (c *sessionCollection) Aggregate(ctx context.Context, pipeline any) ([]bson.M, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.Collection.Aggregate(ctx, pipeline)
}

func (c *sessionCollection) CreateIndex(ctx context.Context, keys bson.D) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	return c.Collection.CreateIndex(ctx, keys)
}

func (c *sessionCollection) Explain(ctx context.Context, filter any, verbosity string) (bson.M, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.Collection.Explain(ctx, filter, verbosity)
}
