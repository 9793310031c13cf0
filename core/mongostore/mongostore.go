// Package mongostore implements the docstore capability set on top of the
// official MongoDB Go driver.
package mongostore

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

const defaultConnectTimeout = 10 * time.Second

// Options describes where the store lives.
type Options struct {
	URI            string
	Database       string
	AppName        string
	ConnectTimeout time.Duration
}

// Store wraps a connected client bound to one database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials the server and pings the primary. The returned Store must be
// closed by the caller.
func Connect(ctx context.Context, opts Options) (*Store, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.AppName != "" {
		clientOpts.SetAppName(opts.AppName)
	}
	if err := clientOpts.Validate(); err != nil {
		return nil, errors.Annotate(docstore.ErrInvalidQuery, err.Error())
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, translateError(err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), timeout)
		defer disconnectCancel()
		if derr := client.Disconnect(disconnectCtx); derr != nil {
			log.Warn("disconnect after failed ping", zap.Error(derr))
		}
		return nil, translateError(err)
	}
	return &Store{client: client, db: client.Database(opts.Database)}, nil
}

// Connector adapts Connect to docstore.Connector.
func Connector(opts Options) docstore.Connector {
	return func(ctx context.Context) (docstore.Store, error) {
		s, err := Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Collection returns a handle to the named collection.
func (s *Store) Collection(name string) docstore.Collection {
	return &Collection{coll: s.db.Collection(name), db: s.db}
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return translateError(s.client.Disconnect(ctx))
}

// Collection adapts *mongo.Collection to docstore.Collection.
type Collection struct {
	coll *mongo.Collection
	db   *mongo.Database
}

func (c *Collection) Name() string { return c.coll.Name() }

func (c *Collection) Find(ctx context.Context, filter any, opts docstore.FindOptions) ([]bson.M, error) {
	cursor, err := c.coll.Find(ctx, orEmpty(filter), findOptions(opts))
	if err != nil {
		return nil, translateError(err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateError(err)
	}
	return docs, nil
}

func (c *Collection) InsertMany(ctx context.Context, docs []any) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	res, err := c.coll.InsertMany(ctx, docs)
	if err != nil {
		inserted := 0
		if res != nil {
			inserted = len(res.InsertedIDs)
		}
		return inserted, translateError(err)
	}
	return len(res.InsertedIDs), nil
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update any) (docstore.UpdateResult, error) {
	res, err := c.coll.UpdateOne(ctx, orEmpty(filter), update)
	if err != nil {
		return docstore.UpdateResult{}, translateError(err)
	}
	return docstore.UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

func (c *Collection) DeleteOne(ctx context.Context, filter any) (docstore.DeleteResult, error) {
	res, err := c.coll.DeleteOne(ctx, orEmpty(filter))
	if err != nil {
		return docstore.DeleteResult{}, translateError(err)
	}
	return docstore.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline any) ([]bson.M, error) {
	cursor, err := c.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, translateError(err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, translateError(err)
	}
	return docs, nil
}

func (c *Collection) CreateIndex(ctx context.Context, keys bson.D) (string, error) {
	if len(keys) == 0 {
		return "", docstore.ErrEmptyIndex
	}
	name, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
	if err != nil {
		return "", translateError(err)
	}
	return name, nil
}

// Explain runs the explain command for a find, since the driver has no
// cursor-level explain helper.
func (c *Collection) Explain(ctx context.Context, filter any, verbosity string) (bson.M, error) {
	var res bson.M
	err := c.db.RunCommand(ctx, explainCommand(c.coll.Name(), filter, verbosity)).Decode(&res)
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

func findOptions(o docstore.FindOptions) *options.FindOptions {
	opts := options.Find()
	if o.Projection != nil {
		opts.SetProjection(o.Projection)
	}
	if o.Sort != nil {
		opts.SetSort(o.Sort)
	}
	if o.Skip > 0 {
		opts.SetSkip(o.Skip)
	}
	if o.Limit > 0 {
		opts.SetLimit(o.Limit)
	}
	return opts
}

func explainCommand(collection string, filter any, verbosity string) bson.D {
	return bson.D{
		{Key: "explain", Value: bson.D{
			{Key: "find", Value: collection},
			{Key: "filter", Value: orEmpty(filter)},
		}},
		{Key: "verbosity", Value: verbosity},
	}
}

func orEmpty(filter any) any {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

// Server error codes that mean the request itself was malformed.
var invalidQueryCodes = []int{
	2,  // BadValue
	9,  // FailedToParse
	14, // TypeMismatch
	40, // ConflictingUpdateOperators
	52, // DollarPrefixedFieldName
}

// Server error codes raised when an index with the same name or keys exists
// with different options.
var indexConflictCodes = []int{85, 86}

// translateError maps driver errors onto docstore sentinels so callers can
// classify failures without importing the driver.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	for _, ctxErr := range []error{context.Canceled, context.DeadlineExceeded} {
		if err == ctxErr {
			return errors.Trace(err)
		}
		if stderrors.Is(err, ctxErr) {
			return errors.Annotate(ctxErr, err.Error())
		}
	}
	if stderrors.Is(err, mongo.ErrClientDisconnected) {
		return errors.Annotate(docstore.ErrStoreClosed, err.Error())
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return errors.Annotate(docstore.ErrUnavailable, err.Error())
	}
	var se mongo.ServerError
	if stderrors.As(err, &se) {
		for _, code := range invalidQueryCodes {
			if se.HasErrorCode(code) {
				return errors.Annotate(docstore.ErrInvalidQuery, err.Error())
			}
		}
		for _, code := range indexConflictCodes {
			if se.HasErrorCode(code) {
				return errors.Annotate(docstore.ErrIndexExists, err.Error())
			}
		}
		if mongo.IsDuplicateKeyError(err) {
			return errors.Annotate(docstore.ErrDuplicateKey, err.Error())
		}
	}
	return errors.Trace(err)
}
