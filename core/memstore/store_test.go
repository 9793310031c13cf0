package memstore

import (
	"context"
	"testing"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func newBooks(t *testing.T) (*Store, *Collection) {
	t.Helper()
	s := NewStore("plp_bookstore")
	c := s.collection("books")
	_, err := c.InsertMany(context.Background(), []any{
		bson.M{"_id": "b1", "title": "1984", "author": "George Orwell", "genre": "Dystopian", "published_year": 1949, "price": 10.99, "in_stock": true},
		bson.M{"_id": "b2", "title": "The Hobbit", "author": "J.R.R. Tolkien", "genre": "Fantasy", "published_year": 1937, "price": 14.99, "in_stock": true},
		bson.M{"_id": "b3", "title": "Moby Dick", "author": "Herman Melville", "genre": "Adventure", "published_year": 1851, "price": 12.50, "in_stock": false},
		bson.M{"_id": "b4", "title": "Animal Farm", "author": "George Orwell", "genre": "Political Satire", "published_year": 1945, "price": 8.50, "in_stock": false},
		bson.M{"_id": "b5", "title": "Project Hail Mary", "author": "Andy Weir", "genre": "Science Fiction", "published_year": 2021, "price": 15.99, "in_stock": true},
		bson.M{"_id": "b6", "title": "The Road", "author": "Cormac McCarthy", "genre": "Fiction", "published_year": 2006, "price": 11.99, "in_stock": false},
	})
	require.NoError(t, err)
	return s, c
}

func titles(docs []bson.M) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["title"].(string))
	}
	return out
}

// TestInsertManyAssignsIDs tests that documents without _id get one.
func TestInsertManyAssignsIDs(t *testing.T) {
	t.Parallel()
	s := NewStore("db")
	c := s.Collection("c")

	n, err := c.InsertMany(context.Background(), []any{bson.M{"a": 1}, bson.D{{Key: "a", Value: 2}}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	docs := s.Dump("c")
	require.Len(t, docs, 2)
	for _, d := range docs {
		id, ok := d["_id"].(string)
		require.True(t, ok)
		require.NotEmpty(t, id)
	}
	require.NotEqual(t, docs[0]["_id"], docs[1]["_id"])
}

// TestInsertManyDuplicateKey tests that a repeated _id stops the insert.
func TestInsertManyDuplicateKey(t *testing.T) {
	t.Parallel()
	s := NewStore("db")
	c := s.Collection("c")

	n, err := c.InsertMany(context.Background(), []any{
		bson.M{"_id": 1}, bson.M{"_id": int64(1)}, bson.M{"_id": 2},
	})
	require.Equal(t, 1, n)
	require.Equal(t, docstore.ErrDuplicateKey, errors.Cause(err))
	require.Len(t, s.Dump("c"), 1)
}

func TestFindFilters(t *testing.T) {
	t.Parallel()
	_, c := newBooks(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter any
		want   []string
	}{
		{"equality", bson.D{{Key: "author", Value: "George Orwell"}}, []string{"1984", "Animal Farm"}},
		{"gt", bson.D{{Key: "published_year", Value: bson.D{{Key: "$gt", Value: 2000}}}}, []string{"Project Hail Mary", "The Road"}},
		{"implicit and", bson.D{
			{Key: "in_stock", Value: true},
			{Key: "published_year", Value: bson.D{{Key: "$gt", Value: 2010}}},
		}, []string{"Project Hail Mary"}},
		{"in", bson.M{"genre": bson.M{"$in": bson.A{"Fantasy", "Fiction"}}}, []string{"The Hobbit", "The Road"}},
		{"nin", bson.M{"genre": bson.M{"$nin": bson.A{"Fantasy", "Fiction", "Dystopian"}}}, []string{"Moby Dick", "Animal Farm", "Project Hail Mary"}},
		{"range", bson.M{"price": bson.M{"$gte": 10, "$lt": 12.5}}, []string{"1984", "The Road"}},
		{"or", bson.M{"$or": bson.A{bson.M{"title": "1984"}, bson.M{"price": bson.M{"$lt": 9}}}}, []string{"1984", "Animal Farm"}},
		{"ne", bson.M{"in_stock": bson.M{"$ne": true}}, []string{"Moby Dick", "Animal Farm", "The Road"}},
		{"exists false", bson.M{"pages": bson.M{"$exists": false}, "title": "1984"}, []string{"1984"}},
		{"type bracket", bson.M{"published_year": bson.M{"$gt": "2000"}}, []string{}},
		{"empty", bson.D{}, []string{"1984", "The Hobbit", "Moby Dick", "Animal Farm", "Project Hail Mary", "The Road"}},
		{"nil", nil, []string{"1984", "The Hobbit", "Moby Dick", "Animal Farm", "Project Hail Mary", "The Road"}},
	}
	for _, tt := range tests {
		docs, err := c.Find(ctx, tt.filter, docstore.FindOptions{})
		require.NoError(t, err, tt.name)
		require.Equal(t, tt.want, titles(docs), tt.name)
	}
}

func TestFindRejectsBadFilters(t *testing.T) {
	t.Parallel()
	_, c := newBooks(t)
	ctx := context.Background()

	_, err := c.Find(ctx, bson.M{"title": bson.M{"$regex": "^1"}}, docstore.FindOptions{})
	require.Equal(t, docstore.ErrUnsupportedOperator, errors.Cause(err))

	_, err = c.Find(ctx, bson.M{"$where": "true"}, docstore.FindOptions{})
	require.Equal(t, docstore.ErrUnsupportedOperator, errors.Cause(err))

	_, err = c.Find(ctx, bson.M{"genre": bson.M{"$in": "Fiction"}}, docstore.FindOptions{})
	require.Equal(t, docstore.ErrInvalidQuery, errors.Cause(err))

	_, err = c.Find(ctx, "title", docstore.FindOptions{})
	require.Equal(t, docstore.ErrInvalidQuery, errors.Cause(err))

	_, err = c.Find(ctx, nil, docstore.FindOptions{Sort: bson.D{{Key: "price", Value: 2}}})
	require.Equal(t, docstore.ErrInvalidQuery, errors.Cause(err))
}

func TestFindProjection(t *testing.T) {
	t.Parallel()
	_, c := newBooks(t)
	ctx := context.Background()

	docs, err := c.Find(ctx, bson.M{"title": "1984"}, docstore.FindOptions{
		Projection: bson.D{{Key: "title", Value: 1}, {Key: "author", Value: 1}, {Key: "price", Value: 1}, {Key: "_id", Value: 0}},
	})
	require.NoError(t, err)
	require.Equal(t, []bson.M{{"title": "1984", "author": "George Orwell", "price": 10.99}}, docs)

	docs, err = c.Find(ctx, bson.M{"title": "1984"}, docstore.FindOptions{
		Projection: bson.M{"title": 1},
	})
	require.NoError(t, err)
	require.Equal(t, []bson.M{{"_id": "b1", "title": "1984"}}, docs)

	docs, err = c.Find(ctx, bson.M{"title": "1984"}, docstore.FindOptions{
		Projection: bson.M{"genre": 0, "in_stock": 0, "published_year": 0, "_id": 0},
	})
	require.NoError(t, err)
	require.Equal(t, []bson.M{{"title": "1984", "author": "George Orwell", "price": 10.99}}, docs)

	_, err = c.Find(ctx, nil, docstore.FindOptions{Projection: bson.D{{Key: "title", Value: 1}, {Key: "price", Value: 0}}})
	require.Equal(t, docstore.ErrInvalidProjection, errors.Cause(err))
}

func TestFindSortSkipLimit(t *testing.T) {
	t.Parallel()
	_, c := newBooks(t)
	ctx := context.Background()

	asc, err := c.Find(ctx, nil, docstore.FindOptions{Sort: bson.D{{Key: "price", Value: 1}}})
	require.NoError(t, err)
	require.Equal(t, []string{"Animal Farm", "1984", "The Road", "Moby Dick", "The Hobbit", "Project Hail Mary"}, titles(asc))

	desc, err := c.Find(ctx, nil, docstore.FindOptions{Sort: bson.D{{Key: "price", Value: -1}}})
	require.NoError(t, err)
	require.Equal(t, []string{"Project Hail Mary", "The Hobbit", "Moby Dick", "The Road", "1984", "Animal Farm"}, titles(desc))

	byTitle := docstore.FindOptions{Sort: bson.D{{Key: "title", Value: 1}, {Key: "_id", Value: 1}}}
	page1 := byTitle
	page1.Limit = 4
	page2 := byTitle
	page2.Skip, page2.Limit = 4, 4

	p1, err := c.Find(ctx, nil, page1)
	require.NoError(t, err)
	p2, err := c.Find(ctx, nil, page2)
	require.NoError(t, err)
	require.Equal(t, []string{"1984", "Animal Farm", "Moby Dick", "Project Hail Mary"}, titles(p1))
	require.Equal(t, []string{"The Hobbit", "The Road"}, titles(p2))

	beyond := byTitle
	beyond.Skip = 100
	none, err := c.Find(ctx, nil, beyond)
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = c.Find(ctx, nil, docstore.FindOptions{Skip: -1})
	require.Equal(t, docstore.ErrInvalidQuery, errors.Cause(err))
}

// TestUpdateOne tests that only the first match changes and only the named field.
func TestUpdateOne(t *testing.T) {
	t.Parallel()
	s, c := newBooks(t)
	ctx := context.Background()

	res, err := c.UpdateOne(ctx, bson.M{"author": "George Orwell"}, bson.M{"$set": bson.M{"price": 4.99}})
	require.NoError(t, err)
	require.Equal(t, docstore.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, res)

	docs := s.Dump("books")
	require.Equal(t, 4.99, docs[0]["price"])
	require.Equal(t, "1984", docs[0]["title"])
	require.Equal(t, int32(1949), docs[0]["published_year"])
	require.Equal(t, 8.50, docs[3]["price"])

	// Same value again: matched but not modified.
	res, err = c.UpdateOne(ctx, bson.M{"title": "1984"}, bson.M{"$set": bson.M{"price": 4.99}})
	require.NoError(t, err)
	require.Equal(t, docstore.UpdateResult{MatchedCount: 1, ModifiedCount: 0}, res)

	res, err = c.UpdateOne(ctx, bson.M{"title": "Missing"}, bson.M{"$set": bson.M{"price": 1}})
	require.NoError(t, err)
	require.Equal(t, docstore.UpdateResult{}, res)
}

func TestUpdateOperators(t *testing.T) {
	t.Parallel()
	s, c := newBooks(t)
	ctx := context.Background()

	_, err := c.UpdateOne(ctx, bson.M{"_id": "b2"}, bson.D{
		{Key: "$inc", Value: bson.M{"published_year": 1, "stock.count": 3}},
		{Key: "$unset", Value: bson.M{"in_stock": ""}},
	})
	require.NoError(t, err)

	var hobbit bson.M
	for _, d := range s.Dump("books") {
		if d["_id"] == "b2" {
			hobbit = d
		}
	}
	require.Equal(t, int32(1938), hobbit["published_year"])
	require.Equal(t, map[string]any{"count": int32(3)}, hobbit["stock"])
	require.NotContains(t, hobbit, "in_stock")

	_, err = c.UpdateOne(ctx, bson.M{"_id": "b2"}, bson.M{"price": 1})
	require.Equal(t, docstore.ErrInvalidUpdate, errors.Cause(err))

	_, err = c.UpdateOne(ctx, bson.M{"_id": "b2"}, bson.M{"$set": bson.M{"_id": "x"}})
	require.Equal(t, docstore.ErrInvalidUpdate, errors.Cause(err))

	_, err = c.UpdateOne(ctx, bson.M{"_id": "b2"}, bson.M{"$push": bson.M{"tags": "x"}})
	require.Equal(t, docstore.ErrUnsupportedOperator, errors.Cause(err))

	_, err = c.UpdateOne(ctx, bson.M{"_id": "b2"}, bson.M{"$inc": bson.M{"title": 1}})
	require.Equal(t, docstore.ErrInvalidUpdate, errors.Cause(err))
}

// TestDeleteOne tests removal of a single match and slot reuse.
func TestDeleteOne(t *testing.T) {
	t.Parallel()
	s, c := newBooks(t)
	ctx := context.Background()

	res, err := c.DeleteOne(ctx, bson.M{"title": "Moby Dick"})
	require.NoError(t, err)
	require.Equal(t, int64(1), res.DeletedCount)
	require.Equal(t, 5, c.Count())

	res, err = c.DeleteOne(ctx, bson.M{"title": "Moby Dick"})
	require.NoError(t, err)
	require.Equal(t, int64(0), res.DeletedCount)

	// The freed slot is reused, so the new book takes Moby Dick's position.
	_, err = c.InsertMany(ctx, []any{bson.M{"_id": "b7", "title": "Dune"}})
	require.NoError(t, err)
	require.Equal(t, []string{"1984", "The Hobbit", "Dune", "Animal Farm", "Project Hail Mary", "The Road"}, titles(s.Dump("books")))
}

// TestClose tests that operations fail after Close while Dump still works.
func TestClose(t *testing.T) {
	t.Parallel()
	s, c := newBooks(t)
	ctx := context.Background()

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	require.Equal(t, int64(2), s.Closes())

	_, err := c.Find(ctx, nil, docstore.FindOptions{})
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))
	_, err = c.UpdateOne(ctx, nil, bson.M{"$set": bson.M{"a": 1}})
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))
	_, err = c.Aggregate(ctx, bson.A{})
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))
	_, err = s.Connector()(ctx)
	require.Equal(t, docstore.ErrStoreClosed, err)

	require.Len(t, s.Dump("books"), 6)
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()
	_, c := newBooks(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Find(ctx, nil, docstore.FindOptions{})
	require.Equal(t, context.Canceled, errors.Cause(err))
}

// TestArrayFieldIndexKeepsResults tests that indexing an array field changes
// how a query runs but not what it returns.
func TestArrayFieldIndexKeepsResults(t *testing.T) {
	t.Parallel()
	s := NewStore("db")
	c := s.collection("books")
	ctx := context.Background()

	_, err := c.InsertMany(ctx, []any{
		bson.M{"_id": 1, "title": "1984", "tags": bson.A{"classic", "dystopia"}},
		bson.M{"_id": 2, "title": "Emma", "tags": "classic"},
		bson.M{"_id": 3, "title": "Dune", "tags": bson.A{"classic", "classic"}},
		bson.M{"_id": 4, "title": "Ubik"},
	})
	require.NoError(t, err)

	filters := []bson.M{
		{"tags": "classic"},
		{"tags": "dystopia"},
		{"tags": bson.A{"classic", "dystopia"}},
		{"tags": bson.M{"$eq": "classic"}},
	}
	before := make([][]string, len(filters))
	for i, f := range filters {
		docs, err := c.Find(ctx, f, docstore.FindOptions{})
		require.NoError(t, err)
		before[i] = titles(docs)
	}
	require.Equal(t, []string{"1984", "Emma", "Dune"}, before[0])

	_, err = c.CreateIndex(ctx, bson.D{{Key: "tags", Value: 1}})
	require.NoError(t, err)

	for i, f := range filters {
		docs, err := c.Find(ctx, f, docstore.FindOptions{})
		require.NoError(t, err)
		require.Equal(t, before[i], titles(docs), "filter %v", f)
	}

	plan, err := c.Explain(ctx, bson.M{"tags": "classic"}, docstore.ExplainExecutionStats)
	require.NoError(t, err)
	require.Equal(t, "FETCH", plan["queryPlanner"].(bson.M)["winningPlan"].(bson.M)["stage"])
	require.Equal(t, int32(3), executionStatsOf(t, plan)["nReturned"])

	// Element keys follow updates and deletes.
	_, err = c.UpdateOne(ctx, bson.M{"_id": 1}, bson.M{"$set": bson.M{"tags": bson.A{"dystopia"}}})
	require.NoError(t, err)
	docs, err := c.Find(ctx, bson.M{"tags": "classic"}, docstore.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"Emma", "Dune"}, titles(docs))

	_, err = c.DeleteOne(ctx, bson.M{"_id": 3})
	require.NoError(t, err)
	docs, err = c.Find(ctx, bson.M{"tags": "classic"}, docstore.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"Emma"}, titles(docs))
}

// TestSessionClose tests that closing a session ends only that connection.
func TestSessionClose(t *testing.T) {
	t.Parallel()
	s, _ := newBooks(t)
	ctx := context.Background()

	first, err := s.Connector()(ctx)
	require.NoError(t, err)
	second, err := s.Connector()(ctx)
	require.NoError(t, err)

	require.NoError(t, first.Close(ctx))
	require.True(t, first.(*Session).Closed())
	require.Equal(t, int64(1), s.Closes())

	_, err = first.Collection("books").Find(ctx, nil, docstore.FindOptions{})
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))
	_, err = first.Collection("books").InsertMany(ctx, []any{bson.M{"title": "Dune"}})
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))
	_, err = first.Collection("books").CreateIndex(ctx, bson.D{{Key: "title", Value: 1}})
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))

	docs, err := second.Collection("books").Find(ctx, bson.M{"author": "George Orwell"}, docstore.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"1984", "Animal Farm"}, titles(docs))

	// A new connection sees writes made through an earlier one.
	_, err = second.Collection("books").InsertMany(ctx, []any{bson.M{"_id": "b7", "title": "Dune"}})
	require.NoError(t, err)
	require.NoError(t, second.Close(ctx))

	third, err := s.Connector()(ctx)
	require.NoError(t, err)
	docs, err = third.Collection("books").Find(ctx, bson.M{"_id": "b7"}, docstore.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"Dune"}, titles(docs))
	require.Equal(t, int64(2), s.Closes())
}
