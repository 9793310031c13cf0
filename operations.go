package bookstore

import (
	"context"
	"fmt"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Kind groups operations by what they do to the collection.
type Kind int

const (
	KindQuery Kind = iota
	KindMutation
	KindAggregation
	KindAdmin
)

func (k Kind) String() string {
	switch k {
	case KindQuery:
		return "query"
	case KindMutation:
		return "mutation"
	case KindAggregation:
		return "aggregation"
	case KindAdmin:
		return "admin"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what one operation produced. Queries and aggregations fill
// Documents; mutations, index builds and explain fill Value.
type Result struct {
	Documents []bson.M
	Value     any
}

// Operation is one step of the batch.
type Operation struct {
	Name  string
	Label string
	Kind  Kind
	Exec  func(ctx context.Context, coll docstore.Collection) (Result, error)
}

// DefaultOperations returns the bookstore batch in execution order.
func DefaultOperations(q QueryConfig) []Operation {
	pageSort := paginationSort(q.PageSortKey)

	return []Operation{
		findOp("books-by-genre", "Books in genre "+q.Genre,
			bson.D{{Key: "genre", Value: q.Genre}}, docstore.FindOptions{}),
		findOp("published-after", fmt.Sprintf("Books published after %d", q.PublishedAfter),
			bson.D{{Key: "published_year", Value: bson.D{{Key: "$gt", Value: q.PublishedAfter}}}},
			docstore.FindOptions{}),
		findOp("books-by-author", "Books by "+q.Author,
			bson.D{{Key: "author", Value: q.Author}}, docstore.FindOptions{}),
		{
			Name:  "update-price",
			Label: fmt.Sprintf("Updated price of %q to %.2f, modified", q.UpdateTitle, q.NewPrice),
			Kind:  KindMutation,
			Exec: func(ctx context.Context, coll docstore.Collection) (Result, error) {
				res, err := coll.UpdateOne(ctx,
					bson.D{{Key: "title", Value: q.UpdateTitle}},
					bson.D{{Key: "$set", Value: bson.D{{Key: "price", Value: q.NewPrice}}}})
				if err != nil {
					return Result{}, err
				}
				return Result{Value: res.ModifiedCount}, nil
			},
		},
		{
			Name:  "delete-by-title",
			Label: fmt.Sprintf("Deleted %q", q.DeleteTitle),
			Kind:  KindMutation,
			Exec: func(ctx context.Context, coll docstore.Collection) (Result, error) {
				res, err := coll.DeleteOne(ctx, bson.D{{Key: "title", Value: q.DeleteTitle}})
				if err != nil {
					return Result{}, err
				}
				return Result{Value: res.DeletedCount}, nil
			},
		},
		findOp("in-stock-published-after", fmt.Sprintf("In stock and published after %d", q.InStockPublishedAfter),
			bson.D{
				{Key: "in_stock", Value: true},
				{Key: "published_year", Value: bson.D{{Key: "$gt", Value: q.InStockPublishedAfter}}},
			}, docstore.FindOptions{}),
		findOp("projection-title-author-price", "Projection (title, author, price)",
			bson.D{}, docstore.FindOptions{Projection: bson.D{
				{Key: "title", Value: 1},
				{Key: "author", Value: 1},
				{Key: "price", Value: 1},
				{Key: "_id", Value: 0},
			}}),
		findOp("price-ascending", "Books sorted by price ascending",
			bson.D{}, docstore.FindOptions{Sort: bson.D{{Key: "price", Value: 1}}}),
		findOp("price-descending", "Books sorted by price descending",
			bson.D{}, docstore.FindOptions{Sort: bson.D{{Key: "price", Value: -1}}}),
		findOp("page-1", "Page 1",
			bson.D{}, docstore.FindOptions{Sort: pageSort, Limit: q.PageSize}),
		findOp("page-2", "Page 2",
			bson.D{}, docstore.FindOptions{Sort: pageSort, Skip: q.PageSize, Limit: q.PageSize}),
		aggregateOp("avg-price-by-genre", "Average price by genre", mongo.Pipeline{
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$genre"},
				{Key: "avgPrice", Value: bson.D{{Key: "$avg", Value: "$price"}}},
			}}},
		}),
		aggregateOp("top-author", "Author with most books", mongo.Pipeline{
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$author"},
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			}}},
			{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}}}},
			{{Key: "$limit", Value: 1}},
		}),
		aggregateOp("books-by-decade", "Books grouped by decade", mongo.Pipeline{
			{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: bson.D{{Key: "$floor", Value: bson.D{
					{Key: "$divide", Value: bson.A{"$published_year", 10}},
				}}}},
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			}}},
			{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
		}),
		indexOp("index-title", "Index created on title",
			bson.D{{Key: "title", Value: 1}}),
		indexOp("index-author-year", "Compound index created on author + published_year",
			bson.D{{Key: "author", Value: 1}, {Key: "published_year", Value: 1}}),
		{
			Name:  "explain-title",
			Label: fmt.Sprintf("Explain result for title %q", q.ExplainTitle),
			Kind:  KindAdmin,
			Exec: func(ctx context.Context, coll docstore.Collection) (Result, error) {
				plan, err := coll.Explain(ctx, bson.D{{Key: "title", Value: q.ExplainTitle}},
					docstore.ExplainExecutionStats)
				if err != nil {
					return Result{}, err
				}
				stats, err := executionStats(plan)
				if err != nil {
					return Result{}, err
				}
				return Result{Value: stats}, nil
			},
		},
	}
}

func findOp(name, label string, filter bson.D, opts docstore.FindOptions) Operation {
	return Operation{
		Name:  name,
		Label: label,
		Kind:  KindQuery,
		Exec: func(ctx context.Context, coll docstore.Collection) (Result, error) {
			docs, err := coll.Find(ctx, filter, opts)
			if err != nil {
				return Result{}, err
			}
			return Result{Documents: docs}, nil
		},
	}
}

func aggregateOp(name, label string, pipeline mongo.Pipeline) Operation {
	return Operation{
		Name:  name,
		Label: label,
		Kind:  KindAggregation,
		Exec: func(ctx context.Context, coll docstore.Collection) (Result, error) {
			docs, err := coll.Aggregate(ctx, pipeline)
			if err != nil {
				return Result{}, err
			}
			return Result{Documents: docs}, nil
		},
	}
}

func indexOp(name, label string, keys bson.D) Operation {
	return Operation{
		Name:  name,
		Label: label,
		Kind:  KindAdmin,
		Exec: func(ctx context.Context, coll docstore.Collection) (Result, error) {
			idx, err := coll.CreateIndex(ctx, keys)
			if err != nil {
				return Result{}, err
			}
			return Result{Value: idx}, nil
		},
	}
}

// paginationSort orders pages by key and breaks ties on _id, so page 1 and
// page 2 never overlap.
func paginationSort(key string) bson.D {
	if key == "" || key == "_id" {
		return bson.D{{Key: "_id", Value: 1}}
	}
	return bson.D{{Key: key, Value: 1}, {Key: "_id", Value: 1}}
}

// executionStats pulls the executionStats sub-document out of an explain
// plan, whichever document type the backend decoded it into.
func executionStats(plan bson.M) (bson.M, error) {
	raw, ok := plan["executionStats"]
	if !ok {
		return nil, ErrUnexpectedResult.GenWithStackByArgs("explain output has no executionStats")
	}
	switch stats := utils.Normalize(raw).(type) {
	case map[string]any:
		return bson.M(stats), nil
	default:
		return nil, ErrUnexpectedResult.GenWithStackByArgs(
			fmt.Sprintf("executionStats is %T, not a document", raw))
	}
}
