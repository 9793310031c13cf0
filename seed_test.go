package bookstore

import (
	"context"
	"testing"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/asaidimu/bookstore-queries/core/memstore"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	t.Parallel()

	s := memstore.NewStore(DefaultDatabase)
	n, err := Seed(context.Background(), nil, s.Connector(), SampleBooks())
	require.NoError(t, err)
	require.Equal(t, 15, n)
	require.Equal(t, int64(1), s.Closes())

	docs := s.Dump(DefaultCollection)
	require.Len(t, docs, 15)
	require.Equal(t, "To Kill a Mockingbird", docs[0]["title"])
	require.Equal(t, int32(1960), docs[0]["published_year"])
	require.IsType(t, "", docs[0]["_id"])
}

func TestSeedConnectFailure(t *testing.T) {
	t.Parallel()

	connect := func(context.Context) (docstore.Store, error) {
		return nil, errors.Annotate(docstore.ErrUnavailable, "no route to host")
	}
	n, err := Seed(context.Background(), nil, connect, SampleBooks())
	require.Zero(t, n)
	code, ok := RFCCode(err)
	require.True(t, ok)
	require.Equal(t, ErrConnectStore.RFCCode(), code)
	require.Equal(t, FailureConnection, ClassifyError(err))

	nilStore := func(context.Context) (docstore.Store, error) { return nil, nil }
	_, err = Seed(context.Background(), nil, nilStore, SampleBooks())
	require.Equal(t, docstore.ErrUnavailable, errors.Cause(err))
}

func TestSeedInsertFailure(t *testing.T) {
	t.Parallel()

	s := memstore.NewStore(DefaultDatabase)
	// The store goes away between connecting and inserting.
	connect := func(ctx context.Context) (docstore.Store, error) {
		require.NoError(t, s.Close(ctx))
		return s, nil
	}
	n, err := Seed(context.Background(), nil, connect, SampleBooks())
	require.Zero(t, n)
	code, ok := RFCCode(err)
	require.True(t, ok)
	require.Equal(t, ErrSeedFailed.RFCCode(), code)
	require.Equal(t, docstore.ErrStoreClosed, errors.Cause(err))
	require.Equal(t, int64(2), s.Closes())
}

func TestSeedInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Collection = ""
	called := false
	connect := func(context.Context) (docstore.Store, error) {
		called = true
		return nil, nil
	}
	_, err := Seed(context.Background(), cfg, connect, SampleBooks())
	code, ok := RFCCode(err)
	require.True(t, ok)
	require.Equal(t, ErrInvalidConfig.RFCCode(), code)
	require.False(t, called)
}

func TestSeedThenRunShareStore(t *testing.T) {
	t.Parallel()

	s := memstore.NewStore(DefaultDatabase)
	_, err := Seed(context.Background(), nil, s.Connector(), SampleBooks())
	require.NoError(t, err)

	summary, err := quietRunner(s.Connector()).Run(context.Background())
	require.NoError(t, err)
	succeeded, failed, skipped := summary.Counts()
	require.Equal(t, 17, succeeded)
	require.Zero(t, failed)
	require.Zero(t, skipped)
	require.Equal(t, int64(2), s.Closes())
	require.Len(t, s.Dump(DefaultCollection), 14)

	// Both connections are closed, the store is not.
	_, err = s.Connector()(context.Background())
	require.NoError(t, err)
}
