package bookstore

import (
	"context"

	"github.com/asaidimu/bookstore-queries/core/docstore"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Seed inserts books into the configured collection over its own connection.
// It only inserts; existing documents are left alone.
func Seed(ctx context.Context, cfg *Config, connect docstore.Connector, books []Book) (inserted int, err error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	store, err := connect(connectCtx)
	cancel()
	if err == nil && store == nil {
		err = errors.Annotate(docstore.ErrUnavailable, "connector returned no store")
	}
	if err != nil {
		return 0, WrapError(ErrConnectStore, err, cfg.Database)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ConnectTimeout)
		defer cancel()
		if cerr := store.Close(closeCtx); cerr != nil {
			err = multierr.Append(err, WrapError(ErrCloseStore, cerr))
		}
	}()

	docs := make([]any, len(books))
	for i, b := range books {
		docs[i] = b
	}

	opCtx, opCancel := context.WithTimeout(ctx, cfg.OperationTimeout)
	defer opCancel()
	inserted, err = store.Collection(cfg.Collection).InsertMany(opCtx, docs)
	if err != nil {
		log.Error("seed failed",
			zap.String("collection", cfg.Collection),
			zap.Int("inserted", inserted),
			zap.Error(err))
		return inserted, WrapError(ErrSeedFailed, err, inserted)
	}
	log.Info("seeded collection",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
		zap.Int("inserted", inserted))
	return inserted, nil
}
