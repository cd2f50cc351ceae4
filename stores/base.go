package stores

import (
	"context"

	"gorm.io/gorm"
)

type contextKey string

// TxKey carries an open gorm transaction through a context so that every
// store touched inside WithTransaction joins the same transaction. This is
// the only coordination primitive the mint path relies on; in-process locks
// are useless across handler processes.
const TxKey contextKey = "tx"

type BaseStore struct {
	db *gorm.DB
}

func (s *BaseStore) GetDB(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(TxKey).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func (s *BaseStore) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, TxKey, tx)
		return fn(txCtx)
	})
}
