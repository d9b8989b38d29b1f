package services

import (
	"context"
	"time"

	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/repository"
	"gorm.io/gorm"
)

// TxFunc runs inside a transaction with repositories bound to it. It must not
// touch the store through any other handle.
type TxFunc func(ctx context.Context, repos *repository.Repositories) error

// TxRunner is the transaction boundary shared by the services: per-asset
// lock, bounded transaction, error classification.
type TxRunner struct {
	db           *gorm.DB
	locker       locker.Locker
	lockTimeout  time.Duration
	storeTimeout time.Duration
}

// NewTxRunner creates a transaction runner
func NewTxRunner(db *gorm.DB, l locker.Locker, lockTimeout, storeTimeout time.Duration) *TxRunner {
	return &TxRunner{
		db:           db,
		locker:       l,
		lockTimeout:  lockTimeout,
		storeTimeout: storeTimeout,
	}
}

// InTx runs fn in one transaction bounded by the store timeout. Any error
// rolls the transaction back and comes out classified.
func (r *TxRunner) InTx(ctx context.Context, fn TxFunc) error {
	txCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	err := r.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		return fn(txCtx, repository.NewRepositories(tx))
	})
	return classifyStoreError(err)
}

// InAssetTx serializes fn with every other operation on the same asset,
// then runs it in one transaction.
func (r *TxRunner) InAssetTx(ctx context.Context, assetID uint, fn TxFunc) error {
	return r.InLockedTx(ctx, locker.AssetKey(assetID), fn)
}

// InLockedTx holds the lock on key for the whole transaction
func (r *TxRunner) InLockedTx(ctx context.Context, key string, fn TxFunc) error {
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	unlock, err := r.locker.Lock(lockCtx, key)
	cancel()
	if err != nil {
		return classifyStoreError(err)
	}
	defer unlock()

	return r.InTx(ctx, fn)
}

// Read runs a bounded read outside any transaction
func (r *TxRunner) Read(ctx context.Context, fn TxFunc) error {
	readCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	return classifyStoreError(fn(readCtx, repository.NewRepositories(r.db)))
}
