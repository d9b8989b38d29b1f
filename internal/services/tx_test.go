package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/internal/jobs"
	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRunner_StoreTimeoutIsPersistenceError(t *testing.T) {
	env := newTestEnv(t)

	worker := jobs.NewWorker(1)
	t.Cleanup(worker.Shutdown)
	impatient := NewServices(env.db, locker.NewLocalLocker(), worker, &config.Config{
		StoreTimeout:           20 * time.Millisecond,
		LockTimeout:            time.Second,
		SelfCompleteTypes:      []string{models.MovementTypeCheckout},
		ReconciliationPriority: models.PriorityMedium,
	})

	// The test store has a single connection; an open transaction holds it.
	blocker := env.db.Begin()
	require.NoError(t, blocker.Error)

	_, err := impatient.Asset.Create(context.Background(), operator, AssetInput{AssetTag: "T-1"})
	require.NoError(t, blocker.Rollback().Error)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var domainErr *Error
	require.True(t, errors.As(err, &domainErr))
	assert.True(t, domainErr.Retryable())

	_, err = env.svcs.Asset.FindByTag(context.Background(), "T-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTxRunner_LockTimeoutIsConflict(t *testing.T) {
	env := newTestEnv(t)
	l := locker.NewLocalLocker()
	runner := NewTxRunner(env.db, l, 20*time.Millisecond, time.Second)

	unlock, err := l.Lock(context.Background(), locker.AssetKey(7))
	require.NoError(t, err)
	defer unlock()

	ran := false
	err = runner.InAssetTx(context.Background(), 7, func(ctx context.Context, repos *repository.Repositories) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.False(t, ran)
}
