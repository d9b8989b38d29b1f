// Package locker serializes work on a single key, such as one asset, across
// goroutines or across service instances.
package locker

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotObtained is returned when a lock could not be acquired in time
var ErrNotObtained = errors.New("lock not obtained")

// Unlock releases a held lock
type Unlock func()

// Locker acquires exclusive locks on string keys. Lock waits until the key
// is free or ctx is done.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// AssetKey is the lock key guarding one asset row
func AssetKey(assetID uint) string {
	return fmt.Sprintf("asset:%d", assetID)
}

// SessionLedgerKey guards the shared chain of session audit entries
const SessionLedgerKey = "audit:session"
