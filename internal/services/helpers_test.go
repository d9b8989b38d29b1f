package services

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sjperalta/custodia-api/internal/config"
	"github.com/sjperalta/custodia-api/internal/database"
	"github.com/sjperalta/custodia-api/internal/jobs"
	"github.com/sjperalta/custodia-api/internal/locker"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	operator = Actor{ID: "op-1", Role: "operator", IPAddress: "10.0.0.1", UserAgent: "scanner-app/2.1"}
	approver = Actor{ID: "ap-1", Role: "approver", IPAddress: "10.0.0.2"}
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) has(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

type testEnv struct {
	db   *gorm.DB
	svcs *Services
	sink *recordingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Connect("sqlite://:memory:", "test")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	worker := jobs.NewWorker(2)
	t.Cleanup(worker.Shutdown)

	cfg := &config.Config{
		StoreTimeout:           5 * time.Second,
		LockTimeout:            2 * time.Second,
		SelfCompleteTypes:      []string{models.MovementTypeCheckout, models.MovementTypeReturn},
		ReconciliationPriority: models.PriorityMedium,
	}
	sink := &recordingSink{}
	return &testEnv{
		db:   db,
		svcs: NewServices(db, locker.NewLocalLocker(), worker, cfg, sink),
		sink: sink,
	}
}

func (e *testEnv) createAsset(t *testing.T, tag, location, custodian string) *models.Asset {
	t.Helper()
	asset, err := e.svcs.Asset.Create(context.Background(), operator, AssetInput{
		AssetTag:  tag,
		Name:      "Laptop " + tag,
		Location:  models.ParseLocationRef(location),
		Custodian: custodian,
	})
	require.NoError(t, err)
	return asset
}

func (e *testEnv) reloadAsset(t *testing.T, id uint) *models.Asset {
	t.Helper()
	asset, err := e.svcs.Asset.FindByID(context.Background(), id)
	require.NoError(t, err)
	return asset
}

func (e *testEnv) discrepanciesFor(t *testing.T, assetID uint) []models.Discrepancy {
	t.Helper()
	query := repository.NewListQuery()
	query.Filters["asset_id"] = uintString(assetID)
	items, _, err := e.svcs.Discrepancy.List(context.Background(), query)
	require.NoError(t, err)
	return items
}

// auditActions returns the entity's actions oldest first
func (e *testEnv) auditActions(t *testing.T, entityType string, entityID uint) []string {
	t.Helper()
	var actions []string
	for entry, err := range e.svcs.Audit.QueryByEntity(context.Background(), entityType, entityID) {
		require.NoError(t, err)
		actions = append([]string{entry.Action}, actions...)
	}
	return actions
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

func ptr[T any](v T) *T {
	return &v
}
