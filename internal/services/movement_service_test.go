package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func requestTransfer(t *testing.T, env *testEnv, asset *models.Asset, to string) *models.Movement {
	t.Helper()
	m, err := env.svcs.Movement.Request(context.Background(), operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeTransfer,
		To:      ptr(models.ParseLocationRef(to)),
		Reason:  "rebalancing stock",
	})
	require.NoError(t, err)
	return m
}

func TestMovementService_TransferWithMismatchedObservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "A-100", "Warehouse-1", "")

	m := requestTransfer(t, env, asset, "Warehouse-2")
	assert.Equal(t, models.MovementStatusRequested, m.Status)
	assert.Equal(t, "Warehouse-1", m.From.Key())

	m, err := env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusApproved, m.Status)
	require.NotNil(t, m.ApprovalDate)

	m, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{
		Location: ptr(models.ParseLocationRef("Warehouse-3")),
	})
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusCompleted, m.Status)
	require.NotNil(t, m.CompletionDate)
	assert.True(t, m.HasDiscrepancy)
	require.NotNil(t, m.ObservedLocation)
	assert.Equal(t, "Warehouse-3", *m.ObservedLocation)

	asset = env.reloadAsset(t, asset.ID)
	assert.Equal(t, "Warehouse-2", asset.CurrentLocation().Key())
	assert.True(t, asset.HasDiscrepancy)

	discrepancies := env.discrepanciesFor(t, asset.ID)
	require.Len(t, discrepancies, 1)
	d := discrepancies[0]
	assert.Equal(t, models.DiscrepancyTypeLocation, d.Type)
	assert.Equal(t, "Warehouse-2", d.ExpectedValue)
	assert.Equal(t, "Warehouse-3", d.ActualValue)
	assert.Equal(t, models.DiscrepancyStatusOpen, d.Status)
	assert.Equal(t, models.PriorityMedium, d.Priority)
	assert.Equal(t, models.DiscrepancySourceReconciliation, d.Source)
	require.NotNil(t, d.MovementID)
	assert.Equal(t, m.ID, *d.MovementID)
	assert.NotEmpty(t, d.Description)

	assert.Eventually(t, func() bool {
		return env.sink.has(EventMovementCompleted) && env.sink.has(EventDiscrepancyOpened)
	}, time.Second, 10*time.Millisecond)
}

func TestMovementService_CompleteAuditsEachEntityOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "A-101", "Warehouse-1", "")

	m := requestTransfer(t, env, asset, "Warehouse-2")
	_, err := env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)
	_, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{
		Location: ptr(models.ParseLocationRef("Warehouse-3")),
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{models.AuditActionCreate, models.AuditActionApprove, models.AuditActionComplete},
		env.auditActions(t, models.EntityMovement, m.ID))
	assert.Equal(t,
		[]string{models.AuditActionCreate, models.AuditActionUpdate},
		env.auditActions(t, models.EntityAsset, asset.ID))

	page, err := env.svcs.Audit.Page(ctx, AuditQuery{EntityType: models.EntityAsset, EntityID: asset.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	update := page.Entries[0]
	assert.Equal(t, "Warehouse-1", update.PreviousValues["location"])
	assert.Equal(t, "Warehouse-2", update.NewValues["location"])
	assert.Equal(t, true, update.NewValues["has_discrepancy"])
	assert.Equal(t, operator.IPAddress, update.IPAddress)
}

func TestMovementService_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "A-102", "hq/Room-1", "alice")

	to := models.LocationRef{SiteID: "hq", LocationID: "Room-12", Label: "Room 12"}
	m, err := env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID:     asset.ID,
		Type:        models.MovementTypeTransfer,
		From:        ptr(models.LocationRef{SiteID: "hq", LocationID: "Room-1"}),
		To:          &to,
		ToCustodian: ptr("bob"),
	})
	require.NoError(t, err)
	_, err = env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)
	_, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{})
	require.NoError(t, err)

	asset = env.reloadAsset(t, asset.ID)
	assert.Equal(t, to, asset.CurrentLocation())
	assert.Equal(t, "bob", asset.Custodian)
	assert.False(t, asset.HasDiscrepancy)
	assert.Empty(t, env.discrepanciesFor(t, asset.ID))
	require.NotNil(t, asset.LegacyLocation)
	assert.Equal(t, "hq/Room-12", *asset.LegacyLocation)
}

func TestMovementService_DisposalRetiresAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "B-200", "Dock-4", "alice")

	m, err := env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeDisposal,
		Reason:  "end of life",
	})
	require.NoError(t, err)
	_, err = env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)
	_, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{
		Location:  ptr(models.ParseLocationRef("Skip-9")),
		Custodian: ptr("mallory"),
	})
	require.NoError(t, err)

	asset = env.reloadAsset(t, asset.ID)
	assert.Equal(t, models.AssetStatusRetired, asset.Status)
	assert.True(t, asset.CurrentLocation().IsZero())
	assert.Nil(t, asset.LegacyLocation)
	assert.Empty(t, asset.Custodian)
	assert.False(t, asset.HasDiscrepancy)
	assert.Empty(t, env.discrepanciesFor(t, asset.ID))

	_, err = env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeTransfer,
		To:      ptr(models.ParseLocationRef("Dock-5")),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMovementService_SelfCompletingCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "C-300", "IT-Cage", "")

	m, err := env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID:     asset.ID,
		Type:        models.MovementTypeCheckout,
		ToCustodian: ptr("carol"),
	})
	require.NoError(t, err)

	m, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{Custodian: ptr("carol")})
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusCompleted, m.Status)

	asset = env.reloadAsset(t, asset.ID)
	assert.Equal(t, models.AssetStatusInUse, asset.Status)
	assert.Equal(t, "carol", asset.Custodian)
	assert.Equal(t, "IT-Cage", asset.CurrentLocation().Key())

	ret, err := env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeReturn,
		To:      ptr(models.ParseLocationRef("IT-Cage")),
	})
	require.NoError(t, err)
	assert.Empty(t, ret.ToCustodian)
	_, err = env.svcs.Movement.Complete(ctx, ret.ID, operator, Observation{})
	require.NoError(t, err)

	asset = env.reloadAsset(t, asset.ID)
	assert.Equal(t, models.AssetStatusAvailable, asset.Status)
	assert.Empty(t, asset.Custodian)
}

func TestMovementService_OneInFlightMovementPerAsset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "D-400", "Warehouse-1", "")

	first := requestTransfer(t, env, asset, "Warehouse-2")

	_, err := env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeTransfer,
		To:      ptr(models.ParseLocationRef("Warehouse-5")),
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "asset already has an open movement")

	_, err = env.svcs.Movement.Approve(ctx, first.ID, approver)
	require.NoError(t, err)
	_, err = env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeTransfer,
		To:      ptr(models.ParseLocationRef("Warehouse-5")),
	})
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.svcs.Movement.Cancel(ctx, first.ID, operator)
	require.NoError(t, err)
	requestTransfer(t, env, asset, "Warehouse-5")
}

func TestMovementService_ConcurrentRequestsOnOneAsset(t *testing.T) {
	env := newTestEnv(t)
	asset := env.createAsset(t, "D-401", "Warehouse-1", "")

	const callers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svcs.Movement.Request(context.Background(), operator, MovementInput{
				AssetID: asset.ID,
				Type:    models.MovementTypeTransfer,
				To:      ptr(models.ParseLocationRef("Warehouse-2")),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestMovementService_ConcurrentComplete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "E-500", "Warehouse-1", "")

	m := requestTransfer(t, env, asset, "Warehouse-2")
	_, err := env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svcs.Movement.Complete(context.Background(), m.ID, operator, Observation{})
		}(i)
	}
	wg.Wait()

	var failures []error
	for _, err := range errs {
		if err != nil {
			failures = append(failures, err)
		}
	}
	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrInvalidState) || errors.Is(failures[0], ErrConflict), failures[0].Error())

	assert.Equal(t,
		[]string{models.AuditActionCreate, models.AuditActionApprove, models.AuditActionComplete},
		env.auditActions(t, models.EntityMovement, m.ID))
	assert.Equal(t,
		[]string{models.AuditActionCreate, models.AuditActionUpdate},
		env.auditActions(t, models.EntityAsset, asset.ID))
}

func TestMovementService_InvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "F-600", "Warehouse-1", "")
	m := requestTransfer(t, env, asset, "Warehouse-2")

	// transfers need approval first
	_, err := env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.svcs.Movement.Reject(ctx, m.ID, approver, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)
	_, err = env.svcs.Movement.Approve(ctx, m.ID, approver)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = env.svcs.Movement.Reject(ctx, m.ID, approver, "too late")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{})
	require.NoError(t, err)
	_, err = env.svcs.Movement.Cancel(ctx, m.ID, operator)
	assert.ErrorIs(t, err, ErrInvalidState)

	stored, err := env.svcs.Movement.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusCompleted, stored.Status)
}

func TestMovementService_Reject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "F-601", "Warehouse-1", "")
	m := requestTransfer(t, env, asset, "Warehouse-2")

	m, err := env.svcs.Movement.Reject(ctx, m.ID, approver, "no budget")
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusRejected, m.Status)
	require.NotNil(t, m.RejectionReason)
	assert.Equal(t, "no budget", *m.RejectionReason)
	assert.Nil(t, m.CompletionDate)

	asset = env.reloadAsset(t, asset.ID)
	assert.Equal(t, "Warehouse-1", asset.CurrentLocation().Key())
}

func TestMovementService_RequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "G-700", "Warehouse-1", "dave")

	tests := []struct {
		name  string
		actor Actor
		input MovementInput
		kind  error
		field string
	}{
		{
			name:  "missing actor",
			actor: Actor{},
			input: MovementInput{AssetID: asset.ID, Type: models.MovementTypeTransfer, To: ptr(models.ParseLocationRef("X"))},
			kind:  ErrValidation,
			field: "actor_id",
		},
		{
			name:  "unknown type",
			actor: operator,
			input: MovementInput{AssetID: asset.ID, Type: "teleport", To: ptr(models.ParseLocationRef("X"))},
			kind:  ErrValidation,
			field: "type",
		},
		{
			name:  "transfer without destination",
			actor: operator,
			input: MovementInput{AssetID: asset.ID, Type: models.MovementTypeTransfer},
			kind:  ErrValidation,
			field: "to",
		},
		{
			name:  "disposal with destination",
			actor: operator,
			input: MovementInput{AssetID: asset.ID, Type: models.MovementTypeDisposal, To: ptr(models.ParseLocationRef("X"))},
			kind:  ErrValidation,
			field: "to",
		},
		{
			name:  "from does not match",
			actor: operator,
			input: MovementInput{AssetID: asset.ID, Type: models.MovementTypeTransfer, From: ptr(models.ParseLocationRef("Warehouse-9")), To: ptr(models.ParseLocationRef("X"))},
			kind:  ErrValidation,
			field: "from",
		},
		{
			name:  "from custodian does not match",
			actor: operator,
			input: MovementInput{AssetID: asset.ID, Type: models.MovementTypeTransfer, FromCustodian: ptr("erin"), To: ptr(models.ParseLocationRef("X"))},
			kind:  ErrValidation,
			field: "from_custodian",
		},
		{
			name:  "transfer to where it already is",
			actor: operator,
			input: MovementInput{AssetID: asset.ID, Type: models.MovementTypeTransfer, To: ptr(models.ParseLocationRef("Warehouse-1"))},
			kind:  ErrValidation,
			field: "to",
		},
		{
			name:  "unknown asset",
			actor: operator,
			input: MovementInput{AssetID: 9999, Type: models.MovementTypeTransfer, To: ptr(models.ParseLocationRef("X"))},
			kind:  ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svcs.Movement.Request(ctx, tt.actor, tt.input)
			require.ErrorIs(t, err, tt.kind)
			if tt.field != "" {
				var domainErr *Error
				require.ErrorAs(t, err, &domainErr)
				assert.Equal(t, tt.field, domainErr.Field)
			}
		})
	}
}

func TestMovementService_Delete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "H-800", "Warehouse-1", "")

	m := requestTransfer(t, env, asset, "Warehouse-2")
	require.NoError(t, env.svcs.Movement.Delete(ctx, m.ID, operator))

	_, err := env.svcs.Movement.FindByID(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t,
		[]string{models.AuditActionCreate, models.AuditActionDelete},
		env.auditActions(t, models.EntityMovement, m.ID))

	approved := requestTransfer(t, env, asset, "Warehouse-2")
	_, err = env.svcs.Movement.Approve(ctx, approved.ID, approver)
	require.NoError(t, err)
	err = env.svcs.Movement.Delete(ctx, approved.ID, operator)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMovementService_CompleteIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "G-700", "Warehouse-1", "")
	m := requestTransfer(t, env, asset, "Warehouse-2")
	m, err := env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)

	movementAudit := env.auditActions(t, models.EntityMovement, m.ID)
	assetAudit := env.auditActions(t, models.EntityAsset, asset.ID)

	// The asset's audit entry is the last write before commit
	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("fail_asset_audit", func(db *gorm.DB) {
		if entry, ok := db.Statement.Dest.(*models.AuditEntry); ok && entry.EntityType == models.EntityAsset {
			db.AddError(errors.New("disk full"))
		}
	}))

	_, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{
		Location: ptr(models.ParseLocationRef("Warehouse-3")),
	})
	assert.ErrorIs(t, err, ErrPersistence)

	require.NoError(t, env.db.Callback().Create().Remove("fail_asset_audit"))

	stored, err := env.svcs.Movement.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusApproved, stored.Status)
	assert.Nil(t, stored.CompletionDate)
	assert.False(t, stored.HasDiscrepancy)

	reloaded := env.reloadAsset(t, asset.ID)
	assert.Equal(t, "Warehouse-1", reloaded.CurrentLocation().Key())
	assert.Equal(t, asset.Version, reloaded.Version)
	assert.False(t, reloaded.HasDiscrepancy)
	assert.Empty(t, env.discrepanciesFor(t, asset.ID))

	assert.Equal(t, movementAudit, env.auditActions(t, models.EntityMovement, m.ID))
	assert.Equal(t, assetAudit, env.auditActions(t, models.EntityAsset, asset.ID))

	// Nothing half-written blocks a retry
	m, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{})
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusCompleted, m.Status)
}

func TestMovementService_RetiredAssetCannotBeRelocated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "G-701", "Warehouse-1", "")
	m := requestTransfer(t, env, asset, "Warehouse-2")

	_, err := env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Status: ptr(models.AssetStatusRetired)})
	assert.ErrorIs(t, err, ErrInvalidState)

	// Same status is not a change
	_, err = env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Status: ptr(models.AssetStatusAvailable), Name: ptr("Renamed")})
	require.NoError(t, err)

	_, err = env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)

	// A row retired behind the service's back still cannot be moved
	require.NoError(t, env.db.Model(&models.Asset{}).Where("id = ?", asset.ID).
		Update("status", models.AssetStatusRetired).Error)

	_, err = env.svcs.Movement.Complete(ctx, m.ID, operator, Observation{})
	assert.ErrorIs(t, err, ErrInvalidState)

	reloaded := env.reloadAsset(t, asset.ID)
	assert.Equal(t, models.AssetStatusRetired, reloaded.Status)
	assert.Equal(t, "Warehouse-1", reloaded.CurrentLocation().Key())
	stored, err := env.svcs.Movement.FindByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MovementStatusApproved, stored.Status)
}

func TestMovementService_TransitionsLockAssetBeforeMovement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "G-702", "Warehouse-1", "")
	m := requestTransfer(t, env, asset, "Warehouse-2")

	var mu sync.Mutex
	var tables []string
	require.NoError(t, env.db.Callback().Query().Before("gorm:query").Register("record_tables", func(db *gorm.DB) {
		if table := db.Statement.Table; table == "assets" || table == "movements" {
			mu.Lock()
			tables = append(tables, table)
			mu.Unlock()
		}
	}))
	t.Cleanup(func() { env.db.Callback().Query().Remove("record_tables") })

	_, err := env.svcs.Movement.Approve(ctx, m.ID, approver)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// lookup outside the transaction, then asset row, then movement row
	require.GreaterOrEqual(t, len(tables), 3)
	assert.Equal(t, []string{"movements", "assets", "movements"}, tables[:3])
}
