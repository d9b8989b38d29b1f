package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sjperalta/custodia-api/internal/models"
	"github.com/sjperalta/custodia-api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cost := decimal.RequireFromString("1249.90")

	asset, err := env.svcs.Asset.Create(ctx, operator, AssetInput{
		AssetTag:     " TAG-1 ",
		Name:         "Dell XPS",
		Location:     models.ParseLocationRef("hq/Floor-3"),
		Custodian:    "judy",
		PurchaseCost: &cost,
	})
	require.NoError(t, err)
	assert.Equal(t, "TAG-1", asset.AssetTag)
	assert.Equal(t, models.AssetStatusAvailable, asset.Status)
	assert.Equal(t, uint(1), asset.Version)

	stored := env.reloadAsset(t, asset.ID)
	assert.Equal(t, models.LocationRef{SiteID: "hq", LocationID: "Floor-3"}, stored.CurrentLocation())
	require.True(t, stored.PurchaseCost.Valid)
	assert.Equal(t, "1249.90", stored.PurchaseCost.Decimal.StringFixed(2))

	_, err = env.svcs.Asset.Create(ctx, operator, AssetInput{AssetTag: "TAG-1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.svcs.Asset.Create(ctx, operator, AssetInput{AssetTag: ""})
	assert.ErrorIs(t, err, ErrValidation)

	negative := decimal.NewFromInt(-5)
	_, err = env.svcs.Asset.Create(ctx, operator, AssetInput{AssetTag: "TAG-2", PurchaseCost: &negative})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAssetService_UpdateAuditsOnlyChangedFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "TAG-10", "Warehouse-1", "")

	condition := "worn"
	updated, err := env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Condition: &condition, Version: &asset.Version})
	require.NoError(t, err)
	assert.Equal(t, uint(2), updated.Version)

	page, err := env.svcs.Audit.Page(ctx, AuditQuery{EntityType: models.EntityAsset, EntityID: asset.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	entry := page.Entries[0]
	assert.Equal(t, models.AuditActionUpdate, entry.Action)
	assert.Equal(t, map[string]any{"condition": "worn"}, entry.NewValues)
	assert.Equal(t, map[string]any{"condition": ""}, entry.PreviousValues)

	// a no-op edit writes nothing
	_, err = env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Condition: &condition})
	require.NoError(t, err)
	assert.Len(t, env.auditActions(t, models.EntityAsset, asset.ID), 2)
}

func TestAssetService_UpdateStaleVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "TAG-11", "Warehouse-1", "")

	name := "first"
	_, err := env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Name: &name, Version: ptr(uint(1))})
	require.NoError(t, err)

	name = "second"
	_, err = env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Name: &name, Version: ptr(uint(1))})
	require.ErrorIs(t, err, ErrConflict)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.True(t, domainErr.Retryable())
}

func TestAssetService_LocationLockedDuringMovement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "TAG-12", "Warehouse-1", "")
	requestTransfer(t, env, asset, "Warehouse-2")

	_, err := env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Location: ptr(models.ParseLocationRef("Warehouse-9"))})
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Status: ptr(models.AssetStatusInMaintenance)})
	assert.ErrorIs(t, err, ErrInvalidState)

	name := "still editable"
	_, err = env.svcs.Asset.Update(ctx, asset.ID, operator, AssetUpdate{Name: &name})
	assert.NoError(t, err)

	err = env.svcs.Asset.Delete(ctx, asset.ID, operator)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAssetService_SoftDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "TAG-13", "Warehouse-1", "")
	env.createAsset(t, "TAG-14", "Warehouse-1", "")

	require.NoError(t, env.svcs.Asset.Delete(ctx, asset.ID, operator))

	_, err := env.svcs.Asset.FindByID(ctx, asset.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.svcs.Asset.FindByTag(ctx, "TAG-13")
	assert.ErrorIs(t, err, ErrNotFound)

	assets, total, err := env.svcs.Asset.List(ctx, repository.NewListQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, assets, 1)
	assert.Equal(t, "TAG-14", assets[0].AssetTag)

	// history outlives the asset
	assert.Equal(t,
		[]string{models.AuditActionCreate, models.AuditActionDelete},
		env.auditActions(t, models.EntityAsset, asset.ID))

	_, err = env.svcs.Movement.Request(ctx, operator, MovementInput{
		AssetID: asset.ID,
		Type:    models.MovementTypeTransfer,
		To:      ptr(models.ParseLocationRef("Warehouse-2")),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssetService_DeletedTagStaysReserved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	asset := env.createAsset(t, "P-1", "Warehouse-1", "")
	require.NoError(t, env.svcs.Asset.Delete(ctx, asset.ID, operator))

	_, err := env.svcs.Asset.Create(ctx, operator, AssetInput{AssetTag: "P-1"})
	require.ErrorIs(t, err, ErrValidation)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "asset_tag", domainErr.Field)
	assert.Equal(t, "belongs to a deleted asset", domainErr.Reason)
	assert.False(t, domainErr.Retryable())
}

func TestAssetService_ListFilters(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flagged := env.createAsset(t, "TAG-20", "Warehouse-1", "kim")
	env.createAsset(t, "TAG-21", "Warehouse-1", "lee")
	openManual(t, env, flagged, models.DiscrepancyTypeOther)

	query := repository.NewListQuery()
	query.Filters["has_discrepancy"] = "true"
	assets, total, err := env.svcs.Asset.List(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, assets, 1)
	assert.Equal(t, flagged.ID, assets[0].ID)

	query = repository.NewListQuery()
	query.Search = "tag-2"
	_, total, err = env.svcs.Asset.List(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}
