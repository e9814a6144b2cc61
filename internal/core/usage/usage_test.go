package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"recipe-importer/internal/infrastructure/database"
	"recipe-importer/internal/pkg/common"
)

func newTestAccountant(t *testing.T) (*Accountant, *gorm.DB) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, Models()...))
	t.Cleanup(func() { _ = database.Close(db) })
	return NewAccountant(db), db
}

func setCounter(t *testing.T, db *gorm.DB, userID string, feature common.FeatureKind, value int) {
	t.Helper()
	col, ok := counterColumn(feature)
	require.True(t, ok)
	require.NoError(t, db.Model(&User{}).Where("id = ?", userID).UpdateColumn(col, value).Error)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, common.FeatureLinkImport, Classify(ImportArgs{SourceURL: "https://example.com/r", SourcePhotoRef: "photo.jpg"}))
	assert.Equal(t, common.FeaturePhotoScan, Classify(ImportArgs{SourcePhotoRef: "photo.jpg"}))
	assert.Equal(t, common.FeatureManual, Classify(ImportArgs{}))
	assert.Equal(t, common.FeatureManual, Classify(ImportArgs{SourceURL: "  "}))
}

func TestUserCreatedLazilyAsFree(t *testing.T) {
	a, _ := newTestAccountant(t)
	ctx := context.Background()

	u, err := a.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, TierFree, u.Tier)
	assert.Zero(t, u.Usage.ManualRecipes)

	again, err := a.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u.CreatedAt.Unix(), again.CreatedAt.Unix())

	_, err = a.User(ctx, "")
	assert.ErrorIs(t, err, common.ErrNotAuthenticated)
}

func TestIncrementCountsExactly(t *testing.T) {
	a, _ := newTestAccountant(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.CheckQuota(ctx, "u1", common.FeatureManual))
		require.NoError(t, a.Increment(ctx, "u1", common.FeatureManual))
	}
	require.NoError(t, a.Increment(ctx, "u1", common.FeaturePhotoScan))

	u, err := a.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, u.Usage.ManualRecipes)
	assert.Equal(t, 1, u.Usage.PhotoScans)
	assert.Equal(t, 0, u.Usage.LinkImports)
}

func TestQuotaBoundary(t *testing.T) {
	a, db := newTestAccountant(t)
	ctx := context.Background()

	_, err := a.User(ctx, "u1")
	require.NoError(t, err)
	setCounter(t, db, "u1", common.FeatureLinkImport, FreeLimit-1)

	require.NoError(t, a.CheckQuota(ctx, "u1", common.FeatureLinkImport))
	require.NoError(t, a.Increment(ctx, "u1", common.FeatureLinkImport))

	err = a.CheckQuota(ctx, "u1", common.FeatureLinkImport)
	var limitErr *common.LimitReachedError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, FreeLimit, limitErr.Current)
	assert.Equal(t, FreeLimit, limitErr.Limit)
	assert.Equal(t, string(common.FeatureLinkImport), limitErr.Feature)

	// 其他分類各自計算
	assert.NoError(t, a.CheckQuota(ctx, "u1", common.FeatureManual))
}

func TestPaidTierBypassesAndNeverCounts(t *testing.T) {
	a, db := newTestAccountant(t)
	ctx := context.Background()

	_, err := a.User(ctx, "u1")
	require.NoError(t, err)
	setCounter(t, db, "u1", common.FeaturePhotoScan, FreeLimit)
	_, err = a.ApplyTierChange(ctx, "u1", TierChange{Tier: TierPro})
	require.NoError(t, err)

	require.NoError(t, a.CheckQuota(ctx, "u1", common.FeaturePhotoScan))
	require.NoError(t, a.Increment(ctx, "u1", common.FeaturePhotoScan))

	u, err := a.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, FreeLimit, u.Usage.PhotoScans)

	snap, err := a.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, -1, snap.Features[common.FeaturePhotoScan].Limit)
	assert.Equal(t, -1, snap.Features[common.FeaturePhotoScan].Remaining)
}

func TestSnapshotRemaining(t *testing.T) {
	a, _ := newTestAccountant(t)
	ctx := context.Background()

	require.NoError(t, a.Increment(ctx, "u1", common.FeatureLinkImport))
	require.NoError(t, a.Increment(ctx, "u1", common.FeatureLinkImport))

	snap, err := a.Snapshot(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, TierFree, snap.Tier)
	assert.Len(t, snap.Features, 3)
	assert.Equal(t, FeatureUsage{Used: 2, Limit: FreeLimit, Remaining: FreeLimit - 2}, snap.Features[common.FeatureLinkImport])
	assert.Equal(t, FeatureUsage{Used: 0, Limit: FreeLimit, Remaining: FreeLimit}, snap.Features[common.FeatureManual])
}

func TestDowngradeResetsOnlyWhenFlagged(t *testing.T) {
	a, db := newTestAccountant(t)
	ctx := context.Background()
	fixed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	_, err := a.User(ctx, "keep")
	require.NoError(t, err)
	_, err = a.User(ctx, "reset")
	require.NoError(t, err)
	for _, id := range []string{"keep", "reset"} {
		setCounter(t, db, id, common.FeatureManual, 42)
	}

	yes := true
	_, err = a.ApplyTierChange(ctx, "keep", TierChange{Tier: TierPlus})
	require.NoError(t, err)
	_, err = a.ApplyTierChange(ctx, "reset", TierChange{Tier: TierPlus, ResetOnDowngrade: &yes})
	require.NoError(t, err)

	kept, err := a.ApplyTierChange(ctx, "keep", TierChange{Tier: TierFree})
	require.NoError(t, err)
	assert.Equal(t, 42, kept.Usage.ManualRecipes)

	reset, err := a.ApplyTierChange(ctx, "reset", TierChange{Tier: TierFree})
	require.NoError(t, err)
	assert.Equal(t, TierFree, reset.Tier)
	assert.Equal(t, 0, reset.Usage.ManualRecipes)
	require.NotNil(t, reset.Usage.PeriodStart)
	assert.True(t, fixed.Equal(*reset.Usage.PeriodStart))
}

func TestSyncTier(t *testing.T) {
	a, _ := newTestAccountant(t)
	ctx := context.Background()

	require.NoError(t, a.SyncTier(ctx, "u1", TierFree))
	require.NoError(t, a.SyncTier(ctx, "u1", TierPro))

	u, err := a.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, TierPro, u.Tier)
	assert.Equal(t, TierFree, ParseTier("gold"))
	assert.Equal(t, TierPlus, ParseTier("plus"))
}
