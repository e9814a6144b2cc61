package category

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/infrastructure/database"
)

type fakeImages struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeImages) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return f.err
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "category.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, recipe.Models()...))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func categoryRows(t *testing.T, db *gorm.DB, owner string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&recipe.Category{}).Where("owner_id = ?", owner).Count(&n).Error)
	return n
}

func statRows(t *testing.T, db *gorm.DB, owner string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&recipe.CategoryStat{}).Where("owner_id = ?", owner).Count(&n).Error)
	return n
}

func TestSoupCountsDownToZero(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	images := &fakeImages{}
	m := NewMaintainer(db, images)

	for i := 0; i < 3; i++ {
		_, err := m.EnsureCategoryExists(ctx, "u1", "Suppe")
		require.NoError(t, err)
		require.NoError(t, m.Adjust(ctx, "u1", "Suppe", 1))
	}
	n, err := m.Count(ctx, "u1", "Suppe")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.EqualValues(t, 1, categoryRows(t, db, "u1"))

	_, err = m.SetImage(ctx, "u1", "Suppe", "category/suppe.jpg")
	require.NoError(t, err)

	require.NoError(t, m.Adjust(ctx, "u1", "Suppe", -1))
	require.NoError(t, m.Adjust(ctx, "u1", "Suppe", -1))
	n, err = m.Count(ctx, "u1", "Suppe")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Adjust(ctx, "u1", "Suppe", -1))
	assert.EqualValues(t, 0, statRows(t, db, "u1"))
	assert.EqualValues(t, 0, categoryRows(t, db, "u1"))
	assert.Equal(t, []string{"category/suppe.jpg"}, images.deleted)
}

func TestAdjustClampsAtZero(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := NewMaintainer(db, nil)

	require.NoError(t, m.Adjust(ctx, "u1", "Salat", 2))
	require.NoError(t, m.Adjust(ctx, "u1", "Salat", -5))
	assert.EqualValues(t, 0, statRows(t, db, "u1"))

	// 沒有統計列時負數調整不建立資料列
	require.NoError(t, m.Adjust(ctx, "u1", "Salat", -1))
	assert.EqualValues(t, 0, statRows(t, db, "u1"))

	require.NoError(t, m.Adjust(ctx, "u1", "  ", 1))
	require.NoError(t, m.Adjust(ctx, "u1", "Salat", 0))
	assert.EqualValues(t, 0, statRows(t, db, "u1"))
}

func TestAdjustIsScopedByOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMaintainer(newTestDB(t), nil)

	require.NoError(t, m.Adjust(ctx, "u1", "Suppe", 1))
	require.NoError(t, m.Adjust(ctx, "u2", "Suppe", 1))
	require.NoError(t, m.Adjust(ctx, "u2", "Suppe", -1))

	n, err := m.Count(ctx, "u1", "Suppe")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.Count(ctx, "u2", "Suppe")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEnsureCategoryExistsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := NewMaintainer(db, nil)

	first, err := m.EnsureCategoryExists(ctx, "u1", "Suppe")
	require.NoError(t, err)
	again, err := m.EnsureCategoryExists(ctx, "u1", " Suppe ")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, DefaultIcon, first.Icon)
	assert.Equal(t, 0, first.SortOrder)

	second, err := m.EnsureCategoryExists(ctx, "u1", "Dessert")
	require.NoError(t, err)
	assert.Equal(t, 1, second.SortOrder)
	assert.NotEqual(t, first.Color, second.Color)

	other, err := m.EnsureCategoryExists(ctx, "u2", "Dessert")
	require.NoError(t, err)
	assert.Equal(t, 0, other.SortOrder)

	assert.EqualValues(t, 2, categoryRows(t, db, "u1"))

	_, err = m.EnsureCategoryExists(ctx, "u1", "")
	assert.Error(t, err)
}

func TestReleaseFailureDoesNotFailAdjust(t *testing.T) {
	ctx := context.Background()
	images := &fakeImages{err: errors.New("bucket gone")}
	m := NewMaintainer(newTestDB(t), images)

	_, err := m.SetImage(ctx, "u1", "Brot", "category/brot.jpg")
	require.NoError(t, err)
	require.NoError(t, m.Adjust(ctx, "u1", "Brot", 1))
	assert.NoError(t, m.Adjust(ctx, "u1", "Brot", -1))
	assert.Equal(t, []string{"category/brot.jpg"}, images.deleted)
}

func TestListJoinsCounts(t *testing.T) {
	ctx := context.Background()
	m := NewMaintainer(newTestDB(t), nil)

	for _, name := range []string{"Suppe", "Salat"} {
		_, err := m.EnsureCategoryExists(ctx, "u1", name)
		require.NoError(t, err)
	}
	require.NoError(t, m.Adjust(ctx, "u1", "Salat", 2))

	list, err := m.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Suppe", list[0].Name)
	assert.Equal(t, 0, list[0].Count)
	assert.Equal(t, "Salat", list[1].Name)
	assert.Equal(t, 2, list[1].Count)
}
