package category

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/pkg/common"
)

// DefaultIcon 新分類的預設圖示
const DefaultIcon = "utensils"

// palette 新分類依排序輪流使用的顏色
var palette = []string{
	"#F97316", "#22C55E", "#3B82F6", "#EAB308",
	"#EC4899", "#8B5CF6", "#14B8A6", "#EF4444",
}

// ImageReleaser 釋放分類封面圖
type ImageReleaser interface {
	Delete(ctx context.Context, key string) error
}

// Maintainer 維護每個使用者的分類統計與分類資料
type Maintainer struct {
	db     *gorm.DB
	images ImageReleaser
}

// NewMaintainer 創建分類維護器；images 可為 nil
func NewMaintainer(db *gorm.DB, images ImageReleaser) *Maintainer {
	return &Maintainer{db: db, images: images}
}

// Adjust 調整分類數量
//
// 數量最低為 0；降到 0 時刪除統計列與分類資料列，並釋放分類封面圖。
// 沒有統計列時只接受正數調整。
func (m *Maintainer) Adjust(ctx context.Context, ownerID, name string, delta int) error {
	name = strings.TrimSpace(name)
	if name == "" || delta == 0 {
		return nil
	}

	var releasedKey string
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if delta > 0 {
			return tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "owner_id"}, {Name: "category"}},
				DoUpdates: clause.Assignments(map[string]any{
					"recipe_count": gorm.Expr("category_stats.recipe_count + ?", delta),
					"updated_at":   gorm.Expr("excluded.updated_at"),
				}),
			}).Create(&recipe.CategoryStat{
				OwnerID:  ownerID,
				Category: name,
				Count:    delta,
			}).Error
		}

		var stat recipe.CategoryStat
		err := tx.Where("owner_id = ? AND category = ?", ownerID, name).Take(&stat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		next := stat.Count + delta
		if next > 0 {
			return tx.Model(&recipe.CategoryStat{}).
				Where("owner_id = ? AND category = ?", ownerID, name).
				Update("recipe_count", next).Error
		}

		if err := tx.Where("owner_id = ? AND category = ?", ownerID, name).
			Delete(&recipe.CategoryStat{}).Error; err != nil {
			return err
		}

		var cat recipe.Category
		err = tx.Where("owner_id = ? AND name = ?", ownerID, name).Take(&cat).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		releasedKey = cat.ImageKey
		return tx.Delete(&cat).Error
	})
	if err != nil {
		return fmt.Errorf("failed to adjust category %q: %w", name, err)
	}

	// 圖片在交易提交後才釋放，失敗只記錄
	if releasedKey != "" && m.images != nil {
		if err := m.images.Delete(ctx, releasedKey); err != nil {
			common.LogWarn("Failed to release category image",
				zap.String("category", name),
				zap.String("key", releasedKey),
				zap.Error(err),
			)
		}
	}
	return nil
}

// EnsureCategoryExists 第一次使用分類名稱時建立分類資料列，重複呼叫不會有副作用
func (m *Maintainer) EnsureCategoryExists(ctx context.Context, ownerID, name string) (*recipe.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, common.NewValidationError("category name is required")
	}

	var cat recipe.Category
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("owner_id = ? AND name = ?", ownerID, name).Take(&cat).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var maxOrder int
		if err := tx.Model(&recipe.Category{}).
			Where("owner_id = ?", ownerID).
			Select("COALESCE(MAX(sort_order), -1)").
			Scan(&maxOrder).Error; err != nil {
			return err
		}
		next := maxOrder + 1

		cat = recipe.Category{
			ID:        common.GenerateUUID(),
			OwnerID:   ownerID,
			Name:      name,
			Icon:      DefaultIcon,
			Color:     palette[next%len(palette)],
			SortOrder: next,
		}
		// 並發建立時由唯一索引擋下，改讀已存在的資料列
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&cat)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Where("owner_id = ? AND name = ?", ownerID, name).Take(&cat).Error
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure category %q: %w", name, err)
	}
	return &cat, nil
}

// List 依排序列出分類與目前數量
func (m *Maintainer) List(ctx context.Context, ownerID string) ([]Summary, error) {
	var cats []recipe.Category
	if err := m.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("sort_order").
		Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	var stats []recipe.CategoryStat
	if err := m.db.WithContext(ctx).Where("owner_id = ?", ownerID).Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("failed to list category stats: %w", err)
	}
	counts := make(map[string]int, len(stats))
	for _, s := range stats {
		counts[s.Category] = s.Count
	}

	out := make([]Summary, 0, len(cats))
	for _, c := range cats {
		out = append(out, Summary{Category: c, Count: counts[c.Name]})
	}
	return out, nil
}

// Count 目前的統計數量，沒有統計列時為 0
func (m *Maintainer) Count(ctx context.Context, ownerID, name string) (int, error) {
	var stat recipe.CategoryStat
	err := m.db.WithContext(ctx).
		Where("owner_id = ? AND category = ?", ownerID, name).
		Take(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stat.Count, nil
}

// Summary 分類與數量
type Summary struct {
	recipe.Category
	Count int `json:"count"`
}

// SetImage 設定分類封面圖並釋放舊圖
func (m *Maintainer) SetImage(ctx context.Context, ownerID, name, key string) (*recipe.Category, error) {
	cat, err := m.EnsureCategoryExists(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}
	previous := cat.ImageKey
	if err := m.db.WithContext(ctx).Model(&recipe.Category{}).
		Where("id = ?", cat.ID).
		Update("image_key", key).Error; err != nil {
		return nil, fmt.Errorf("failed to set category image: %w", err)
	}
	cat.ImageKey = key

	if previous != "" && previous != key && m.images != nil {
		if err := m.images.Delete(ctx, previous); err != nil {
			common.LogWarn("Failed to release category image", zap.String("key", previous), zap.Error(err))
		}
	}
	return cat, nil
}
