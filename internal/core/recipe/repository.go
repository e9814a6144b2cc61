package recipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"recipe-importer/internal/infrastructure/database"
	"recipe-importer/internal/pkg/common"
)

// ErrDuplicateSource 同一使用者已有相同來源網址的食譜
var ErrDuplicateSource = errors.New("recipe with this source url already exists")

// MaxListLimit 單次列表上限
const MaxListLimit = 200

// ListOptions 列表條件
type ListOptions struct {
	Category      string
	FavoritesOnly bool
	Limit         int
	Offset        int
}

// Edit 可直接修改的欄位；分類變更請用 SetCategory 以維持統計
type Edit struct {
	Title        *string                   `json:"title" validate:"omitempty,min=1,max=300"`
	PrepTime     *string                   `json:"prepTime" validate:"omitempty,max=50"`
	Difficulty   *common.Difficulty        `json:"difficulty"`
	Portions     *int                      `json:"portions" validate:"omitempty,min=1,max=100"`
	Ingredients  *[]common.Ingredient      `json:"ingredients"`
	Instructions *[]common.InstructionStep `json:"instructions"`
}

// Repository 食譜資料存取，只做持久化不含業務規則
type Repository struct {
	db *gorm.DB
}

// NewRepository 創建食譜資料存取
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create 寫入食譜；ID 為空時自動產生
func (r *Repository) Create(ctx context.Context, rec *Recipe) error {
	if rec.ID == "" {
		rec.ID = common.GenerateUUID()
	}
	if rec.Ingredients == nil {
		rec.Ingredients = []common.Ingredient{}
	}
	if rec.Instructions == nil {
		rec.Instructions = []common.InstructionStep{}
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if rec.HasSource() && database.IsUniqueViolation(err) {
			return ErrDuplicateSource
		}
		return fmt.Errorf("failed to create recipe: %w", err)
	}
	return nil
}

// Get 依 ID 讀取，限定擁有者
func (r *Repository) Get(ctx context.Context, ownerID, id string) (*Recipe, error) {
	var rec Recipe
	err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recipe: %w", err)
	}
	return &rec, nil
}

// List 依建立時間新到舊列出，回傳總數
func (r *Repository) List(ctx context.Context, ownerID string, opts ListOptions) ([]Recipe, int64, error) {
	q := r.db.WithContext(ctx).Model(&Recipe{}).Where("owner_id = ?", ownerID)
	if opts.Category != "" {
		q = q.Where("category = ?", opts.Category)
	}
	if opts.FavoritesOnly {
		q = q.Where("favorite = ?", true)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count recipes: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	recipes := []Recipe{}
	if err := q.Order("created_at DESC").Order("id").
		Limit(limit).Offset(offset).
		Find(&recipes).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list recipes: %w", err)
	}
	return recipes, total, nil
}

// CountByCategory 計算某分類實際的食譜數
func (r *Repository) CountByCategory(ctx context.Context, ownerID, category string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Recipe{}).
		Where("owner_id = ? AND category = ?", ownerID, category).
		Count(&n).Error
	return n, err
}

// Delete 刪除並回傳被刪除的資料列，供呼叫端調整分類統計
func (r *Repository) Delete(ctx context.Context, ownerID, id string) (*Recipe, error) {
	deleted, err := r.DeleteMany(ctx, ownerID, []string{id})
	if err != nil {
		return nil, err
	}
	if len(deleted) == 0 {
		return nil, common.ErrNotFound
	}
	return &deleted[0], nil
}

// DeleteMany 批次刪除；不存在或不屬於此使用者的 ID 直接略過
func (r *Repository) DeleteMany(ctx context.Context, ownerID string, ids []string) ([]Recipe, error) {
	if len(ids) == 0 {
		return []Recipe{}, nil
	}

	deleted := []Recipe{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("owner_id = ? AND id IN ?", ownerID, ids).Find(&deleted).Error; err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		found := make([]string, 0, len(deleted))
		for _, rec := range deleted {
			found = append(found, rec.ID)
		}
		return tx.Where("owner_id = ? AND id IN ?", ownerID, found).Delete(&Recipe{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete recipes: %w", err)
	}
	return deleted, nil
}

// SetFavorite 設定最愛
func (r *Repository) SetFavorite(ctx context.Context, ownerID, id string, favorite bool) (*Recipe, error) {
	res := r.db.WithContext(ctx).Model(&Recipe{}).
		Where("id = ? AND owner_id = ?", id, ownerID).
		Update("favorite", favorite)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update favorite: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, common.ErrNotFound
	}
	return r.Get(ctx, ownerID, id)
}

// SetCategory 變更分類，回傳原分類
func (r *Repository) SetCategory(ctx context.Context, ownerID, id, category string) (string, *Recipe, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return "", nil, common.NewValidationError("category is required")
	}

	var previous string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Recipe
		if err := tx.Select("id", "category").
			Where("id = ? AND owner_id = ?", id, ownerID).
			Take(&rec).Error; err != nil {
			return err
		}
		previous = rec.Category
		if previous == category {
			return nil
		}
		return tx.Model(&Recipe{}).Where("id = ?", id).Update("category", category).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, common.ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to update category: %w", err)
	}

	rec, err := r.Get(ctx, ownerID, id)
	if err != nil {
		return "", nil, err
	}
	return previous, rec, nil
}

// Update 套用編輯內容
func (r *Repository) Update(ctx context.Context, ownerID, id string, edit Edit) (*Recipe, error) {
	updates := map[string]any{}
	if edit.Title != nil {
		updates["title"] = strings.TrimSpace(*edit.Title)
	}
	if edit.PrepTime != nil {
		updates["prep_time"] = strings.TrimSpace(*edit.PrepTime)
	}
	if edit.Difficulty != nil {
		if !edit.Difficulty.Valid() {
			return nil, common.NewValidationError("difficulty must be easy, medium or hard")
		}
		updates["difficulty"] = *edit.Difficulty
	}
	if edit.Portions != nil {
		updates["portions"] = *edit.Portions
	}

	// serializer:json 欄位需透過 struct 更新才會序列化
	var patch Recipe
	fields := []string{}
	if edit.Ingredients != nil {
		patch.Ingredients = *edit.Ingredients
		fields = append(fields, "Ingredients")
	}
	if edit.Instructions != nil {
		patch.Instructions = *edit.Instructions
		fields = append(fields, "Instructions")
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Recipe{}).Where("id = ? AND owner_id = ?", id, ownerID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return gorm.ErrRecordNotFound
		}
		scope := tx.Model(&Recipe{}).Where("id = ? AND owner_id = ?", id, ownerID)
		if len(updates) > 0 {
			if err := scope.Updates(updates).Error; err != nil {
				return err
			}
		}
		if len(fields) > 0 {
			return tx.Model(&Recipe{}).Where("id = ? AND owner_id = ?", id, ownerID).
				Select(fields).Updates(&patch).Error
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update recipe: %w", err)
	}
	return r.Get(ctx, ownerID, id)
}
