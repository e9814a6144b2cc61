package importer

import (
	"context"

	"go.uber.org/zap"

	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/pkg/common"
)

// DeleteRecipe 刪除單筆並調整分類統計、釋放圖片
func (p *Pipeline) DeleteRecipe(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return common.ErrNotAuthenticated
	}
	rec, err := p.recipes.Delete(ctx, ownerID, id)
	if err != nil {
		return err
	}
	p.afterDelete(ctx, ownerID, []recipe.Recipe{*rec})
	return nil
}

// DeleteRecipes 批次刪除，回傳實際刪除數量
func (p *Pipeline) DeleteRecipes(ctx context.Context, ownerID string, ids []string) (int, error) {
	if ownerID == "" {
		return 0, common.ErrNotAuthenticated
	}
	deleted, err := p.recipes.DeleteMany(ctx, ownerID, ids)
	if err != nil {
		return 0, err
	}
	p.afterDelete(ctx, ownerID, deleted)

	common.LogInfo("Recipes deleted",
		zap.String("user_id", ownerID),
		zap.Int("requested", len(ids)),
		zap.Int("deleted", len(deleted)),
	)
	return len(deleted), nil
}

func (p *Pipeline) afterDelete(ctx context.Context, ownerID string, deleted []recipe.Recipe) {
	ctx = context.WithoutCancel(ctx)
	perCategory := make(map[string]int)
	order := []string{}
	for _, rec := range deleted {
		if _, seen := perCategory[rec.Category]; !seen {
			order = append(order, rec.Category)
		}
		perCategory[rec.Category]++
		p.images.Release(ctx, rec.ImageKey)
	}
	for _, name := range order {
		p.trackCategory(ctx, ownerID, name, -perCategory[name])
	}
}

// SetFavorite 設定最愛
func (p *Pipeline) SetFavorite(ctx context.Context, ownerID, id string, favorite bool) (*recipe.Recipe, error) {
	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	return p.recipes.SetFavorite(ctx, ownerID, id, favorite)
}

// ReassignCategory 變更分類：舊分類 -1、新分類 +1
func (p *Pipeline) ReassignCategory(ctx context.Context, ownerID, id, name string) (*recipe.Recipe, error) {
	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	previous, rec, err := p.recipes.SetCategory(ctx, ownerID, id, common.TruncateRunes(name, maxCategoryRunes))
	if err != nil {
		return nil, err
	}
	if previous != rec.Category {
		p.trackCategory(ctx, ownerID, previous, -1)
		p.trackCategory(ctx, ownerID, rec.Category, 1)
	}
	return rec, nil
}

// UpdateRecipe 編輯內容，步驟圖示同樣經過白名單
func (p *Pipeline) UpdateRecipe(ctx context.Context, ownerID, id string, edit recipe.Edit) (*recipe.Recipe, error) {
	if ownerID == "" {
		return nil, common.ErrNotAuthenticated
	}
	if edit.Ingredients != nil {
		cleaned := cleanIngredients(*edit.Ingredients)
		edit.Ingredients = &cleaned
	}
	if edit.Instructions != nil {
		cleaned := cleanSteps(*edit.Instructions)
		edit.Instructions = &cleaned
	}
	return p.recipes.Update(ctx, ownerID, id, edit)
}
