package importer

import (
	"context"

	"recipe-importer/internal/core/category"
	"recipe-importer/internal/core/extractor"
	"recipe-importer/internal/core/fetcher"
	recipeimage "recipe-importer/internal/core/image"
	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/core/usage"
	"recipe-importer/internal/pkg/common"
)

// RecipeExtractor 將原始內容轉為結構化食譜
type RecipeExtractor interface {
	ExtractText(ctx context.Context, src extractor.TextSource, defaults common.RecipeDefaults) *common.ExtractedRecipe
	ExtractImage(ctx context.Context, imageDataURI string, defaults common.RecipeDefaults) (*common.ExtractedRecipe, error)
}

// ImageResolver 解析食譜圖片，永遠不回傳錯誤
type ImageResolver interface {
	Resolve(ctx context.Context, candidateURL, title, keywordHint string) recipeimage.Resolution
	ResolveBytes(ctx context.Context, data []byte, title, keywordHint string) recipeimage.Resolution
	Release(ctx context.Context, key string)
}

// PhotoPreparer 照片壓縮
type PhotoPreparer interface {
	Prepare(data []byte) (*fetcher.Result, error)
}

// RecipeStore 食譜持久化
type RecipeStore interface {
	Create(ctx context.Context, rec *recipe.Recipe) error
	Get(ctx context.Context, ownerID, id string) (*recipe.Recipe, error)
	Delete(ctx context.Context, ownerID, id string) (*recipe.Recipe, error)
	DeleteMany(ctx context.Context, ownerID string, ids []string) ([]recipe.Recipe, error)
	SetFavorite(ctx context.Context, ownerID, id string, favorite bool) (*recipe.Recipe, error)
	SetCategory(ctx context.Context, ownerID, id, category string) (string, *recipe.Recipe, error)
	Update(ctx context.Context, ownerID, id string, edit recipe.Edit) (*recipe.Recipe, error)
}

// DuplicateFinder 以來源網址找已存在的食譜
type DuplicateFinder interface {
	FindBySource(ctx context.Context, ownerID, sourceURL string) (*recipe.Recipe, error)
}

// QuotaAccountant 配額檢查與計數
type QuotaAccountant interface {
	CheckQuota(ctx context.Context, userID string, feature common.FeatureKind) error
	Increment(ctx context.Context, userID string, feature common.FeatureKind) error
}

// CategoryIndex 分類統計
type CategoryIndex interface {
	EnsureCategoryExists(ctx context.Context, ownerID, name string) (*recipe.Category, error)
	Adjust(ctx context.Context, ownerID, name string, delta int) error
}

var (
	_ RecipeExtractor = (*extractor.Extractor)(nil)
	_ ImageResolver   = (*recipeimage.Processor)(nil)
	_ PhotoPreparer   = (*fetcher.PhotoFetcher)(nil)
	_ RecipeStore     = (*recipe.Repository)(nil)
	_ DuplicateFinder = (*recipe.Guard)(nil)
	_ QuotaAccountant = (*usage.Accountant)(nil)
	_ CategoryIndex   = (*category.Maintainer)(nil)
)
