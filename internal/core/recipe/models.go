package recipe

import (
	"time"

	"recipe-importer/internal/pkg/common"
)

// Recipe 使用者收藏的食譜
//
// (owner_id, source_url) 唯一；SourceURL 為 nil 時不受限制，
// 因此手動建立與拍照匯入的食譜可以有多筆。
type Recipe struct {
	ID              string                   `gorm:"primaryKey;size:36" json:"id"`
	OwnerID         string                   `gorm:"size:190;not null;index;uniqueIndex:idx_recipe_owner_source,priority:1" json:"ownerId"`
	Title           string                   `gorm:"size:300;not null" json:"title"`
	Category        string                   `gorm:"size:100;not null;index" json:"category"`
	PrepTime        string                   `gorm:"size:50" json:"prepTime"`
	Difficulty      common.Difficulty        `gorm:"size:10;not null" json:"difficulty"`
	Portions        int                      `gorm:"not null;default:1" json:"portions"`
	Ingredients     []common.Ingredient      `gorm:"serializer:json" json:"ingredients"`
	Instructions    []common.InstructionStep `gorm:"serializer:json" json:"instructions"`
	ImageURL        string                   `gorm:"size:2048" json:"imageUrl,omitempty"`
	ImageKey        string                   `gorm:"size:300" json:"imageKey,omitempty"`
	PlaceholderHash string                   `gorm:"size:100" json:"placeholderHash,omitempty"`
	SourceImageURL  string                   `gorm:"size:2048" json:"sourceImageUrl,omitempty"`
	SourcePhotoRef  string                   `gorm:"size:100" json:"sourcePhotoRef,omitempty"`
	SourceURL       *string                  `gorm:"size:2048;uniqueIndex:idx_recipe_owner_source,priority:2" json:"sourceUrl,omitempty"`
	Favorite        bool                     `gorm:"not null;default:false" json:"favorite"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

// Category 分類的顯示資料（圖示、顏色、排序、封面圖）
type Category struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string    `gorm:"size:190;not null;uniqueIndex:idx_category_owner_name,priority:1" json:"ownerId"`
	Name      string    `gorm:"size:100;not null;uniqueIndex:idx_category_owner_name,priority:2" json:"name"`
	Icon      string    `gorm:"size:50" json:"icon"`
	Color     string    `gorm:"size:20" json:"color"`
	SortOrder int       `gorm:"not null;default:0" json:"sortOrder"`
	ImageKey  string    `gorm:"size:300" json:"imageKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// CategoryStat 每個使用者每個分類的食譜數量；數量為 0 時不保留資料列
type CategoryStat struct {
	OwnerID   string    `gorm:"primaryKey;size:190" json:"ownerId"`
	Category  string    `gorm:"primaryKey;size:100" json:"category"`
	Count     int       `gorm:"column:recipe_count;not null" json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Models 需要 AutoMigrate 的模型
func Models() []any {
	return []any{&Recipe{}, &Category{}, &CategoryStat{}}
}

// HasSource 是否由連結匯入
func (r *Recipe) HasSource() bool {
	return r.SourceURL != nil && *r.SourceURL != ""
}

// StringPtr 空字串回傳 nil，讓唯一索引忽略沒有來源的食譜
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
