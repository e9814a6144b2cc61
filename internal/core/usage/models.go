package usage

import (
	"time"

	"recipe-importer/internal/pkg/common"
)

// Tier 訂閱等級
type Tier string

const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// ParseTier 未知等級視為免費
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierPlus, TierPro:
		return Tier(s)
	}
	return TierFree
}

// Paid 付費等級不計數也不受配額限制
func (t Tier) Paid() bool {
	return t == TierPlus || t == TierPro
}

// UsageStats 嵌入使用者資料的累計用量
type UsageStats struct {
	ManualRecipes    int        `gorm:"not null;default:0" json:"manualRecipes"`
	LinkImports      int        `gorm:"not null;default:0" json:"linkImports"`
	PhotoScans       int        `gorm:"not null;default:0" json:"photoScans"`
	PeriodStart      *time.Time `json:"periodStart,omitempty"`
	PeriodEnd        *time.Time `json:"periodEnd,omitempty"`
	ResetOnDowngrade bool       `gorm:"not null;default:false" json:"resetOnDowngrade"`
}

// Count 取得某分類的用量
func (s UsageStats) Count(feature common.FeatureKind) int {
	switch feature {
	case common.FeatureManual:
		return s.ManualRecipes
	case common.FeatureLinkImport:
		return s.LinkImports
	case common.FeaturePhotoScan:
		return s.PhotoScans
	}
	return 0
}

// User 使用者；身分驗證在外部，這裡只記錄等級與用量
type User struct {
	ID        string     `gorm:"primaryKey;size:190" json:"id"`
	Tier      Tier       `gorm:"size:20;not null;default:free" json:"tier"`
	Usage     UsageStats `gorm:"embedded;embeddedPrefix:usage_" json:"usage"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Models 需要 AutoMigrate 的模型
func Models() []any {
	return []any{&User{}}
}

// counterColumn 分類對應的欄位
func counterColumn(feature common.FeatureKind) (string, bool) {
	switch feature {
	case common.FeatureManual:
		return "usage_manual_recipes", true
	case common.FeatureLinkImport:
		return "usage_link_imports", true
	case common.FeaturePhotoScan:
		return "usage_photo_scans", true
	}
	return "", false
}
