package usage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"recipe-importer/internal/pkg/common"
)

// FreeLimit 免費等級每個分類的累計上限
const FreeLimit = 100

// Limits 免費等級各分類上限
var Limits = map[common.FeatureKind]int{
	common.FeatureManual:     FreeLimit,
	common.FeatureLinkImport: FreeLimit,
	common.FeaturePhotoScan:  FreeLimit,
}

// ImportArgs 用來判斷配額分類的匯入參數
type ImportArgs struct {
	SourceURL      string
	SourcePhotoRef string
}

// Classify 有來源網址為連結匯入，否則有照片為拍照匯入，其餘為手動建立
func Classify(args ImportArgs) common.FeatureKind {
	if strings.TrimSpace(args.SourceURL) != "" {
		return common.FeatureLinkImport
	}
	if strings.TrimSpace(args.SourcePhotoRef) != "" {
		return common.FeaturePhotoScan
	}
	return common.FeatureManual
}

// Accountant 配額檢查與用量計數
//
// Increment 只能在食譜寫入成功後呼叫：寫入失敗不計數，
// 寫入成功但計數前崩潰時會少算，不會多算。
type Accountant struct {
	db  *gorm.DB
	now func() time.Time
}

// NewAccountant 創建用量計算
func NewAccountant(db *gorm.DB) *Accountant {
	return &Accountant{db: db, now: time.Now}
}

// User 讀取使用者，第一次出現時以免費等級建立
func (a *Accountant) User(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, common.ErrNotAuthenticated
	}

	var u User
	db := a.db.WithContext(ctx)
	err := db.Where("id = ?", userID).Take(&u).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	u = User{ID: userID, Tier: TierFree}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if err := db.Where("id = ?", userID).Take(&u).Error; err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

// CheckQuota 付費等級直接通過；免費等級達上限時回傳 LimitReachedError
func (a *Accountant) CheckQuota(ctx context.Context, userID string, feature common.FeatureKind) error {
	u, err := a.User(ctx, userID)
	if err != nil {
		return err
	}
	if u.Tier.Paid() {
		return nil
	}

	limit, ok := Limits[feature]
	if !ok {
		return fmt.Errorf("unknown feature %q", feature)
	}
	if current := u.Usage.Count(feature); current >= limit {
		return common.NewLimitReached(string(feature), current, limit)
	}
	return nil
}

// Increment 免費等級的計數加一；付費等級不變
func (a *Accountant) Increment(ctx context.Context, userID string, feature common.FeatureKind) error {
	col, ok := counterColumn(feature)
	if !ok {
		return fmt.Errorf("unknown feature %q", feature)
	}
	if _, err := a.User(ctx, userID); err != nil {
		return err
	}

	res := a.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND tier = ?", userID, TierFree).
		UpdateColumn(col, gorm.Expr(col+" + 1"))
	if res.Error != nil {
		return fmt.Errorf("failed to increment %s: %w", feature, res.Error)
	}
	return nil
}

// FeatureUsage 單一分類的用量，付費等級的 Limit 與 Remaining 為 -1
type FeatureUsage struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Snapshot 升級提示需要的用量狀態
type Snapshot struct {
	UserID      string                              `json:"userId"`
	Tier        Tier                                `json:"tier"`
	Features    map[common.FeatureKind]FeatureUsage `json:"features"`
	PeriodStart *time.Time                          `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time                          `json:"periodEnd,omitempty"`
}

// Snapshot 取得目前用量
func (a *Accountant) Snapshot(ctx context.Context, userID string) (*Snapshot, error) {
	u, err := a.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		UserID:      u.ID,
		Tier:        u.Tier,
		Features:    make(map[common.FeatureKind]FeatureUsage, len(common.AllFeatures)),
		PeriodStart: u.Usage.PeriodStart,
		PeriodEnd:   u.Usage.PeriodEnd,
	}
	for _, f := range common.AllFeatures {
		used := u.Usage.Count(f)
		if u.Tier.Paid() {
			snap.Features[f] = FeatureUsage{Used: used, Limit: -1, Remaining: -1}
			continue
		}
		limit := Limits[f]
		snap.Features[f] = FeatureUsage{Used: used, Limit: limit, Remaining: max(limit-used, 0)}
	}
	return snap, nil
}

// TierChange 外部訂閱系統通知的等級變更
type TierChange struct {
	Tier             Tier
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
	ResetOnDowngrade *bool
}

// ApplyTierChange 套用等級變更；從付費降回免費且設定 ResetOnDowngrade 時歸零計數
func (a *Accountant) ApplyTierChange(ctx context.Context, userID string, change TierChange) (*User, error) {
	u, err := a.User(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"tier": change.Tier}
	if change.PeriodStart != nil {
		updates["usage_period_start"] = change.PeriodStart.UTC()
	}
	if change.PeriodEnd != nil {
		updates["usage_period_end"] = change.PeriodEnd.UTC()
	}
	resetFlag := u.Usage.ResetOnDowngrade
	if change.ResetOnDowngrade != nil {
		resetFlag = *change.ResetOnDowngrade
		updates["usage_reset_on_downgrade"] = resetFlag
	}

	downgrade := u.Tier.Paid() && !change.Tier.Paid()
	if downgrade && resetFlag {
		updates["usage_manual_recipes"] = 0
		updates["usage_link_imports"] = 0
		updates["usage_photo_scans"] = 0
		updates["usage_period_start"] = a.now().UTC()
	}

	if err := a.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", userID).
		Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to apply tier change: %w", err)
	}

	if u.Tier != change.Tier {
		common.LogInfo("Subscription tier changed",
			zap.String("user_id", userID),
			zap.String("from", string(u.Tier)),
			zap.String("to", string(change.Tier)),
			zap.Bool("counters_reset", downgrade && resetFlag),
		)
	}
	return a.User(ctx, userID)
}

// SyncTier 身分權杖帶來的等級與資料庫不同時套用變更
func (a *Accountant) SyncTier(ctx context.Context, userID string, tier Tier) error {
	u, err := a.User(ctx, userID)
	if err != nil {
		return err
	}
	if u.Tier == tier {
		return nil
	}
	_, err = a.ApplyTierChange(ctx, userID, TierChange{Tier: tier})
	return err
}
