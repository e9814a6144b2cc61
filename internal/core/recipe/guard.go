package recipe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Guard 以 (owner_id, source_url) 索引檢查重複匯入
//
// 匯入流程呼叫兩次：抓取前一次省下外部成本，寫入前一次縮小競爭窗口。
// 兩個並發匯入同時通過第二次檢查時，由唯一索引決定勝者，
// 輸家透過 Create 收到 ErrDuplicateSource 後再讀一次取得勝者的資料列。
type Guard struct {
	db *gorm.DB
}

// NewGuard 創建重複檢查
func NewGuard(db *gorm.DB) *Guard {
	return &Guard{db: db}
}

// FindBySource 找不到時回傳 nil, nil
func (g *Guard) FindBySource(ctx context.Context, ownerID, sourceURL string) (*Recipe, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return nil, nil
	}

	var rec Recipe
	err := g.db.WithContext(ctx).
		Where("owner_id = ? AND source_url = ?", ownerID, sourceURL).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up recipe by source: %w", err)
	}
	return &rec, nil
}
