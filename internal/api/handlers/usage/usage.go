package usage

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"recipe-importer/internal/api/middleware"
	"recipe-importer/internal/core/usage"
	"recipe-importer/internal/pkg/common"
)

// SnapshotReader 用量查詢
type SnapshotReader interface {
	Snapshot(ctx context.Context, userID string) (*usage.Snapshot, error)
}

// Handler 用量 API
type Handler struct {
	usage SnapshotReader
}

// NewHandler 創建用量處理程序
func NewHandler(reader SnapshotReader) *Handler {
	return &Handler{usage: reader}
}

// HandleSnapshot 回傳各功能的已用量、上限與剩餘
func (h *Handler) HandleSnapshot(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		common.WriteErrorResponse(c, common.ErrNotAuthenticated)
		return
	}

	snap, err := h.usage.Snapshot(c.Request.Context(), userID)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
