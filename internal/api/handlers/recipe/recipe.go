package recipe

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"recipe-importer/internal/api/middleware"
	"recipe-importer/internal/core/category"
	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/core/recipe"
	"recipe-importer/internal/pkg/common"
)

// Service 會影響配額或分類統計的寫入操作
type Service interface {
	CreateManual(ctx context.Context, ownerID string, in importer.ManualInput) (*importer.Outcome, error)
	DeleteRecipe(ctx context.Context, ownerID, id string) error
	DeleteRecipes(ctx context.Context, ownerID string, ids []string) (int, error)
	SetFavorite(ctx context.Context, ownerID, id string, favorite bool) (*recipe.Recipe, error)
	ReassignCategory(ctx context.Context, ownerID, id, name string) (*recipe.Recipe, error)
	UpdateRecipe(ctx context.Context, ownerID, id string, edit recipe.Edit) (*recipe.Recipe, error)
}

// Reader 唯讀查詢
type Reader interface {
	Get(ctx context.Context, ownerID, id string) (*recipe.Recipe, error)
	List(ctx context.Context, ownerID string, opts recipe.ListOptions) ([]recipe.Recipe, int64, error)
}

// CategoryLister 分類與數量
type CategoryLister interface {
	List(ctx context.Context, ownerID string) ([]category.Summary, error)
}

// FavoriteRequest 設定最愛
type FavoriteRequest struct {
	Favorite *bool `json:"favorite" binding:"required"`
}

// CategoryRequest 變更分類
type CategoryRequest struct {
	Category string `json:"category" binding:"required,max=100"`
}

// BulkDeleteRequest 批次刪除
type BulkDeleteRequest struct {
	IDs []string `json:"ids" binding:"required,min=1,max=200,dive,required"`
}

// Handler 食譜處理程序
type Handler struct {
	service    Service
	reader     Reader
	categories CategoryLister
	validate   *validator.Validate
}

// NewHandler 創建食譜處理程序
func NewHandler(service Service, reader Reader, categories CategoryLister) *Handler {
	return &Handler{
		service:    service,
		reader:     reader,
		categories: categories,
		validate:   validator.New(),
	}
}

// Register 註冊路由
func (h *Handler) Register(recipes, categories *gin.RouterGroup) {
	recipes.POST("", h.HandleCreate)
	recipes.GET("", h.HandleList)
	recipes.POST("/bulk-delete", h.HandleBulkDelete)
	recipes.GET("/:id", h.HandleGet)
	recipes.PATCH("/:id", h.HandleUpdate)
	recipes.DELETE("/:id", h.HandleDelete)
	recipes.PATCH("/:id/favorite", h.HandleFavorite)
	recipes.PATCH("/:id/category", h.HandleCategory)

	categories.GET("", h.HandleCategories)
}

// HandleCreate 手動建立食譜
func (h *Handler) HandleCreate(c *gin.Context) {
	var in importer.ManualInput
	if err := c.ShouldBindJSON(&in); err != nil {
		common.LogDebug("Invalid manual recipe", zap.Error(err))
		common.WriteErrorResponse(c, common.NewValidationError("invalid recipe: "+err.Error()))
		return
	}

	out, err := h.service.CreateManual(c.Request.Context(), middleware.UserID(c), in)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

// HandleList 列出食譜，支援分類、最愛與分頁
func (h *Handler) HandleList(c *gin.Context) {
	opts := recipe.ListOptions{
		Category:      c.Query("category"),
		FavoritesOnly: c.Query("favorites") == "true",
	}
	var err error
	if opts.Limit, err = queryInt(c, "limit", 50); err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	if opts.Offset, err = queryInt(c, "offset", 0); err != nil {
		common.WriteErrorResponse(c, err)
		return
	}

	items, total, err := h.reader.List(c.Request.Context(), middleware.UserID(c), opts)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recipes": items,
		"total":   total,
	})
}

// HandleGet 取得單筆
func (h *Handler) HandleGet(c *gin.Context) {
	rec, err := h.reader.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleUpdate 編輯標題、時間、難度、份量、食材與步驟
func (h *Handler) HandleUpdate(c *gin.Context) {
	var edit recipe.Edit
	if err := c.ShouldBindJSON(&edit); err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("invalid edit: "+err.Error()))
		return
	}
	if err := h.validate.Struct(edit); err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("invalid edit: "+err.Error()))
		return
	}

	rec, err := h.service.UpdateRecipe(c.Request.Context(), middleware.UserID(c), c.Param("id"), edit)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleDelete 刪除單筆
func (h *Handler) HandleDelete(c *gin.Context) {
	if err := h.service.DeleteRecipe(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleBulkDelete 批次刪除
func (h *Handler) HandleBulkDelete(c *gin.Context) {
	var req BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("ids must list between 1 and 200 recipe ids"))
		return
	}

	n, err := h.service.DeleteRecipes(c.Request.Context(), middleware.UserID(c), req.IDs)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// HandleFavorite 設定最愛
func (h *Handler) HandleFavorite(c *gin.Context) {
	var req FavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("favorite is required"))
		return
	}

	rec, err := h.service.SetFavorite(c.Request.Context(), middleware.UserID(c), c.Param("id"), *req.Favorite)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleCategory 變更分類
func (h *Handler) HandleCategory(c *gin.Context) {
	var req CategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("category is required"))
		return
	}

	rec, err := h.service.ReassignCategory(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Category)
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// HandleCategories 列出分類與食譜數量
func (h *Handler) HandleCategories(c *gin.Context) {
	items, err := h.categories.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": items})
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.NewValidationError(key + " must be a non-negative integer")
	}
	return n, nil
}
