package imports

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-importer/internal/api/middleware"
	"recipe-importer/internal/core/bulk"
	"recipe-importer/internal/core/importer"
	"recipe-importer/internal/pkg/common"
)

// 單次上傳最多的照片數
const maxPhotosPerUpload = 20

// Importer 匯入流程
type Importer interface {
	ImportSocial(ctx context.Context, ownerID, rawURL string) (*importer.Outcome, error)
	ImportWebsite(ctx context.Context, ownerID, rawURL string) (*importer.Outcome, error)
	ImportPhoto(ctx context.Context, ownerID string, data []byte) (*importer.Outcome, error)
	StartPhotoBatch(ctx context.Context, ownerID string, files [][]byte) (*bulk.Batch, error)
	Batch(ownerID, id string) (*bulk.Batch, error)
}

// LinkRequest 連結匯入請求
type LinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// Handler 匯入相關 API
type Handler struct {
	importer      Importer
	maxPhotoBytes int64
}

// NewHandler 創建匯入處理程序
func NewHandler(imp Importer, maxPhotoBytes int64) *Handler {
	return &Handler{importer: imp, maxPhotoBytes: maxPhotoBytes}
}

// Register 註冊路由
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/social", h.HandleSocial)
	g.POST("/website", h.HandleWebsite)
	g.POST("/photos", h.HandlePhotos)
	g.GET("/batches/:id", h.HandleBatchStatus)
	g.POST("/batches/:id/cancel", h.HandleBatchCancel)
}

// HandleSocial 匯入 Instagram / TikTok 貼文
func (h *Handler) HandleSocial(c *gin.Context) {
	h.handleLink(c, importer.SourceSocial, h.importer.ImportSocial)
}

// HandleWebsite 匯入食譜網站
func (h *Handler) HandleWebsite(c *gin.Context) {
	h.handleLink(c, importer.SourceWebsite, h.importer.ImportWebsite)
}

type linkImport func(ctx context.Context, ownerID, rawURL string) (*importer.Outcome, error)

func (h *Handler) handleLink(c *gin.Context, source string, run linkImport) {
	var req LinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("url is required"))
		return
	}

	out, err := run(c.Request.Context(), middleware.UserID(c), req.URL)
	if err != nil {
		logFailure(c, source, err)
		common.WriteErrorResponse(c, err)
		return
	}
	writeOutcome(c, out)
}

// HandlePhotos 一張照片同步處理；兩張以上回傳 202 與批次狀態
func (h *Handler) HandlePhotos(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		common.WriteErrorResponse(c, common.NewValidationError("expected multipart form with photos"))
		return
	}
	headers := make([]*multipart.FileHeader, 0, len(form.File["photos"])+len(form.File["photo"]))
	headers = append(headers, form.File["photos"]...)
	headers = append(headers, form.File["photo"]...)
	if len(headers) == 0 {
		common.WriteErrorResponse(c, common.NewValidationError("at least one photo is required"))
		return
	}
	if len(headers) > maxPhotosPerUpload {
		common.WriteErrorResponse(c, common.NewValidationError(fmt.Sprintf("at most %d photos per upload", maxPhotosPerUpload)))
		return
	}

	files := make([][]byte, 0, len(headers))
	for _, fh := range headers {
		data, err := h.readPhoto(fh)
		if err != nil {
			common.WriteErrorResponse(c, err)
			return
		}
		files = append(files, data)
	}

	ownerID := middleware.UserID(c)
	if len(files) == 1 {
		out, err := h.importer.ImportPhoto(c.Request.Context(), ownerID, files[0])
		if err != nil {
			logFailure(c, importer.SourcePhoto, err)
			common.WriteErrorResponse(c, err)
			return
		}
		writeOutcome(c, out)
		return
	}

	batch, err := h.importer.StartPhotoBatch(c.Request.Context(), ownerID, files)
	if err != nil {
		logFailure(c, importer.SourcePhoto, err)
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch": batch.Status()})
}

func (h *Handler) readPhoto(fh *multipart.FileHeader) ([]byte, error) {
	if h.maxPhotoBytes > 0 && fh.Size > h.maxPhotoBytes {
		return nil, common.ErrInvalidImageSize
	}
	f, err := fh.Open()
	if err != nil {
		return nil, common.NewValidationError("unreadable photo " + fh.Filename)
	}
	defer f.Close()

	r := io.Reader(f)
	if h.maxPhotoBytes > 0 {
		r = io.LimitReader(f, h.maxPhotoBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, common.NewValidationError("unreadable photo " + fh.Filename)
	}
	if h.maxPhotoBytes > 0 && int64(len(data)) > h.maxPhotoBytes {
		return nil, common.ErrInvalidImageSize
	}
	return data, nil
}

// HandleBatchStatus 查詢批次狀態
func (h *Handler) HandleBatchStatus(c *gin.Context) {
	batch, err := h.importer.Batch(middleware.UserID(c), c.Param("id"))
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": batch.Status()})
}

// HandleBatchCancel 要求取消批次；已開始的照片會處理完畢
func (h *Handler) HandleBatchCancel(c *gin.Context) {
	batch, err := h.importer.Batch(middleware.UserID(c), c.Param("id"))
	if err != nil {
		common.WriteErrorResponse(c, err)
		return
	}
	accepted := batch.Cancel()
	c.JSON(http.StatusOK, gin.H{
		"cancelled": accepted,
		"batch":     batch.Status(),
	})
}

func writeOutcome(c *gin.Context, out *importer.Outcome) {
	status := http.StatusCreated
	if out.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, out)
}

func logFailure(c *gin.Context, source string, err error) {
	fields := []zap.Field{
		zap.String("source", source),
		zap.String("user_id", middleware.UserID(c)),
		zap.String("request_id", requestid.Get(c)),
		zap.Error(err),
	}
	if ie, ok := common.AsImportError(err); ok {
		common.LogInfo("Import rejected", append(fields, zap.String("type", string(ie.Type())))...)
		return
	}
	common.LogWarn("Import failed", fields...)
}
