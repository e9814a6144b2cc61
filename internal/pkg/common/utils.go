package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GenerateUUID 生成 UUID
func GenerateUUID() string {
	return uuid.New().String()
}

// WriteErrorResponse 寫入錯誤響應，CustomError 與 ImportError 各自帶有狀態碼
func WriteErrorResponse(c *gin.Context, err error) {
	if ie, ok := AsImportError(err); ok {
		c.AbortWithStatusJSON(ie.HTTPStatus(), gin.H{"error": ie.Payload()})
		return
	}
	if IsValidationError(err) {
		c.AbortWithStatusJSON(400, gin.H{"error": ErrorResponse{
			Code:    ErrCodeInvalidRequest,
			Message: err.Error(),
		}})
		return
	}
	if ce, ok := AsCustomError(err); ok {
		resp := ErrorResponse{Code: ce.Code, Message: ce.Message}
		if ce.Err != nil {
			resp.Details = ce.Err.Error()
		}
		c.AbortWithStatusJSON(ce.Status, gin.H{"error": resp})
		return
	}
	c.AbortWithStatusJSON(500, gin.H{"error": ErrorResponse{
		Code:    ErrCodeInternalError,
		Message: "internal server error",
	}})
}
