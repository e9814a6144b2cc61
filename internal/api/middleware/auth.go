package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"recipe-importer/internal/core/usage"
	"recipe-importer/internal/pkg/common"
)

// ContextUserID 驗證後的使用者 ID 在 gin.Context 中的 key
const ContextUserID = "userID"

// Claims 身分服務簽發的 token；tier 為選填的訂閱等級
type Claims struct {
	jwt.RegisteredClaims
	Tier string `json:"tier,omitempty"`
}

// TierSyncer 依 token 中的訂閱等級同步使用者資料
type TierSyncer interface {
	SyncTier(ctx context.Context, userID string, tier usage.Tier) error
}

var errMissingSubject = errors.New("token has no subject")

// ParseToken 驗證 HS256 token 並取出 claims
func ParseToken(tokenString string, secret []byte, issuer string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}

// Auth 驗證 Bearer token；失敗時回傳 NOT_AUTHENTICATED
func Auth(secret []byte, issuer string, tiers TierSyncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			common.WriteErrorResponse(c, common.ErrNotAuthenticated)
			return
		}

		claims, err := ParseToken(strings.TrimSpace(raw), secret, issuer)
		if err != nil {
			common.LogDebug("Token rejected", zap.Error(err), zap.String("path", c.Request.URL.Path))
			common.WriteErrorResponse(c, common.ErrNotAuthenticated)
			return
		}

		if claims.Tier != "" && tiers != nil {
			if err := tiers.SyncTier(c.Request.Context(), claims.Subject, usage.ParseTier(claims.Tier)); err != nil {
				common.LogWarn("Failed to sync tier",
					zap.String("user_id", claims.Subject),
					zap.String("tier", claims.Tier),
					zap.Error(err),
				)
			}
		}

		c.Set(ContextUserID, claims.Subject)
		c.Next()
	}
}

// UserID 取得驗證後的使用者 ID
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
