package common

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ImportErrorType 結構化錯誤的判別值
type ImportErrorType string

const (
	TypeRateLimitExceeded ImportErrorType = "RATE_LIMIT_EXCEEDED"
	TypeAPIUnavailable    ImportErrorType = "API_UNAVAILABLE"
	TypeLimitReached      ImportErrorType = "LIMIT_REACHED"
	TypeNotAuthenticated  ImportErrorType = "NOT_AUTHENTICATED"
)

// FallbackModeManual 上游失敗時引導使用者改為手動輸入
const FallbackModeManual = "manual"

// ImportError 匯入流程中可被呼叫端分支處理的錯誤，只有本檔案內的型別實作
type ImportError interface {
	error
	Type() ImportErrorType
	HTTPStatus() int
	Payload() map[string]any
	sealed()
}

// RateLimitExceededError 視窗內請求過多
type RateLimitExceededError struct {
	ResetAt time.Time
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.ResetAt.Format(time.RFC3339))
}
func (e *RateLimitExceededError) Type() ImportErrorType { return TypeRateLimitExceeded }
func (e *RateLimitExceededError) HTTPStatus() int       { return http.StatusTooManyRequests }
func (e *RateLimitExceededError) Payload() map[string]any {
	return map[string]any{
		"type":    string(TypeRateLimitExceeded),
		"resetAt": e.ResetAt.UTC().Format(time.RFC3339Nano),
	}
}
func (*RateLimitExceededError) sealed() {}

// APIUnavailableError 上游抓取服務不可用，攜帶原始 URL 供手動輸入預填
type APIUnavailableError struct {
	Service      string
	FallbackMode string
	PrefillURL   string
	Message      string
	Err          error
}

// NewAPIUnavailable 建立降級為手動輸入的錯誤
func NewAPIUnavailable(service, prefillURL string, err error) *APIUnavailableError {
	return &APIUnavailableError{
		Service:      service,
		FallbackMode: FallbackModeManual,
		PrefillURL:   prefillURL,
		Message:      fmt.Sprintf("%s is currently unavailable, please enter the recipe manually", service),
		Err:          err,
	}
}

func (e *APIUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
	}
	return e.Service + " unavailable"
}
func (e *APIUnavailableError) Unwrap() error         { return e.Err }
func (e *APIUnavailableError) Type() ImportErrorType { return TypeAPIUnavailable }
func (e *APIUnavailableError) HTTPStatus() int       { return http.StatusServiceUnavailable }
func (e *APIUnavailableError) Payload() map[string]any {
	return map[string]any{
		"type":         string(TypeAPIUnavailable),
		"service":      e.Service,
		"fallbackMode": e.FallbackMode,
		"prefillUrl":   e.PrefillURL,
		"message":      e.Message,
	}
}
func (*APIUnavailableError) sealed() {}

// LimitReachedError 免費方案配額用盡
type LimitReachedError struct {
	Feature string
	Current int
	Limit   int
	Message string
}

// NewLimitReached 建立配額錯誤
func NewLimitReached(feature string, current, limit int) *LimitReachedError {
	return &LimitReachedError{
		Feature: feature,
		Current: current,
		Limit:   limit,
		Message: fmt.Sprintf("free plan limit of %d reached for %s, upgrade to continue", limit, feature),
	}
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("limit reached for %s: %d/%d", e.Feature, e.Current, e.Limit)
}
func (e *LimitReachedError) Type() ImportErrorType { return TypeLimitReached }
func (e *LimitReachedError) HTTPStatus() int       { return http.StatusPaymentRequired }
func (e *LimitReachedError) Payload() map[string]any {
	return map[string]any{
		"type":    string(TypeLimitReached),
		"feature": e.Feature,
		"current": e.Current,
		"limit":   e.Limit,
		"message": e.Message,
	}
}
func (*LimitReachedError) sealed() {}

// NotAuthenticatedError 缺少身分
type NotAuthenticatedError struct{}

func (e *NotAuthenticatedError) Error() string         { return "not authenticated" }
func (e *NotAuthenticatedError) Type() ImportErrorType { return TypeNotAuthenticated }
func (e *NotAuthenticatedError) HTTPStatus() int       { return http.StatusUnauthorized }
func (e *NotAuthenticatedError) Payload() map[string]any {
	return map[string]any{"type": string(TypeNotAuthenticated)}
}
func (*NotAuthenticatedError) sealed() {}

// ErrNotAuthenticated 共用實例
var ErrNotAuthenticated ImportError = &NotAuthenticatedError{}

// AsImportError 從錯誤鏈中取出 ImportError
func AsImportError(err error) (ImportError, bool) {
	var ie ImportError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
