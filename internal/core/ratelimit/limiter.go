package ratelimit

import (
	"context"
	"time"
)

const (
	// DefaultWindow 固定視窗長度
	DefaultWindow = 60 * time.Second
	// DefaultMax 每個視窗允許的請求數
	DefaultMax = 10
)

// Status 目前視窗的剩餘額度
type Status struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Limiter 以身分為單位的固定視窗限流器
//
// Check 只回傳允許或拒絕，後端故障時不會拋出錯誤。
type Limiter interface {
	Check(ctx context.Context, identity string) bool
	Status(ctx context.Context, identity string) Status
	Reset(ctx context.Context, identity string)
}

type options struct {
	window time.Duration
	max    int
	now    func() time.Time
}

// Option 限流器選項
type Option func(*options)

// WithWindow 設定視窗長度
func WithWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithMax 設定視窗內最大請求數
func WithMax(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.max = n
		}
	}
}

// WithClock 注入時鐘
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{window: DefaultWindow, max: DefaultMax, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
