package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"recipe-importer/internal/pkg/common"
)

const redisKeyPrefix = "ratelimit:"

// checkScript 與 Memory.Check 相同的固定視窗語意
var checkScript = redis.NewScript(`
local max = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', KEYS[1], 'count', 'start')
local count = tonumber(data[1])
local start = tonumber(data[2])
if count == nil or start == nil or now - start > window_ms then
  redis.call('HSET', KEYS[1], 'count', 1, 'start', now)
  redis.call('PEXPIRE', KEYS[1], window_ms * 2)
  return 1
end
if count >= max then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'count', 1)
return 1
`)

// Redis 多實例共用的限流器
type Redis struct {
	options
	client redis.Cmdable
}

// NewRedis 建立 Redis 限流器
func NewRedis(client redis.Cmdable, opts ...Option) *Redis {
	return &Redis{options: buildOptions(opts), client: client}
}

func (r *Redis) key(identity string) string {
	return redisKeyPrefix + identity
}

// Check Redis 不可用時放行並記錄警告
func (r *Redis) Check(ctx context.Context, identity string) bool {
	allowed, err := checkScript.Run(ctx, r.client,
		[]string{r.key(identity)},
		r.max, r.window.Milliseconds(), r.now().UnixMilli(),
	).Int()
	if err != nil {
		common.LogWarn("Rate limiter backend unavailable, allowing request",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return true
	}
	return allowed == 1
}

// Status 查詢剩餘額度
func (r *Redis) Status(ctx context.Context, identity string) Status {
	now := r.now()
	fresh := Status{Limit: r.max, Remaining: r.max, ResetAt: now.Add(r.window)}

	vals, err := r.client.HMGet(ctx, r.key(identity), "count", "start").Result()
	if err != nil || len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return fresh
	}

	count, err1 := toInt64(vals[0])
	startMs, err2 := toInt64(vals[1])
	if err1 != nil || err2 != nil {
		return fresh
	}

	start := time.UnixMilli(startMs)
	if now.Sub(start) > r.window {
		return fresh
	}
	return Status{
		Limit:     r.max,
		Remaining: max(r.max-int(count), 0),
		ResetAt:   start.Add(r.window),
	}
}

// Reset 清除視窗
func (r *Redis) Reset(ctx context.Context, identity string) {
	if err := r.client.Del(ctx, r.key(identity)).Err(); err != nil {
		common.LogWarn("Failed to reset rate limit window", zap.String("identity", identity), zap.Error(err))
	}
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseInt(t, 10, 64)
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
