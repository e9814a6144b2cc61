package ratelimit

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
}

// exerciseWindow 對任何 Limiter 實作驗證同一組視窗語意
func exerciseWindow(t *testing.T, l Limiter, clock *fakeClock, identity string) {
	t.Helper()
	ctx := context.Background()
	start := clock.Now()

	for i := 1; i <= DefaultMax; i++ {
		assert.True(t, l.Check(ctx, identity), "call %d should be allowed", i)
		clock.Advance(time.Second)
	}

	assert.False(t, l.Check(ctx, identity), "call beyond max should be rejected")
	st := l.Status(ctx, identity)
	assert.Equal(t, 0, st.Remaining)
	assert.True(t, st.ResetAt.Equal(start.Add(DefaultWindow)), "resetAt %s", st.ResetAt)

	// 拒絕不會推進計數
	assert.False(t, l.Check(ctx, identity))
	assert.Equal(t, 0, l.Status(ctx, identity).Remaining)

	// 剛好等於視窗長度仍在同一視窗
	clock.Advance(DefaultWindow - time.Duration(DefaultMax)*time.Second)
	assert.False(t, l.Check(ctx, identity))

	clock.Advance(time.Millisecond)
	assert.True(t, l.Check(ctx, identity))
	st = l.Status(ctx, identity)
	assert.Equal(t, DefaultMax-1, st.Remaining)
	assert.True(t, st.ResetAt.Equal(clock.Now().Add(DefaultWindow)))
}

func TestMemoryWindow(t *testing.T) {
	clock := newClock()
	m := NewMemory(WithClock(clock.Now))
	exerciseWindow(t, m, clock, "user-1")
}

func TestMemoryIdentitiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMax(1))

	assert.True(t, m.Check(ctx, "a"))
	assert.False(t, m.Check(ctx, "a"))
	assert.True(t, m.Check(ctx, "b"))
}

func TestMemoryStatusForUnknownIdentity(t *testing.T) {
	clock := newClock()
	m := NewMemory(WithClock(clock.Now), WithMax(5), WithWindow(time.Minute))

	st := m.Status(context.Background(), "nobody")
	assert.Equal(t, 5, st.Remaining)
	assert.Equal(t, 5, st.Limit)
	assert.Equal(t, clock.Now().Add(time.Minute), st.ResetAt)
}

func TestMemoryResetAndSweep(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	m := NewMemory(WithClock(clock.Now), WithMax(1))

	m.Check(ctx, "a")
	m.Check(ctx, "b")
	assert.False(t, m.Check(ctx, "a"))

	m.Reset(ctx, "a")
	assert.True(t, m.Check(ctx, "a"))

	clock.Advance(DefaultWindow + time.Second)
	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 0, m.Len())
}

func TestMemoryConcurrentCallsNeverExceedMax(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithMax(10))

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Check(ctx, "shared") {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), allowed)
}

func TestMemorySweeperStops(t *testing.T) {
	m := NewMemory()
	m.StartSweeper(time.Millisecond)
	m.Close()
	m.Close()
}

func TestRedisWindow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })

	clock := newClock()
	r := NewRedis(client, WithClock(clock.Now))
	identity := "test-" + uuid.NewString()
	t.Cleanup(func() { r.Reset(context.Background(), identity) })

	exerciseWindow(t, r, clock, identity)
}

func TestRedisFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedis(client, WithMax(1))
	ctx := context.Background()
	assert.True(t, r.Check(ctx, "x"))
	assert.True(t, r.Check(ctx, "x"))
	assert.Equal(t, 1, r.Status(ctx, "x").Remaining)
}
