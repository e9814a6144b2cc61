package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// Memory 行程內限流器，僅適用單一實例部署
type Memory struct {
	options

	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemory 建立行程內限流器
func NewMemory(opts ...Option) *Memory {
	return &Memory{
		options: buildOptions(opts),
		windows: make(map[string]*window),
		stop:    make(chan struct{}),
	}
}

// Check 檢查並計數
func (m *Memory) Check(_ context.Context, identity string) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[identity]
	if !ok || now.Sub(w.start) > m.window {
		m.windows[identity] = &window{count: 1, start: now}
		return true
	}
	if w.count >= m.max {
		return false
	}
	w.count++
	return true
}

// Status 查詢剩餘額度，不計數
func (m *Memory) Status(_ context.Context, identity string) Status {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[identity]
	if !ok || now.Sub(w.start) > m.window {
		return Status{Limit: m.max, Remaining: m.max, ResetAt: now.Add(m.window)}
	}
	return Status{
		Limit:     m.max,
		Remaining: max(m.max-w.count, 0),
		ResetAt:   w.start.Add(m.window),
	}
}

// Reset 清除某身分的視窗
func (m *Memory) Reset(_ context.Context, identity string) {
	m.mu.Lock()
	delete(m.windows, identity)
	m.mu.Unlock()
}

// Sweep 移除已過期的視窗，回傳移除數量
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, w := range m.windows {
		if now.Sub(w.start) > m.window {
			delete(m.windows, id)
			removed++
		}
	}
	return removed
}

// Len 目前追蹤中的身分數
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// StartSweeper 定期清理過期視窗，直到 Close
func (m *Memory) StartSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-m.stop:
				return
			}
		}
	}()
}

// Close 停止清理
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
