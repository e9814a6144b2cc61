package bulk

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"recipe-importer/internal/pkg/common"
)

// DefaultConcurrency 批次拍照匯入的同時處理上限
const DefaultConcurrency = 3

// State 批次狀態
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateCancelling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateCancelling:
		return "cancelling"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// MarshalText 以名稱輸出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Batch 一次批次執行的狀態；取消只阻止新工作開始，已開始的工作一定會完成
type Batch struct {
	ID      string
	OwnerID string
	Total   int

	state     atomic.Int32
	cancelled atomic.Bool
	started   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64

	mu         sync.Mutex
	results    []any
	createdAt  time.Time
	finishedAt time.Time
	done       chan struct{}
}

// NewBatch 創建批次
func NewBatch(ownerID string, total int) *Batch {
	return &Batch{
		ID:        common.GenerateUUID(),
		OwnerID:   ownerID,
		Total:     total,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// State 目前狀態
func (b *Batch) State() State { return State(b.state.Load()) }

// Cancel 要求取消；回傳是否仍在執行中
func (b *Batch) Cancel() bool {
	b.cancelled.Store(true)
	return b.state.CompareAndSwap(int32(StateRunning), int32(StateCancelling))
}

// Cancelled 是否已要求取消
func (b *Batch) Cancelled() bool { return b.cancelled.Load() }

// Done 批次結束時關閉
func (b *Batch) Done() <-chan struct{} { return b.done }

// Peak 同時處理中的最大數量
func (b *Batch) Peak() int { return int(b.peak.Load()) }

// Status 對外顯示的批次狀態
type Status struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Total     int       `json:"total"`
	Started   int       `json:"started"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Results   []any     `json:"results"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status 取得目前狀態快照
func (b *Batch) Status() Status {
	b.mu.Lock()
	results := make([]any, len(b.results))
	copy(results, b.results)
	b.mu.Unlock()

	st := Status{
		ID:        b.ID,
		State:     b.State(),
		Total:     b.Total,
		Started:   int(b.started.Load()),
		Succeeded: int(b.succeeded.Load()),
		Failed:    int(b.failed.Load()),
		Results:   results,
		CreatedAt: b.createdAt,
	}
	if st.State == StateDone {
		st.Skipped = st.Total - st.Started
	}
	return st
}

func (b *Batch) enter() {
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (b *Batch) recordSuccess(v any) {
	b.mu.Lock()
	b.results = append(b.results, v)
	b.mu.Unlock()
	b.succeeded.Add(1)
}

func (b *Batch) finish() {
	b.mu.Lock()
	b.finishedAt = time.Now()
	b.mu.Unlock()
	b.state.Store(int32(StateDone))
	close(b.done)
}

// Result 批次結果；Skipped 為取消後沒有開始的項目
type Result[R any] struct {
	Succeeded   []R
	FailedCount int
	Skipped     int
}

// Run 以最多 limit 個並發執行 fn
//
// 每個項目開始前檢查取消旗標；單一項目失敗或 panic 只計入 FailedCount，
// 不影響其他項目。佇列結束後等待所有已開始的項目完成才回傳。
// Succeeded 維持輸入順序。
func Run[T, R any](ctx context.Context, b *Batch, items []T, limit int, fn func(context.Context, T) (R, error)) Result[R] {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if !b.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Result[R]{Skipped: len(items)}
	}

	var (
		sem     = semaphore.NewWeighted(int64(limit))
		wg      sync.WaitGroup
		outputs = make([]R, len(items))
		ok      = make([]bool, len(items))
		failed  atomic.Int64
		started int
	)

	for i, item := range items {
		if b.Cancelled() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// 等待空位期間可能已被取消
		if b.Cancelled() {
			sem.Release(1)
			break
		}

		started++
		b.started.Add(1)
		b.enter()
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer sem.Release(1)
			defer b.inFlight.Add(-1)
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					b.failed.Add(1)
					common.LogError("Bulk item panicked",
						zap.String("batch_id", b.ID),
						zap.Int("index", i),
						zap.Any("panic", r),
					)
				}
			}()

			out, err := fn(ctx, item)
			if err != nil {
				failed.Add(1)
				b.failed.Add(1)
				common.LogWarn("Bulk item failed",
					zap.String("batch_id", b.ID),
					zap.Int("index", i),
					zap.Error(err),
				)
				return
			}
			outputs[i] = out
			ok[i] = true
			b.recordSuccess(out)
		}(i, item)
	}

	if b.Cancelled() || ctx.Err() != nil {
		b.cancelled.Store(true)
		b.state.Store(int32(StateCancelling))
	} else {
		b.state.Store(int32(StateDraining))
	}
	wg.Wait()

	res := Result[R]{
		Succeeded:   make([]R, 0, len(items)),
		FailedCount: int(failed.Load()),
		Skipped:     len(items) - started,
	}
	for i := range items {
		if ok[i] {
			res.Succeeded = append(res.Succeeded, outputs[i])
		}
	}
	b.finish()

	common.LogInfo("Bulk batch finished",
		zap.String("batch_id", b.ID),
		zap.Int("total", len(items)),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", res.FailedCount),
		zap.Int("skipped", res.Skipped),
	)
	return res
}

// Registry 追蹤非同步批次，提供狀態查詢與取消
type Registry struct {
	mu        sync.Mutex
	batches   map[string]*Batch
	retention time.Duration
}

// NewRegistry 結束超過 retention 的批次會在下次建立時清除
func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Registry{batches: make(map[string]*Batch), retention: retention}
}

// Create 建立並登記批次
func (r *Registry) Create(ownerID string, total int) *Batch {
	b := NewBatch(ownerID, total)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(time.Now())
	r.batches[b.ID] = b
	return b
}

// Get 只回傳屬於 ownerID 的批次
func (r *Registry) Get(ownerID, id string) (*Batch, error) {
	r.mu.Lock()
	b, ok := r.batches[id]
	r.mu.Unlock()
	if !ok || b.OwnerID != ownerID {
		return nil, common.NewError(common.ErrCodeNotFound, fmt.Sprintf("batch %s not found", id), http.StatusNotFound, nil)
	}
	return b, nil
}

// Len 目前登記數量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *Registry) pruneLocked(now time.Time) {
	for id, b := range r.batches {
		if b.State() != StateDone {
			continue
		}
		b.mu.Lock()
		expired := now.Sub(b.finishedAt) > r.retention
		b.mu.Unlock()
		if expired {
			delete(r.batches, id)
		}
	}
}
