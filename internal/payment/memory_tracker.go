package payment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryTracker 在进程内保存付款承诺。
type MemoryTracker struct {
	mu         sync.Mutex
	agreements map[string]*Agreement
	now        func() time.Time
}

// NewMemoryTracker 创建内存 tracker。
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{agreements: make(map[string]*Agreement), now: time.Now}
}

// RecordAgreement 实现 Tracker。同一毫秒内的重复编号会顺延到下一毫秒。
func (t *MemoryTracker) RecordAgreement(_ context.Context, threadID string, amount float64, description, counterpartyID string) (*Agreement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	at := now
	id := AgreementID(threadID, at)
	for t.agreements[id] != nil {
		at = at.Add(time.Millisecond)
		id = AgreementID(threadID, at)
	}

	agreement := &Agreement{
		ID:             id,
		ThreadID:       threadID,
		CounterpartyID: counterpartyID,
		Amount:         amount,
		Description:    description,
		Status:         StatusPending,
		CreatedAt:      now,
	}
	t.agreements[id] = agreement
	return agreement.clone(), nil
}

// MarkCommitted 实现 Tracker。
func (t *MemoryTracker) MarkCommitted(_ context.Context, id string) (*Agreement, error) {
	return t.transition(id, StatusCommitted), nil
}

// MarkWorkStarted 实现 Tracker。
func (t *MemoryTracker) MarkWorkStarted(_ context.Context, id string) (*Agreement, error) {
	return t.transition(id, StatusInProgress), nil
}

// MarkCompleted 实现 Tracker。
func (t *MemoryTracker) MarkCompleted(_ context.Context, id string) (*Agreement, error) {
	return t.transition(id, StatusCompleted), nil
}

func (t *MemoryTracker) transition(id string, to Status) *Agreement {
	t.mu.Lock()
	defer t.mu.Unlock()

	agreement, ok := t.agreements[id]
	if !ok {
		return nil
	}
	agreement.advance(to, t.now().UTC())
	return agreement.clone()
}

// Get 实现 Tracker。
func (t *MemoryTracker) Get(_ context.Context, id string) (*Agreement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agreements[id].clone(), nil
}

// ListByThread 实现 Tracker，按创建时间升序返回。
func (t *MemoryTracker) ListByThread(_ context.Context, threadID string) ([]*Agreement, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result []*Agreement
	for _, agreement := range t.agreements {
		if agreement.ThreadID == threadID {
			result = append(result, agreement.clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// TotalCommitted 实现 Tracker。
func (t *MemoryTracker) TotalCommitted(_ context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var total float64
	for _, agreement := range t.agreements {
		if agreement.Status.Counted() {
			total += agreement.Amount
		}
	}
	return total, nil
}

// Close 实现 Tracker。
func (t *MemoryTracker) Close() error { return nil }
