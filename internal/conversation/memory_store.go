package conversation

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	xerrors "yield-garden/internal/errors"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore 是进程内的对话存储，适用于开发与测试。
// 对话以 JSON 形式保存，读取方拿到的总是独立副本。
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

// MemoryOption 调整 MemoryStore 的行为。
type MemoryOption func(*MemoryStore)

// WithClock 替换用于计算过期时间的时钟。
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore 创建内存存储，ttl <= 0 时使用 DefaultTTL。
func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{items: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load 实现 Store。
func (s *MemoryStore) Load(_ context.Context, counterpartyID string) (*Conversation, error) {
	key := NormalizeID(counterpartyID)

	s.mu.Lock()
	entry, ok := s.items[key]
	if ok && !s.now().Before(entry.expiresAt) {
		delete(s.items, key)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		return nil, ErrConversationNotFound
	}
	var conv Conversation
	if err := json.Unmarshal(entry.data, &conv); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode conversation")
	}
	return &conv, nil
}

// Save 实现 Store，每次写入都会刷新过期时间。
func (s *MemoryStore) Save(_ context.Context, conv *Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[NormalizeID(conv.CounterpartyID)] = memoryEntry{data: data, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Delete 实现 Store。
func (s *MemoryStore) Delete(_ context.Context, counterpartyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, NormalizeID(counterpartyID))
	return nil
}

// ListActive 实现 Store，返回按字典序排列的有效键。
func (s *MemoryStore) ListActive(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := make([]string, 0, len(s.items))
	for key, entry := range s.items {
		if !now.Before(entry.expiresAt) {
			delete(s.items, key)
			continue
		}
		ids = append(ids, key)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error {
	return nil
}
