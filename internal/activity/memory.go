package activity

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryFeed 使用固定大小的环形缓冲保存消息。
type MemoryFeed struct {
	mu    sync.RWMutex
	buf   []StreamMessage
	next  int
	full  bool
	stats map[AgentType]json.RawMessage
}

// NewMemoryFeed 创建内存活动流，size <= 0 时使用 DefaultBufferSize。
func NewMemoryFeed(size int) *MemoryFeed {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &MemoryFeed{buf: make([]StreamMessage, size), stats: make(map[AgentType]json.RawMessage)}
}

// Record 实现 Feed，缓冲满后覆盖最旧的记录。
func (f *MemoryFeed) Record(_ context.Context, msg StreamMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf[f.next] = msg
	f.next = (f.next + 1) % len(f.buf)
	if f.next == 0 {
		f.full = true
	}
	return nil
}

// Recent 实现 Feed。
func (f *MemoryFeed) Recent(_ context.Context, agent AgentType, limit int) ([]StreamMessage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ordered := make([]StreamMessage, 0, len(f.buf))
	if f.full {
		ordered = append(ordered, f.buf[f.next:]...)
	}
	ordered = append(ordered, f.buf[:f.next]...)

	var matched []StreamMessage
	for _, msg := range ordered {
		if agent == "" || msg.AgentType == agent {
			matched = append(matched, msg)
		}
	}
	return tail(matched, limit), nil
}

// PublishStats 实现 Feed。
func (f *MemoryFeed) PublishStats(_ context.Context, agent AgentType, stats json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats[agent] = append(json.RawMessage(nil), stats...)
	return nil
}

// LoadStats 实现 Feed。
func (f *MemoryFeed) LoadStats(_ context.Context, agent AgentType) (json.RawMessage, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats, ok := f.stats[agent]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), stats...), true, nil
}

// Close 实现 Feed。
func (f *MemoryFeed) Close() error { return nil }

func tail(list []StreamMessage, limit int) []StreamMessage {
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	if list == nil {
		return []StreamMessage{}
	}
	return list
}
