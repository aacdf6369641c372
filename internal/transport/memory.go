package transport

import (
	"context"
	"sync"
	"time"

	xerrors "yield-garden/internal/errors"
	"yield-garden/pkg/logger"
)

// Hub 在进程内连接多个 MemoryTransport 端点。
type Hub struct {
	mu      sync.Mutex
	inboxes map[string]chan Message
	size    int
}

// NewHub 创建一个内存消息中心，size 为每个收件箱的缓冲大小。
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 64
	}
	return &Hub{inboxes: make(map[string]chan Message), size: size}
}

func (h *Hub) inbox(address string) chan Message {
	key := normalize(address)
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.inboxes[key]
	if !ok {
		ch = make(chan Message, h.size)
		h.inboxes[key] = ch
	}
	return ch
}

// Endpoint 返回 address 对应的端点。
func (h *Hub) Endpoint(address string) *MemoryTransport {
	return &MemoryTransport{hub: h, address: address, done: make(chan struct{}), now: time.Now}
}

// MemoryTransport 使用 channel 模拟消息网络，主要用于测试与单进程部署。
type MemoryTransport struct {
	hub     *Hub
	address string
	now     func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// Address 实现 Transport。
func (t *MemoryTransport) Address() string { return t.address }

// Send 实现 Transport，消息同时回送到发送方自己的收件箱。
func (t *MemoryTransport) Send(ctx context.Context, recipient, text string) (string, error) {
	select {
	case <-t.done:
		return "", xerrors.New(xerrors.CodeTransportFailure, "transport closed")
	default:
	}
	msg := NewMessage(t.address, recipient, text, t.now())
	if err := t.deliver(ctx, t.hub.inbox(recipient), msg); err != nil {
		return "", err
	}
	if normalize(recipient) != normalize(t.address) {
		if err := t.deliver(ctx, t.hub.inbox(t.address), msg); err != nil {
			return "", err
		}
	}
	return msg.ID, nil
}

// Inject 以任意发送方身份向本端点投递消息，供测试与本地调试使用。
func (t *MemoryTransport) Inject(ctx context.Context, msg Message) error {
	return t.deliver(ctx, t.hub.inbox(t.address), msg)
}

func (t *MemoryTransport) deliver(ctx context.Context, inbox chan Message, msg Message) error {
	select {
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeTransportFailure, ctx.Err(), "deliver message")
	case inbox <- msg:
		return nil
	}
}

// Subscribe 实现 Transport。
func (t *MemoryTransport) Subscribe(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}
	inbox := t.hub.inbox(t.address)
	log := logger.Named("transport")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.done:
					return
				case msg := <-inbox:
					if err := handler(ctx, msg); err != nil {
						log.Debug("入站消息处理失败", "message_id", msg.ID, "error", err)
					}
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-t.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close 实现 Transport。
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
