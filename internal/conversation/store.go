package conversation

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL 是对话在最后一次写入后保留的时长。
	DefaultTTL = 24 * time.Hour
	// DefaultKeyPrefix 是对话键的前缀。
	DefaultKeyPrefix = "garden:conv:"
)

// Store 抽象了对话状态的持久化接口。
type Store interface {
	Load(ctx context.Context, counterpartyID string) (*Conversation, error)
	Save(ctx context.Context, conv *Conversation) error
	Delete(ctx context.Context, counterpartyID string) error
	ListActive(ctx context.Context) ([]string, error)
	Close() error
}

// LoadAll 读取所有仍在有效期内的对话。枚举与读取之间过期的键会被跳过。
func LoadAll(ctx context.Context, store Store) ([]*Conversation, error) {
	ids, err := store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	convs := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := store.Load(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, nil
}

// IsNotFound 判断错误是否表示对话不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}
