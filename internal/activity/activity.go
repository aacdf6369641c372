// Package activity 保存 agents 最近收发的消息与统计快照，供 HTTP API 只读展示。
package activity

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AgentType 标识消息所属的 agent。
type AgentType string

const (
	AgentFarm   AgentType = "farm"
	AgentGarden AgentType = "garden"
)

// Valid 报告 agent 类型是否受支持。
func (a AgentType) Valid() bool {
	return a == AgentFarm || a == AgentGarden
}

// Direction 标识消息方向。
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// DefaultBufferSize 是活动流保留的最大消息数。
const DefaultBufferSize = 1000

// StreamMessage 是活动流中的一条记录。
type StreamMessage struct {
	ID             string    `json:"id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversationId"`
	AgentType      AgentType `json:"agentType"`
	Direction      Direction `json:"direction"`
}

// Feed 是活动流与统计快照的存储。
type Feed interface {
	Record(ctx context.Context, msg StreamMessage) error
	// Recent 按时间先后返回指定 agent 最近的 limit 条消息。
	Recent(ctx context.Context, agent AgentType, limit int) ([]StreamMessage, error)
	PublishStats(ctx context.Context, agent AgentType, stats json.RawMessage) error
	// LoadStats 返回最近一次发布的快照，不存在时第二个返回值为 false。
	LoadStats(ctx context.Context, agent AgentType) (json.RawMessage, bool, error)
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID 生成按时间排序的 ULID。
func NewID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewStreamMessage 构造一条活动记录。
func NewStreamMessage(agent AgentType, direction Direction, sender, content, conversationID string, at time.Time) StreamMessage {
	return StreamMessage{
		ID:             NewID(at),
		Sender:         sender,
		Content:        content,
		Timestamp:      at.UTC(),
		ConversationID: conversationID,
		AgentType:      agent,
		Direction:      direction,
	}
}

// Publish 将任意统计结构编码为 JSON 后发布。
func Publish(ctx context.Context, feed Feed, agent AgentType, stats any) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return feed.PublishStats(ctx, agent, data)
}

func statsKey(agent AgentType) string {
	return string(agent) + ":stats"
}
