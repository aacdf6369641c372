package garden

import (
	"context"
	"sync"

	"yield-garden/internal/conversation"
	"yield-garden/internal/payment"
)

// Stats 是 Garden 的协商统计快照。
type Stats struct {
	Address               string  `json:"address,omitempty"`
	ActiveNegotiations    int     `json:"activeNegotiations"`
	CompletedNegotiations int     `json:"completedNegotiations"`
	TotalCommittedUSDC    float64 `json:"totalCommittedUsdc"`
	AvgNegotiationRounds  float64 `json:"avgNegotiationRounds"`
}

// progress 是统计关心的对话字段。
type progress struct {
	exists    bool
	committed bool
	rounds    int
}

func progressOf(conv *conversation.Conversation) progress {
	if conv == nil {
		return progress{}
	}
	return progress{exists: true, committed: conv.PaymentCommitted, rounds: conv.Rounds}
}

// Aggregate 随状态转换增量更新统计，重启后通过 Recompute 重建。
type Aggregate struct {
	mu              sync.Mutex
	address         string
	active          int
	completed       int
	completedRounds int
	committed       float64
	// gen 在每次 Observe 后递增，用于识别重新计算期间发生的状态转换。
	gen uint64
}

// NewAggregate 创建空统计。
func NewAggregate(address string) *Aggregate {
	return &Aggregate{address: address}
}

// Observe 记录一次已持久化的状态转换。committed 是本次新增的承诺金额。
func (g *Aggregate) Observe(before, after progress, committed float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !before.exists && after.exists && !after.committed {
		g.active++
	}
	switch {
	case !before.committed && after.committed:
		if before.exists {
			g.active--
		}
		g.completed++
		g.completedRounds += after.rounds
	case before.committed && after.committed:
		g.completedRounds += after.rounds - before.rounds
	}
	g.committed += committed
	g.gen++
}

// Generation 返回当前的转换计数。
func (g *Aggregate) Generation() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gen
}

// ResetIfUnchanged 仅在 gen 之后没有新的转换时覆盖统计，返回是否已覆盖。
func (g *Aggregate) ResetIfUnchanged(gen uint64, stats Stats) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen {
		return false
	}
	g.reset(stats)
	return true
}

// Reset 用重新计算的结果覆盖当前统计。
func (g *Aggregate) Reset(stats Stats) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset(stats)
}

func (g *Aggregate) reset(stats Stats) {
	g.active = stats.ActiveNegotiations
	g.completed = stats.CompletedNegotiations
	g.completedRounds = int(stats.AvgNegotiationRounds*float64(stats.CompletedNegotiations) + 0.5)
	g.committed = stats.TotalCommittedUSDC
}

// Snapshot 返回当前统计。
func (g *Aggregate) Snapshot() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := Stats{
		Address:               g.address,
		ActiveNegotiations:    g.active,
		CompletedNegotiations: g.completed,
		TotalCommittedUSDC:    g.committed,
	}
	if g.completed > 0 {
		stats.AvgNegotiationRounds = float64(g.completedRounds) / float64(g.completed)
	}
	return stats
}

// Recompute 从仍在有效期内的对话与 tracker 中重建统计。
// 已承诺的对话计为完成，其余计为进行中。
func Recompute(ctx context.Context, address string, store conversation.Store, tracker payment.Tracker) (Stats, error) {
	convs, err := conversation.LoadAll(ctx, store)
	if err != nil {
		return Stats{}, storageError(err, "枚举对话失败", "")
	}
	total, err := tracker.TotalCommitted(ctx)
	if err != nil {
		return Stats{}, storageError(err, "汇总承诺金额失败", "")
	}

	stats := Stats{Address: address, TotalCommittedUSDC: total}
	rounds := 0
	for _, conv := range convs {
		if conv.PaymentCommitted {
			stats.CompletedNegotiations++
			rounds += conv.Rounds
			continue
		}
		stats.ActiveNegotiations++
	}
	if stats.CompletedNegotiations > 0 {
		stats.AvgNegotiationRounds = float64(rounds) / float64(stats.CompletedNegotiations)
	}
	return stats, nil
}
