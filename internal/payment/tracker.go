package payment

import "context"

// Tracker 管理付款承诺的生命周期。
//
// Mark* 方法对未知 id 返回 (nil, nil)；倒退的状态转换不生效并返回当前记录。
type Tracker interface {
	RecordAgreement(ctx context.Context, threadID string, amount float64, description, counterpartyID string) (*Agreement, error)
	MarkCommitted(ctx context.Context, id string) (*Agreement, error)
	MarkWorkStarted(ctx context.Context, id string) (*Agreement, error)
	MarkCompleted(ctx context.Context, id string) (*Agreement, error)
	Get(ctx context.Context, id string) (*Agreement, error)
	ListByThread(ctx context.Context, threadID string) ([]*Agreement, error)
	TotalCommitted(ctx context.Context) (float64, error)
	Close() error
}
