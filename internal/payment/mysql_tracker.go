package payment

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	xerrors "yield-garden/internal/errors"
	"yield-garden/internal/storage/mysql"
)

// maxIDAttempts 限制协议编号冲突时的重试次数。
const maxIDAttempts = 5

const agreementColumns = `id, thread_id, counterparty_id, amount_usdc, description, status, created_at, committed_at, work_started_at, completed_at`

// MySQLTracker 将付款承诺保存在 payment_agreements 表中。
type MySQLTracker struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLTracker 连接数据库并应用迁移。
func NewMySQLTracker(ctx context.Context, cfg mysql.Config) (*MySQLTracker, error) {
	db, err := mysql.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewMySQLTrackerWithDB(db), nil
}

// NewMySQLTrackerWithDB 使用已就绪的连接池，调用方负责迁移。
func NewMySQLTrackerWithDB(db *sql.DB) *MySQLTracker {
	return &MySQLTracker{db: db, now: time.Now}
}

// RecordAgreement 实现 Tracker。
func (t *MySQLTracker) RecordAgreement(ctx context.Context, threadID string, amount float64, description, counterpartyID string) (*Agreement, error) {
	now := t.now().UTC().Truncate(time.Millisecond)
	agreement := &Agreement{
		ThreadID:       threadID,
		CounterpartyID: counterpartyID,
		Amount:         amount,
		Description:    description,
		Status:         StatusPending,
	}
	// 同一线程在同一毫秒内的编号会冲突，顺延一毫秒重试。
	for attempt := 0; ; attempt++ {
		agreement.ID = AgreementID(threadID, now)
		agreement.CreatedAt = now
		_, err := t.db.ExecContext(ctx, `INSERT INTO payment_agreements
    (id, thread_id, counterparty_id, amount_usdc, description, status, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?)`,
			agreement.ID, agreement.ThreadID, agreement.CounterpartyID, agreement.Amount,
			agreement.Description, string(agreement.Status), now.UnixMilli())
		if err == nil {
			return agreement, nil
		}
		if !mysql.IsDuplicateKey(err) || attempt+1 >= maxIDAttempts {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入付款承诺失败",
				xerrors.WithMetadata("agreement_id", agreement.ID))
		}
		now = now.Add(time.Millisecond)
	}
}

// MarkCommitted 实现 Tracker。
func (t *MySQLTracker) MarkCommitted(ctx context.Context, id string) (*Agreement, error) {
	return t.transition(ctx, id, StatusCommitted, "committed_at")
}

// MarkWorkStarted 实现 Tracker。
func (t *MySQLTracker) MarkWorkStarted(ctx context.Context, id string) (*Agreement, error) {
	return t.transition(ctx, id, StatusInProgress, "work_started_at")
}

// MarkCompleted 实现 Tracker。
func (t *MySQLTracker) MarkCompleted(ctx context.Context, id string) (*Agreement, error) {
	return t.transition(ctx, id, StatusCompleted, "completed_at")
}

// transition 只在当前状态排在 to 之前时更新，保证状态不会倒退。
func (t *MySQLTracker) transition(ctx context.Context, id string, to Status, column string) (*Agreement, error) {
	earlier := statusesBefore(to)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(earlier)), ", ")
	query := `UPDATE payment_agreements SET status = ?, ` + column + ` = ? WHERE id = ? AND status IN (` + placeholders + `)`

	args := []any{string(to), t.now().UTC().UnixMilli(), id}
	for _, status := range earlier {
		args = append(args, string(status))
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新付款承诺状态失败",
			xerrors.WithMetadata("agreement_id", id), xerrors.WithMetadata("status", string(to)))
	}
	return t.Get(ctx, id)
}

func statusesBefore(to Status) []Status {
	var result []Status
	for _, status := range []Status{StatusPending, StatusCommitted, StatusInProgress, StatusCompleted} {
		if status.Rank() < to.Rank() {
			result = append(result, status)
		}
	}
	return result
}

// Get 实现 Tracker，未知 id 返回 (nil, nil)。
func (t *MySQLTracker) Get(ctx context.Context, id string) (*Agreement, error) {
	row := t.db.QueryRowContext(ctx, `SELECT `+agreementColumns+`
    FROM payment_agreements WHERE id = ?`, id)
	agreement, err := scanAgreement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询付款承诺失败",
			xerrors.WithMetadata("agreement_id", id))
	}
	return agreement, nil
}

// ListByThread 实现 Tracker。
func (t *MySQLTracker) ListByThread(ctx context.Context, threadID string) ([]*Agreement, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT `+agreementColumns+`
    FROM payment_agreements WHERE thread_id = ? ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询付款承诺列表失败")
	}
	defer rows.Close()

	var result []*Agreement
	for rows.Next() {
		agreement, err := scanAgreement(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析付款承诺失败")
		}
		result = append(result, agreement)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历付款承诺失败")
	}
	return result, nil
}

// TotalCommitted 实现 Tracker。
func (t *MySQLTracker) TotalCommitted(ctx context.Context) (float64, error) {
	var total float64
	err := t.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_usdc), 0) FROM payment_agreements WHERE status IN (?, ?, ?)`,
		string(StatusCommitted), string(StatusInProgress), string(StatusCompleted)).Scan(&total)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "统计付款承诺失败")
	}
	return total, nil
}

// Close 关闭连接池。
func (t *MySQLTracker) Close() error {
	if t == nil || t.db == nil {
		return nil
	}
	return t.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (*Agreement, error) {
	var (
		agreement   Agreement
		status      string
		createdAt   int64
		committedAt sql.NullInt64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&agreement.ID, &agreement.ThreadID, &agreement.CounterpartyID, &agreement.Amount,
		&agreement.Description, &status, &createdAt, &committedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	agreement.Status = Status(status)
	agreement.CreatedAt = time.UnixMilli(createdAt).UTC()
	agreement.CommittedAt = millisPtr(committedAt)
	agreement.WorkStartedAt = millisPtr(startedAt)
	agreement.CompletedAt = millisPtr(completedAt)
	return &agreement, nil
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
