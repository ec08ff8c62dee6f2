package biz

import (
	"context"
	"time"
)

// UserLedger 用户账本领域对象（每个用户一份）
type UserLedger struct {
	UserID             string
	FreeCredits        int64     // 每周免费额度余量
	PaidCredits        int64     // 购买额度余量
	LastReset          time.Time // 上次免费额度重置时间（UTC）
	TotalImagesCreated int64     // 累计完成的图片数
	LastActivity       time.Time // 最近一次完成任务的时间
}

// TotalCredits 总额度，每次由两部分重新计算，不存储
func (l *UserLedger) TotalCredits() int64 {
	return l.FreeCredits + l.PaidCredits
}

// GlobalUsageStats 全局用量统计（单例）
type GlobalUsageStats struct {
	StyleCounts          map[string]int64
	WatermarkCount       int64
	TotalImagesProcessed int64
}

// UsageEvent 一次完成任务的用量事件，RocketMQ 消息体也使用该结构
type UsageEvent struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	Style       string    `json:"style"`
	Watermarked bool      `json:"watermarked"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PaymentRecord 支付去重记录，按支付方的订单/事件 ID 唯一
type PaymentRecord struct {
	PaymentID string
	UserID    string
	Credits   int64
	Amount    string
	Currency  string
	PackID    string
	Status    string // pending / applied
	CreatedAt time.Time
	AppliedAt time.Time
}

// LedgerDelta 事务内要提交的额度变化，nil 表示不写入
type LedgerDelta struct {
	FreeCredits int64
	PaidCredits int64
}

// TxFunc 在存储事务内读到账本后做决定，返回要提交的变化
type TxFunc func(ctx context.Context, ledger *UserLedger) (*LedgerDelta, error)

// LedgerRepo 账本数据层接口（定义在 biz 层）
type LedgerRepo interface {
	// GetLedger 不存在时返回 ErrLedgerNotFound
	GetLedger(ctx context.Context, userID string) (*UserLedger, error)
	// CreateLedger 不存在则按 seed 创建，已存在则返回已有记录
	CreateLedger(ctx context.Context, seed *UserLedger) (*UserLedger, error)
	// ResetFreeCredits 仅当 last_reset 早于 dueBefore（或缺失）时把 free_credits 置为 quota、last_reset 置为 now，
	// 不触碰 paid_credits；返回是否实际写入
	ResetFreeCredits(ctx context.Context, userID string, quota int64, now, dueBefore time.Time) (bool, error)
	// RunInTransaction 读取账本并在同一事务中提交 fn 返回的变化，冲突时按配置重试，耗尽返回 ErrTransactionConflict
	RunInTransaction(ctx context.Context, userID string, fn TxFunc) error
	// ListDueLedgers 列出 last_reset 早于 dueBefore 的用户
	ListDueLedgers(ctx context.Context, dueBefore time.Time, limit int) ([]string, error)
}

// UsageRepo 用量统计数据层接口
type UsageRepo interface {
	// RecordUsage 累加全局统计与用户计数
	RecordUsage(ctx context.Context, event *UsageEvent) error
	GetUsageStats(ctx context.Context) (*GlobalUsageStats, error)
}

// PaymentRepo 支付去重数据层接口
type PaymentRepo interface {
	// CreatePayment 写入 pending 记录，ID 已存在时返回 ErrPaymentExists
	CreatePayment(ctx context.Context, record *PaymentRecord) error
	// GetPayment 不存在时返回 ErrPaymentNotFound
	GetPayment(ctx context.Context, paymentID string) (*PaymentRecord, error)
	// ApplyPayment 在一个事务内标记记录为 applied 并增加 paid_credits；已 applied 时返回 false 且不做任何写入
	// 已有记录的 user_id 或 credits 与入参不同时返回 ErrPaymentExists
	ApplyPayment(ctx context.Context, record *PaymentRecord) (bool, error)
}

// UsagePublisher 用量事件异步发布（RocketMQ 未启用时为 nil）
type UsagePublisher interface {
	PublishUsage(ctx context.Context, event *UsageEvent) error
}

// Clock 当前时间来源
type Clock func() time.Time

// NewSystemClock 返回系统时钟
func NewSystemClock() Clock {
	return time.Now
}
