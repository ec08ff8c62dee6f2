package model

import (
	"credit-ledger/internal/constants"
	"time"
)

// 支付记录状态常量（引用 constants 包中的常量，保持一致性）
const (
	PaymentStatusPending = constants.PaymentStatusPending // 已下单
	PaymentStatusApplied = constants.PaymentStatusApplied // 已入账
)

// PaymentRecord 支付去重表（用于幂等性保证）
type PaymentRecord struct {
	PaymentID string     `gorm:"primaryKey;type:varchar(64)"` // PayPal 订单ID 或调用方传入的支付ID
	UserID    string     `gorm:"type:varchar(64);not null;index"`
	Credits   int64      `gorm:"not null"`
	Amount    string     `gorm:"type:varchar(16)"`
	Currency  string     `gorm:"type:varchar(3)"`
	PackID    string     `gorm:"type:varchar(32)"`
	Status    string     `gorm:"type:varchar(16);not null;default:'pending'"` // pending:已下单, applied:已入账
	CreatedAt time.Time  `gorm:"autoCreateTime"`
	AppliedAt *time.Time
}

// TableName 指定表名
func (PaymentRecord) TableName() string {
	return "payment_record"
}
