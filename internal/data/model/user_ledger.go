package model

import (
	"time"
)

// UserLedger 用户账本表
type UserLedger struct {
	UserID             string     `gorm:"primaryKey;type:varchar(64)"`
	FreeCredits        int64      `gorm:"not null;default:0"`
	PaidCredits        int64      `gorm:"not null;default:0"`
	LastReset          *time.Time `gorm:"index"` // 为空表示从未重置，按到期处理
	TotalImagesCreated int64      `gorm:"not null;default:0"`
	LastActivity       *time.Time
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UserLedger) TableName() string {
	return "user_ledger"
}
