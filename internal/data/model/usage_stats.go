package model

import (
	"time"
)

// UsageStats 全局用量统计表（单行）
type UsageStats struct {
	ID                   string    `gorm:"primaryKey;type:varchar(32)"`
	WatermarkCount       int64     `gorm:"not null;default:0"`
	TotalImagesProcessed int64     `gorm:"not null;default:0"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (UsageStats) TableName() string {
	return "usage_stats"
}

// UsageStyleCount 按风格的完成次数
type UsageStyleCount struct {
	Style  string `gorm:"primaryKey;type:varchar(64)"`
	Images int64  `gorm:"not null;default:0"`
}

// TableName 指定表名
func (UsageStyleCount) TableName() string {
	return "usage_style_count"
}
