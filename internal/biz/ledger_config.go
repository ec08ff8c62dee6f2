package biz

import (
	"time"

	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"
)

// CreditPack 可购买的积分包
type CreditPack struct {
	ID      string
	Price   string // 十进制字符串，直接作为 PayPal amount.value
	Credits int64
}

// LedgerConfig 账本配置
type LedgerConfig struct {
	WeeklyQuota      int64
	ResetInterval    time.Duration
	DegradeMode      string
	UnlimitedCredits int64
	Currency         string
	SweepBatch       int
	Packs            []*CreditPack
	CallerQuotas     bool // 额度由调用方决定时重置扫描不运行
}

// NewLedgerConfig 从配置创建 LedgerConfig
func NewLedgerConfig(c *conf.Bootstrap) *LedgerConfig {
	config := &LedgerConfig{
		WeeklyQuota:      constants.DefaultWeeklyQuota,
		ResetInterval:    7 * 24 * time.Hour,
		DegradeMode:      constants.DegradeModeDeny,
		UnlimitedCredits: constants.DefaultUnlimitedCredits,
		Currency:         constants.DefaultCurrency,
		SweepBatch:       constants.DefaultSweepBatch,
	}
	if c.Ledger != nil {
		if c.Ledger.WeeklyQuota > 0 {
			config.WeeklyQuota = c.Ledger.WeeklyQuota
		}
		if d := c.Ledger.ResetInterval.AsDuration(); d > 0 {
			config.ResetInterval = d
		}
		// 未知取值按 deny 处理，放行必须显式配置
		if c.Ledger.DegradeMode == constants.DegradeModeAllowUnlimited {
			config.DegradeMode = constants.DegradeModeAllowUnlimited
		}
		if c.Ledger.UnlimitedCredits > 0 {
			config.UnlimitedCredits = c.Ledger.UnlimitedCredits
		}
		config.CallerQuotas = c.Ledger.CallerQuotas
	}
	if c.Paypal != nil {
		if c.Paypal.Currency != "" {
			config.Currency = c.Paypal.Currency
		}
		for _, p := range c.Paypal.Packs {
			if p == nil || p.Id == "" || p.Credits <= 0 {
				continue
			}
			config.Packs = append(config.Packs, &CreditPack{ID: p.Id, Price: p.Price, Credits: p.Credits})
		}
	}
	if c.Cron != nil && c.Cron.SweepBatch > 0 {
		config.SweepBatch = int(c.Cron.SweepBatch)
	}
	return config
}

// FailOpen 存储不可用时是否放行
func (c *LedgerConfig) FailOpen() bool {
	return c.DegradeMode == constants.DegradeModeAllowUnlimited
}

// Pack 按 ID 查找积分包
func (c *LedgerConfig) Pack(id string) (*CreditPack, bool) {
	for _, p := range c.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}
