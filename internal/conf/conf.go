package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bootstrap 配置根节点，由 kratos config 从 configs/config.yaml 扫描得到
type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Ledger *Ledger `json:"ledger"`
	Paypal *Paypal `json:"paypal"`
	Cron   *Cron   `json:"cron"`
}

// Server 服务监听配置
type Server struct {
	Http *Server_HTTP `json:"http"`
}

// Server_HTTP HTTP 服务配置
type Server_HTTP struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

// Data 存储与中间件配置
type Data struct {
	Ledger   *Data_Ledger   `json:"ledger"`
	Mongo    *Data_Mongo    `json:"mongo"`
	Database *Data_Database `json:"database"`
	Redis    *Data_Redis    `json:"redis"`
	Rocketmq *Data_Rocketmq `json:"rocketmq"`
}

// Data_Ledger 账本存储驱动选择
type Data_Ledger struct {
	// Driver: mongo | mysql | memory
	Driver        string `json:"driver"`
	TxMaxAttempts int32  `json:"tx_max_attempts"`
}

// Data_Mongo MongoDB 配置
type Data_Mongo struct {
	Uri      string    `json:"uri"`
	Database string    `json:"database"`
	Timeout  *Duration `json:"timeout"`
}

// Data_Database 关系型数据库配置
type Data_Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Data_Redis Redis 配置
type Data_Redis struct {
	Addr         string    `json:"addr"`
	Password     string    `json:"password"`
	Db           int32     `json:"db"`
	ReadTimeout  *Duration `json:"read_timeout"`
	WriteTimeout *Duration `json:"write_timeout"`
}

// Data_Rocketmq RocketMQ 配置（异步用量事件）
type Data_Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	GroupName   string   `json:"group_name"`
	Topic       string   `json:"topic"`
	RetryTimes  int32    `json:"retry_times"`
}

// Ledger 额度规则配置
type Ledger struct {
	WeeklyQuota      int64     `json:"weekly_quota"`
	ResetInterval    *Duration `json:"reset_interval"`
	DegradeMode      string    `json:"degrade_mode"`
	UnlimitedCredits int64     `json:"unlimited_credits"`
	CallerQuotas     bool      `json:"caller_quotas"` // 调用方在查询余额时自带 weekly_quota
}

// Paypal PayPal 支付配置
type Paypal struct {
	BaseUrl      string         `json:"base_url"`
	ClientId     string         `json:"client_id"`
	ClientSecret string         `json:"client_secret"`
	WebhookId    string         `json:"webhook_id"`
	ReturnUrl    string         `json:"return_url"`
	CancelUrl    string         `json:"cancel_url"`
	Currency     string         `json:"currency"`
	Timeout      *Duration      `json:"timeout"`
	Packs        []*Paypal_Pack `json:"packs"`
}

// Paypal_Pack 积分包
type Paypal_Pack struct {
	Id      string `json:"id"`
	Price   string `json:"price"`
	Credits int64  `json:"credits"`
}

// Cron 定时任务配置
type Cron struct {
	ResetSweep string `json:"reset_sweep"`
	SweepBatch int32  `json:"sweep_batch"`
}

// Duration 以字符串形式（如 "5s"、"168h"）配置的时长
type Duration struct {
	time.Duration
}

// UnmarshalJSON 支持 "5s" 形式的字符串，也兼容纳秒整数
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
}

// AsDuration 与 protobuf Duration 的用法保持一致，nil 时返回 0
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}
