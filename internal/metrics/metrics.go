package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics 账本服务指标
type LedgerMetrics struct {
	// 余额查询相关指标
	ResolveTotal   *prometheus.CounterVec // 余额查询总数（按结果：ok/created/degraded/error）
	WeeklyResets   prometheus.Counter     // 每周重置写入次数
	DegradedTotal  *prometheus.CounterVec // 存储不可用时的降级应答（按操作）
	ResolveLatency prometheus.Histogram   // 余额查询耗时

	// 扣费相关指标
	SpendTotal    *prometheus.CounterVec // 扣费总数（按来源：free/paid/declined/unmetered/error）
	SpendDuration prometheus.Histogram   // 扣费事务耗时
	TxConflicts   *prometheus.CounterVec // 事务冲突重试（按驱动）

	// 用量记录相关指标
	UsageRecordTotal *prometheus.CounterVec // 用量记录（按路径、结果）

	// 支付相关指标
	PaymentTotal   *prometheus.CounterVec // 入账总数（按结果：applied/duplicate/error）
	PaidCredits    prometheus.Counter     // 入账积分总数
	OrderTotal     *prometheus.CounterVec // 下单总数（按积分包、结果）
	TokenRefreshes *prometheus.CounterVec // PayPal token 刷新（按结果）

	// 定时任务指标
	SweepRuns   *prometheus.CounterVec // 重置扫描执行次数（按结果）
	SweepResets prometheus.Counter     // 扫描重置的账本数
}

// NewLedgerMetrics 创建账本服务指标
func NewLedgerMetrics() *LedgerMetrics {
	return &LedgerMetrics{
		ResolveTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_resolve_total",
				Help: "Total number of balance resolutions",
			},
			[]string{"result"},
		),
		WeeklyResets: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_weekly_reset_total",
				Help: "Total number of weekly free-credit replenishments written",
			},
		),
		DegradedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_degraded_total",
				Help: "Answers produced while the ledger store was unreachable",
			},
			[]string{"operation", "mode"},
		),
		ResolveLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_resolve_duration_seconds",
				Help:    "Duration of balance resolutions",
				Buckets: prometheus.DefBuckets,
			},
		),

		SpendTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_spend_total",
				Help: "Total number of spend decisions",
			},
			[]string{"source"}, // source: free/paid/declined/unmetered/error
		),
		SpendDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ledger_spend_duration_seconds",
				Help:    "Duration of spend transactions",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
		TxConflicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_tx_conflict_total",
				Help: "Optimistic transaction conflicts that triggered a retry",
			},
			[]string{"driver"},
		),

		UsageRecordTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_usage_record_total",
				Help: "Total number of usage records",
			},
			[]string{"path", "result"}, // path: direct/queue
		),

		PaymentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payment_total",
				Help: "Total number of payment credit applications",
			},
			[]string{"result"},
		),
		PaidCredits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_paid_credits_total",
				Help: "Total number of purchased credits applied",
			},
		),
		OrderTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_order_total",
				Help: "Total number of payment orders created",
			},
			[]string{"pack", "result"},
		),
		TokenRefreshes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_paypal_token_refresh_total",
				Help: "PayPal access token refreshes",
			},
			[]string{"result"},
		),

		SweepRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_reset_sweep_runs_total",
				Help: "Weekly reset sweep runs",
			},
			[]string{"result"},
		),
		SweepResets: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_reset_sweep_ledgers_total",
				Help: "Ledgers replenished by the reset sweep",
			},
		),
	}
}

// 全局指标实例
var (
	defaultMetrics *LedgerMetrics
	once           sync.Once
)

// GetMetrics 获取全局指标实例（promauto 注册到默认 registry，只能创建一次）
func GetMetrics() *LedgerMetrics {
	once.Do(func() {
		defaultMetrics = NewLedgerMetrics()
	})
	return defaultMetrics
}
