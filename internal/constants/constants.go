package constants

// 存储驱动常量
const (
	// LedgerDriverMongo MongoDB 文档存储
	LedgerDriverMongo = "mongo"
	// LedgerDriverMySQL MySQL（gorm）
	LedgerDriverMySQL = "mysql"
	// LedgerDriverMemory 进程内存储（本地调试/测试）
	LedgerDriverMemory = "memory"
)

// 文档/表名常量
const (
	// CollectionUsers 用户账本集合
	CollectionUsers = "users"
	// CollectionStats 全局统计集合
	CollectionStats = "stats"
	// CollectionPayments 支付去重集合
	CollectionPayments = "payments"
	// StatsDocumentID 全局统计单例文档ID
	StatsDocumentID = "usage_metrics"
)

// Redis Key 前缀常量
const (
	// RedisKeyPaypalToken PayPal access token 缓存 key
	RedisKeyPaypalToken = "paypal:token:"
	// RedisKeyPaypalTokenLock token 刷新锁 key
	RedisKeyPaypalTokenLock = "paypal:token:lock:"
	// RedisKeyResetSweepLock 每周重置扫描锁 key
	RedisKeyResetSweepLock = "ledger:reset_sweep:lock"
)

// 扣费来源常量
const (
	// SpendSourceFree 免费额度
	SpendSourceFree = "free"
	// SpendSourcePaid 购买额度
	SpendSourcePaid = "paid"
	// SpendSourceUnmetered 存储不可用且配置为放行时的不计量扣费
	SpendSourceUnmetered = "unmetered"
)

// 降级模式常量
const (
	// DegradeModeDeny 存储不可用时拒绝（默认）
	DegradeModeDeny = "deny"
	// DegradeModeAllowUnlimited 存储不可用时放行并返回不限额度
	DegradeModeAllowUnlimited = "allow_unlimited"
)

// 支付记录状态常量
const (
	// PaymentStatusPending 已下单待确认
	PaymentStatusPending = "pending"
	// PaymentStatusApplied 已入账
	PaymentStatusApplied = "applied"
)

// PayPal webhook 事件类型
const (
	// PaypalEventOrderApproved 买家已批准订单，需要 capture
	PaypalEventOrderApproved = "CHECKOUT.ORDER.APPROVED"
	// PaypalEventCaptureCompleted capture 完成
	PaypalEventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	// PaypalVerificationSuccess webhook 签名校验成功
	PaypalVerificationSuccess = "SUCCESS"
	// PaypalOrderCompleted 订单已完成
	PaypalOrderCompleted = "COMPLETED"
)

// 指标结果标签常量
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCreated   = "created"
	ResultDeclined  = "declined"
	ResultConflict  = "conflict"
	ResultDegraded  = "degraded"
	ResultApplied   = "applied"
	ResultDuplicate = "duplicate"
)

// 用量记录写入路径
const (
	// UsagePathDirect 直接写存储
	UsagePathDirect = "direct"
	// UsagePathQueue 经 RocketMQ 异步写入
	UsagePathQueue = "queue"
)

// 默认值
const (
	// DefaultWeeklyQuota 默认每周免费额度
	DefaultWeeklyQuota = 5
	// DefaultUnlimitedCredits 放行降级时展示的额度
	DefaultUnlimitedCredits = 9999
	// DefaultTxMaxAttempts 事务冲突最大尝试次数
	DefaultTxMaxAttempts = 5
	// DefaultSweepBatch 每次扫描最多重置的账本数
	DefaultSweepBatch = 500
	// DefaultCurrency 默认币种
	DefaultCurrency = "USD"
)
