package biz

import (
	"context"
	"errors"
	"time"

	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"
	"credit-ledger/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Balance 余额视图，Total 每次由 Free + Paid 计算
type Balance struct {
	UserID       string
	FreeCredits  int64
	PaidCredits  int64
	TotalCredits int64
	LastReset    time.Time
	Degraded     bool // 存储不可用时按 allow_unlimited 给出的应答
}

func balanceOf(l *UserLedger) *Balance {
	return &Balance{
		UserID:       l.UserID,
		FreeCredits:  l.FreeCredits,
		PaidCredits:  l.PaidCredits,
		TotalCredits: l.TotalCredits(),
		LastReset:    l.LastReset,
	}
}

// NormalizeUTC 存储中不带时区的时间按 UTC 解释
// 驱动把这类时间解码为 time.Local 时，保留墙上时间并换成 UTC
func NormalizeUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	if t.Location() == time.Local {
		y, mo, d := t.Date()
		h, mi, s := t.Clock()
		return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
	}
	return t.UTC()
}

// BalanceResolver 余额解析：懒创建账本并按周重置免费额度
type BalanceResolver struct {
	repo    LedgerRepo
	conf    *LedgerConfig
	now     Clock
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewBalanceResolver 创建余额解析器
func NewBalanceResolver(repo LedgerRepo, conf *LedgerConfig, now Clock, logger log.Logger) *BalanceResolver {
	return &BalanceResolver{
		repo:    repo,
		conf:    conf,
		now:     now,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Resolve 返回用户当前余额
// weeklyQuota <= 0 时使用配置的默认额度
func (r *BalanceResolver) Resolve(ctx context.Context, userID string, weeklyQuota int64) (*Balance, error) {
	startTime := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.ResolveLatency.Observe(time.Since(startTime).Seconds())
		}
	}()

	if userID == "" {
		return nil, ledgerErrors.InvalidArgument("user_id is required")
	}
	if weeklyQuota <= 0 {
		weeklyQuota = r.conf.WeeklyQuota
	}
	now := r.now().UTC()

	result := constants.ResultOK
	ledger, err := r.repo.GetLedger(ctx, userID)
	if errors.Is(err, ledgerErrors.ErrLedgerNotFound) {
		// 首次访问不是错误：按额度创建
		ledger, err = r.repo.CreateLedger(ctx, &UserLedger{
			UserID:      userID,
			FreeCredits: weeklyQuota,
			PaidCredits: 0,
			LastReset:   now,
		})
		if err == nil {
			result = constants.ResultCreated
			r.log.Infof("ledger created: user=%s, free_credits=%d", userID, weeklyQuota)
		}
	}
	if err != nil {
		return r.degrade(userID, err)
	}

	if r.resetDue(ledger.LastReset, now) {
		applied, err := r.repo.ResetFreeCredits(ctx, userID, weeklyQuota, now, now.Add(-r.conf.ResetInterval))
		if err != nil {
			return r.degrade(userID, err)
		}
		if applied {
			ledger.FreeCredits = weeklyQuota
			ledger.LastReset = now
			if r.metrics != nil {
				r.metrics.WeeklyResets.Inc()
			}
			r.log.Infof("weekly reset applied: user=%s, free_credits=%d, paid_credits=%d", userID, weeklyQuota, ledger.PaidCredits)
		} else {
			// 并发请求已先一步重置，以存储中的值为准
			if ledger, err = r.repo.GetLedger(ctx, userID); err != nil {
				return r.degrade(userID, err)
			}
		}
	}

	if r.metrics != nil {
		r.metrics.ResolveTotal.WithLabelValues(result).Inc()
	}
	return balanceOf(ledger), nil
}

// resetDue 距上次重置超过重置周期；没有 last_reset 视为到期
func (r *BalanceResolver) resetDue(lastReset, now time.Time) bool {
	if lastReset.IsZero() {
		return true
	}
	return now.Sub(NormalizeUTC(lastReset)) > r.conf.ResetInterval
}

// degrade 存储不可用时按 degrade_mode 处理，其余错误原样返回
func (r *BalanceResolver) degrade(userID string, err error) (*Balance, error) {
	if !errors.Is(err, ledgerErrors.ErrLedgerUnavailable) {
		if r.metrics != nil {
			r.metrics.ResolveTotal.WithLabelValues(constants.ResultError).Inc()
		}
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.DegradedTotal.WithLabelValues("resolve", r.conf.DegradeMode).Inc()
	}
	if !r.conf.FailOpen() {
		r.log.Errorf("ledger store unavailable, balance unknown: user=%s, err=%v", userID, err)
		if r.metrics != nil {
			r.metrics.ResolveTotal.WithLabelValues(constants.ResultError).Inc()
		}
		return nil, err
	}
	r.log.Warnf("ledger store unavailable, answering unlimited credits (degrade_mode=%s): user=%s, err=%v",
		r.conf.DegradeMode, userID, err)
	if r.metrics != nil {
		r.metrics.ResolveTotal.WithLabelValues(constants.ResultDegraded).Inc()
	}
	return &Balance{
		UserID:       userID,
		FreeCredits:  r.conf.UnlimitedCredits,
		TotalCredits: r.conf.UnlimitedCredits,
		Degraded:     true,
	}, nil
}
