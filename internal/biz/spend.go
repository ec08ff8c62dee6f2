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

// SpendResult 扣费结果，同时决定是否加水印以及展示给用户的剩余额度
type SpendResult struct {
	Spent       bool
	Source      string // free / paid / unmetered，未扣费时为空
	FreeCredits int64  // 扣费后的余额
	PaidCredits int64
	Degraded    bool
}

// TotalCredits 扣费后的总额度
func (r *SpendResult) TotalCredits() int64 {
	return r.FreeCredits + r.PaidCredits
}

// Watermark 未扣到额度的任务需要加水印
func (r *SpendResult) Watermark() bool {
	return !r.Spent
}

// SpendAuthorizer 在存储事务内完成读取、判断、扣减
type SpendAuthorizer struct {
	repo    LedgerRepo
	conf    *LedgerConfig
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewSpendAuthorizer 创建扣费器
func NewSpendAuthorizer(repo LedgerRepo, conf *LedgerConfig, logger log.Logger) *SpendAuthorizer {
	return &SpendAuthorizer{
		repo:    repo,
		conf:    conf,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// TrySpend 扣一个额度：先免费后购买，都没有时不写入并返回未扣费
func (a *SpendAuthorizer) TrySpend(ctx context.Context, userID string) (*SpendResult, error) {
	if userID == "" {
		return nil, ledgerErrors.InvalidArgument("user_id is required")
	}

	startTime := time.Now()
	result := &SpendResult{}
	err := a.repo.RunInTransaction(ctx, userID, func(ctx context.Context, l *UserLedger) (*LedgerDelta, error) {
		// 冲突重试时回调会被再次调用，结果每次从头计算
		*result = SpendResult{FreeCredits: l.FreeCredits, PaidCredits: l.PaidCredits}
		switch {
		case l.FreeCredits > 0:
			result.Spent = true
			result.Source = constants.SpendSourceFree
			result.FreeCredits--
			return &LedgerDelta{FreeCredits: -1}, nil
		case l.PaidCredits > 0:
			result.Spent = true
			result.Source = constants.SpendSourcePaid
			result.PaidCredits--
			return &LedgerDelta{PaidCredits: -1}, nil
		default:
			return nil, nil
		}
	})
	if a.metrics != nil {
		a.metrics.SpendDuration.Observe(time.Since(startTime).Seconds())
	}

	switch {
	case err == nil:
	case errors.Is(err, ledgerErrors.ErrLedgerNotFound):
		// 没有账本就没有额度
		result = &SpendResult{}
	case errors.Is(err, ledgerErrors.ErrLedgerUnavailable) && a.conf.FailOpen():
		a.log.Warnf("ledger store unavailable, spend allowed without metering (degrade_mode=%s): user=%s, err=%v",
			a.conf.DegradeMode, userID, err)
		if a.metrics != nil {
			a.metrics.DegradedTotal.WithLabelValues("spend", a.conf.DegradeMode).Inc()
			a.metrics.SpendTotal.WithLabelValues(constants.SpendSourceUnmetered).Inc()
		}
		return &SpendResult{
			Spent:       true,
			Source:      constants.SpendSourceUnmetered,
			FreeCredits: a.conf.UnlimitedCredits,
			Degraded:    true,
		}, nil
	default:
		if errors.Is(err, ledgerErrors.ErrLedgerUnavailable) && a.metrics != nil {
			a.metrics.DegradedTotal.WithLabelValues("spend", a.conf.DegradeMode).Inc()
		}
		if a.metrics != nil {
			a.metrics.SpendTotal.WithLabelValues(constants.ResultError).Inc()
		}
		a.log.Errorf("spend failed: user=%s, err=%v", userID, err)
		return nil, err
	}

	if a.metrics != nil {
		source := result.Source
		if !result.Spent {
			source = constants.ResultDeclined
		}
		a.metrics.SpendTotal.WithLabelValues(source).Inc()
	}
	return result, nil
}
