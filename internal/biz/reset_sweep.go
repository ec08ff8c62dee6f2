package biz

import (
	"context"
	"time"

	"credit-ledger/internal/constants"
	"credit-ledger/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// Locker 跨进程互斥锁
type Locker interface {
	// Lock 获取锁，已被其他进程持有时返回错误
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// ResetSweepUseCase 定时把到期账本的免费额度补满
// 余额查询本身会按需重置，扫描只是让长期不活跃的账本也保持一致
type ResetSweepUseCase struct {
	repo    LedgerRepo
	locker  Locker
	conf    *LedgerConfig
	now     Clock
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// NewResetSweepUseCase 创建重置扫描 UseCase
func NewResetSweepUseCase(repo LedgerRepo, locker Locker, conf *LedgerConfig, now Clock, logger log.Logger) *ResetSweepUseCase {
	return &ResetSweepUseCase{
		repo:    repo,
		locker:  locker,
		conf:    conf,
		now:     now,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

// Sweep 执行一轮扫描，返回实际重置的账本数
// 扫描按配置的 weekly_quota 补满；调用方自带额度时扫描不知道每个用户的额度，直接跳过
func (uc *ResetSweepUseCase) Sweep(ctx context.Context) (int, error) {
	if uc.conf.CallerQuotas {
		uc.log.Infof("reset sweep skipped: quotas are supplied by callers, lazy reset applies them")
		uc.observe("skipped")
		return 0, nil
	}
	if uc.locker != nil {
		unlock, err := uc.locker.Lock(ctx, constants.RedisKeyResetSweepLock)
		if err != nil {
			uc.log.Infof("reset sweep skipped, lock held elsewhere: %v", err)
			uc.observe("skipped")
			return 0, nil
		}
		defer unlock()
	}

	startTime := time.Now()
	now := uc.now().UTC()
	dueBefore := now.Add(-uc.conf.ResetInterval)

	userIDs, err := uc.repo.ListDueLedgers(ctx, dueBefore, uc.conf.SweepBatch)
	if err != nil {
		uc.observe(constants.ResultError)
		uc.log.Errorf("list due ledgers failed: %v", err)
		return 0, err
	}

	resetCount := 0
	for _, userID := range userIDs {
		applied, err := uc.repo.ResetFreeCredits(ctx, userID, uc.conf.WeeklyQuota, now, dueBefore)
		if err != nil {
			uc.log.Warnf("sweep reset failed: user=%s, err=%v", userID, err)
			continue
		}
		if applied {
			resetCount++
		}
	}

	uc.observe(constants.ResultOK)
	if uc.metrics != nil {
		uc.metrics.SweepResets.Add(float64(resetCount))
		uc.metrics.WeeklyResets.Add(float64(resetCount))
	}
	uc.log.Infof("reset sweep finished: due=%d, reset=%d, elapsed=%v", len(userIDs), resetCount, time.Since(startTime))
	return resetCount, nil
}

func (uc *ResetSweepUseCase) observe(result string) {
	if uc.metrics != nil {
		uc.metrics.SweepRuns.WithLabelValues(result).Inc()
	}
}
