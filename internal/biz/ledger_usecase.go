package biz

import (
	"context"

	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// LedgerUseCase 账本业务入口（组合 UseCase）
// 请求处理层只依赖这里的四个操作：查余额、扣费、记用量、支付入账
type LedgerUseCase struct {
	resolver   *BalanceResolver
	authorizer *SpendAuthorizer
	recorder   *UsageRecorder
	applier    *PaymentApplier

	repo LedgerRepo
	log  *log.Helper
}

// NewLedgerUseCase 创建账本 UseCase
func NewLedgerUseCase(
	resolver *BalanceResolver,
	authorizer *SpendAuthorizer,
	recorder *UsageRecorder,
	applier *PaymentApplier,
	repo LedgerRepo,
	logger log.Logger,
) *LedgerUseCase {
	return &LedgerUseCase{
		resolver:   resolver,
		authorizer: authorizer,
		recorder:   recorder,
		applier:    applier,
		repo:       repo,
		log:        log.NewHelper(logger),
	}
}

// ResolveBalance 查询余额，必要时懒创建账本或按周重置
func (uc *LedgerUseCase) ResolveBalance(ctx context.Context, userID string, weeklyQuota int64) (*Balance, error) {
	return uc.resolver.Resolve(ctx, userID, weeklyQuota)
}

// SpendOneCredit 扣一个额度，返回值决定是否加水印
func (uc *LedgerUseCase) SpendOneCredit(ctx context.Context, userID string) (*SpendResult, error) {
	return uc.authorizer.TrySpend(ctx, userID)
}

// RecordUsage 记录用量，失败不对调用方可见
func (uc *LedgerUseCase) RecordUsage(ctx context.Context, userID, style string, watermarked bool) {
	uc.recorder.Record(ctx, userID, style, watermarked)
}

// CreditPayment 按支付 ID 幂等入账
func (uc *LedgerUseCase) CreditPayment(ctx context.Context, userID string, credits int64, paymentID string) (*PaymentResult, error) {
	return uc.applier.Apply(ctx, userID, credits, paymentID)
}

// GetAccount 账本原始记录（含用量计数），不触发创建或重置
func (uc *LedgerUseCase) GetAccount(ctx context.Context, userID string) (*UserLedger, error) {
	if userID == "" {
		return nil, ledgerErrors.InvalidArgument("user_id is required")
	}
	ledger, err := uc.repo.GetLedger(ctx, userID)
	if err != nil {
		return nil, err
	}
	ledger.LastReset = NormalizeUTC(ledger.LastReset)
	ledger.LastActivity = NormalizeUTC(ledger.LastActivity)
	return ledger, nil
}

// GetUsageStats 全局用量统计
func (uc *LedgerUseCase) GetUsageStats(ctx context.Context) (*GlobalUsageStats, error) {
	return uc.recorder.Stats(ctx)
}
