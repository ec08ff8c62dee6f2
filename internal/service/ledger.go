package service

import (
	"context"
	"errors"
	"time"

	"credit-ledger/internal/biz"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

// LedgerService 账本 HTTP 服务
type LedgerService struct {
	uc     *biz.LedgerUseCase
	orders *biz.OrderUseCase
	log    *log.Helper
}

// NewLedgerService 创建 LedgerService
func NewLedgerService(uc *biz.LedgerUseCase, orders *biz.OrderUseCase, logger log.Logger) *LedgerService {
	return &LedgerService{
		uc:     uc,
		orders: orders,
		log:    log.NewHelper(logger),
	}
}

// GetBalance 查询余额
func (s *LedgerService) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceReply, error) {
	if req.WeeklyQuota < 0 {
		return nil, ledgerErrors.InvalidArgument("weekly_quota must not be negative")
	}
	balance, err := s.uc.ResolveBalance(ctx, req.UserID, req.WeeklyQuota)
	if err != nil {
		s.log.Errorf("GetBalance failed: user_id=%s, err=%v", req.UserID, err)
		return nil, err
	}
	return &BalanceReply{
		UserID:       balance.UserID,
		FreeCredits:  balance.FreeCredits,
		PaidCredits:  balance.PaidCredits,
		TotalCredits: balance.TotalCredits,
		LastReset:    formatTime(balance.LastReset),
		Degraded:     balance.Degraded,
	}, nil
}

// Spend 扣一个额度；事务冲突时重试一次
func (s *LedgerService) Spend(ctx context.Context, req *SpendRequest) (*SpendReply, error) {
	result, err := s.uc.SpendOneCredit(ctx, req.UserID)
	if errors.Is(err, ledgerErrors.ErrTransactionConflict) {
		s.log.Warnf("Spend conflicted, retrying once: user_id=%s", req.UserID)
		result, err = s.uc.SpendOneCredit(ctx, req.UserID)
	}
	if err != nil {
		s.log.Errorf("Spend failed: user_id=%s, err=%v", req.UserID, err)
		return nil, err
	}
	return &SpendReply{
		Spent:        result.Spent,
		Source:       result.Source,
		Watermark:    result.Watermark(),
		FreeCredits:  result.FreeCredits,
		PaidCredits:  result.PaidCredits,
		TotalCredits: result.TotalCredits(),
		Degraded:     result.Degraded,
	}, nil
}

// RecordUsage 记录用量，总是成功
func (s *LedgerService) RecordUsage(ctx context.Context, req *RecordUsageRequest) (*RecordUsageReply, error) {
	s.uc.RecordUsage(ctx, req.UserID, req.Style, req.Watermarked)
	return &RecordUsageReply{Accepted: true}, nil
}

// CreditPayment 支付入账
func (s *LedgerService) CreditPayment(ctx context.Context, req *CreditPaymentRequest) (*CreditPaymentReply, error) {
	result, err := s.uc.CreditPayment(ctx, req.UserID, req.Credits, req.PaymentID)
	if err != nil {
		s.log.Errorf("CreditPayment failed: user_id=%s, payment_id=%s, err=%v", req.UserID, req.PaymentID, err)
		return nil, err
	}
	return &CreditPaymentReply{
		OK:        result.OK,
		Duplicate: result.Duplicate,
		PaymentID: result.PaymentID,
		Credits:   result.Credits,
	}, nil
}

// GetAccount 账本详情
func (s *LedgerService) GetAccount(ctx context.Context, req *GetAccountRequest) (*GetAccountReply, error) {
	ledger, err := s.uc.GetAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &GetAccountReply{
		UserID:             ledger.UserID,
		FreeCredits:        ledger.FreeCredits,
		PaidCredits:        ledger.PaidCredits,
		TotalCredits:       ledger.TotalCredits(),
		LastReset:          formatTime(ledger.LastReset),
		TotalImagesCreated: ledger.TotalImagesCreated,
		LastActivity:       formatTime(ledger.LastActivity),
	}, nil
}

// GetUsageStats 全局用量统计
func (s *LedgerService) GetUsageStats(ctx context.Context, _ *UsageStatsRequest) (*UsageStatsReply, error) {
	stats, err := s.uc.GetUsageStats(ctx)
	if err != nil {
		s.log.Errorf("GetUsageStats failed: %v", err)
		return nil, err
	}
	return &UsageStatsReply{
		StyleCounts:          stats.StyleCounts,
		WatermarkCount:       stats.WatermarkCount,
		TotalImagesProcessed: stats.TotalImagesProcessed,
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
