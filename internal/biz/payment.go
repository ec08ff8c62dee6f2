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

// PaymentResult 入账结果
type PaymentResult struct {
	OK        bool
	Duplicate bool // 该支付 ID 之前已入账，本次未做任何写入
	PaymentID string
	Credits   int64
}

// PaymentApplier 支付入账：同一支付 ID 只增加一次 paid_credits
type PaymentApplier struct {
	ledgers  LedgerRepo
	payments PaymentRepo
	conf     *LedgerConfig
	now      Clock
	log      *log.Helper
	metrics  *metrics.LedgerMetrics
}

// NewPaymentApplier 创建支付入账器
func NewPaymentApplier(ledgers LedgerRepo, payments PaymentRepo, conf *LedgerConfig, now Clock, logger log.Logger) *PaymentApplier {
	return &PaymentApplier{
		ledgers:  ledgers,
		payments: payments,
		conf:     conf,
		now:      now,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// Apply 按支付 ID 入账
// 存储不可用时直接返回错误，由支付通知方负责重试
// 支付 ID 已属于其他用户或额度时返回 PAYMENT_EXISTS，不入账
func (a *PaymentApplier) Apply(ctx context.Context, userID string, credits int64, paymentID string) (*PaymentResult, error) {
	if userID == "" {
		return nil, ledgerErrors.InvalidArgument("user_id is required")
	}
	if paymentID == "" {
		return nil, ledgerErrors.InvalidArgument("payment_id is required")
	}
	if credits <= 0 {
		return nil, ledgerErrors.InvalidArgument("credits must be positive, got %d", credits)
	}
	now := a.now().UTC()
	return a.applyRecord(ctx, &PaymentRecord{
		PaymentID: paymentID,
		UserID:    userID,
		Credits:   credits,
		CreatedAt: now,
	})
}

func (a *PaymentApplier) applyRecord(ctx context.Context, record *PaymentRecord) (*PaymentResult, error) {
	now := a.now().UTC()
	// 付费用户可能从未查询过余额，先保证账本存在
	if err := a.ensureLedger(ctx, record.UserID, now); err != nil {
		a.observe(constants.ResultError, 0)
		a.log.Errorf("ensure ledger before payment failed: payment_id=%s, user=%s, err=%v", record.PaymentID, record.UserID, err)
		return nil, err
	}

	record.Status = constants.PaymentStatusApplied
	record.AppliedAt = now
	applied, err := a.payments.ApplyPayment(ctx, record)
	if err != nil {
		a.observe(constants.ResultError, 0)
		a.log.Errorf("apply payment failed: payment_id=%s, user=%s, credits=%d, err=%v",
			record.PaymentID, record.UserID, record.Credits, err)
		return nil, err
	}
	if !applied {
		a.observe(constants.ResultDuplicate, 0)
		a.log.Infof("payment already applied, skipped: payment_id=%s, user=%s", record.PaymentID, record.UserID)
		return &PaymentResult{OK: true, Duplicate: true, PaymentID: record.PaymentID, Credits: record.Credits}, nil
	}

	a.observe(constants.ResultApplied, record.Credits)
	a.log.Infof("payment applied: payment_id=%s, user=%s, credits=%d", record.PaymentID, record.UserID, record.Credits)
	return &PaymentResult{OK: true, PaymentID: record.PaymentID, Credits: record.Credits}, nil
}

func (a *PaymentApplier) ensureLedger(ctx context.Context, userID string, now time.Time) error {
	_, err := a.ledgers.GetLedger(ctx, userID)
	if errors.Is(err, ledgerErrors.ErrLedgerNotFound) {
		_, err = a.ledgers.CreateLedger(ctx, &UserLedger{
			UserID:      userID,
			FreeCredits: a.conf.WeeklyQuota,
			LastReset:   now,
		})
	}
	return err
}

func (a *PaymentApplier) observe(result string, credits int64) {
	if a.metrics == nil {
		return
	}
	a.metrics.PaymentTotal.WithLabelValues(result).Inc()
	if credits > 0 {
		a.metrics.PaidCredits.Add(float64(credits))
	}
}
