package errors

import (
	"fmt"

	kerrors "github.com/go-kratos/kratos/v2/errors"
)

// Credit Ledger 错误定义
// 错误使用 kratos errors：HTTP 状态码 + 稳定的 reason，调用方按 reason 判断
//
// 模块划分：
//   账本模块：LEDGER_*、TRANSACTION_CONFLICT
//   参数校验：INVALID_ARGUMENT
//   支付模块：PAYMENT_*、UNKNOWN_CREDIT_PACK、WEBHOOK_*

// 账本模块 reason
const (
	// ReasonLedgerNotFound 账本记录不存在
	ReasonLedgerNotFound = "LEDGER_NOT_FOUND"
	// ReasonLedgerUnavailable 账本存储不可达
	ReasonLedgerUnavailable = "LEDGER_UNAVAILABLE"
	// ReasonTransactionConflict 乐观事务重试耗尽
	ReasonTransactionConflict = "TRANSACTION_CONFLICT"
	// ReasonInvalidArgument 参数错误
	ReasonInvalidArgument = "INVALID_ARGUMENT"
)

// 支付模块 reason
const (
	// ReasonPaymentNotFound 支付记录不存在
	ReasonPaymentNotFound = "PAYMENT_NOT_FOUND"
	// ReasonPaymentExists 支付记录已存在
	ReasonPaymentExists = "PAYMENT_EXISTS"
	// ReasonUnknownCreditPack 未知的积分包
	ReasonUnknownCreditPack = "UNKNOWN_CREDIT_PACK"
	// ReasonPaymentGatewayFailed 支付网关调用失败
	ReasonPaymentGatewayFailed = "PAYMENT_GATEWAY_FAILED"
	// ReasonWebhookVerificationFailed webhook 签名校验失败
	ReasonWebhookVerificationFailed = "WEBHOOK_VERIFICATION_FAILED"
)

var (
	ErrLedgerNotFound      = kerrors.NotFound(ReasonLedgerNotFound, "ledger record not found")
	ErrLedgerUnavailable   = kerrors.ServiceUnavailable(ReasonLedgerUnavailable, "ledger store unavailable")
	ErrTransactionConflict = kerrors.Conflict(ReasonTransactionConflict, "ledger transaction conflict, retry later")
	ErrInvalidArgument     = kerrors.BadRequest(ReasonInvalidArgument, "invalid argument")

	ErrPaymentNotFound           = kerrors.NotFound(ReasonPaymentNotFound, "payment record not found")
	ErrPaymentExists             = kerrors.Conflict(ReasonPaymentExists, "payment record already exists")
	ErrUnknownCreditPack         = kerrors.BadRequest(ReasonUnknownCreditPack, "unknown credit pack")
	ErrPaymentGatewayFailed      = kerrors.New(502, ReasonPaymentGatewayFailed, "payment gateway request failed")
	ErrWebhookVerificationFailed = kerrors.Unauthorized(ReasonWebhookVerificationFailed, "webhook signature verification failed")
)

// InvalidArgument 带具体说明的参数错误
func InvalidArgument(format string, args ...interface{}) *kerrors.Error {
	return kerrors.BadRequest(ReasonInvalidArgument, "invalid argument").WithMetadata(map[string]string{
		"detail": fmt.Sprintf(format, args...),
	})
}

// Unavailable 包装底层存储错误
func Unavailable(cause error) error {
	return ErrLedgerUnavailable.WithCause(cause)
}

// Conflict 包装事务冲突
func Conflict(cause error) error {
	return ErrTransactionConflict.WithCause(cause)
}

// GatewayFailed 包装支付网关错误
func GatewayFailed(cause error) error {
	return ErrPaymentGatewayFailed.WithCause(cause)
}
