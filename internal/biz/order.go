package biz

import (
	"context"
	"errors"
	"fmt"

	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"
	"credit-ledger/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
)

// PaymentGateway 支付网关接口（PayPal Orders v2）
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderReply, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureOrderReply, error)
	// VerifyWebhook 校验通知签名，未通过返回 ErrWebhookVerificationFailed
	VerifyWebhook(ctx context.Context, headers *WebhookHeaders, body []byte) error
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// CreateOrderRequest 创建支付订单请求
type CreateOrderRequest struct {
	ReferenceID string // 积分包 ID
	CustomID    string // 用户 ID，回调时原样带回
	Description string
	Amount      string
	Currency    string
}

// CreateOrderReply 创建支付订单响应
type CreateOrderReply struct {
	OrderID    string
	Status     string
	ApproveURL string
}

// CaptureOrderReply capture 响应
type CaptureOrderReply struct {
	OrderID   string
	Status    string
	CaptureID string
}

// WebhookHeaders PayPal 通知签名相关请求头
type WebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// WebhookEvent 解析后的通知事件
type WebhookEvent struct {
	EventID   string
	EventType string
	OrderID   string
	CaptureID string
	Status    string
}

// Order 已创建的积分订单
type Order struct {
	OrderID    string
	UserID     string
	Pack       *CreditPack
	ApproveURL string
}

// OrderUseCase 积分包下单与支付通知处理
type OrderUseCase struct {
	payments PaymentRepo
	gateway  PaymentGateway
	applier  *PaymentApplier
	conf     *LedgerConfig
	now      Clock
	log      *log.Helper
	metrics  *metrics.LedgerMetrics
}

// NewOrderUseCase 创建订单 UseCase
func NewOrderUseCase(
	payments PaymentRepo,
	gateway PaymentGateway,
	applier *PaymentApplier,
	conf *LedgerConfig,
	now Clock,
	logger log.Logger,
) *OrderUseCase {
	return &OrderUseCase{
		payments: payments,
		gateway:  gateway,
		applier:  applier,
		conf:     conf,
		now:      now,
		log:      log.NewHelper(logger),
		metrics:  metrics.GetMetrics(),
	}
}

// ListPacks 可购买的积分包
func (uc *OrderUseCase) ListPacks() []*CreditPack {
	return uc.conf.Packs
}

// CreateOrder 为用户创建积分包订单，并写入 pending 支付记录
func (uc *OrderUseCase) CreateOrder(ctx context.Context, userID, packID string) (*Order, error) {
	if userID == "" {
		return nil, ledgerErrors.InvalidArgument("user_id is required")
	}
	pack, ok := uc.conf.Pack(packID)
	if !ok {
		return nil, ledgerErrors.ErrUnknownCreditPack.WithMetadata(map[string]string{"pack_id": packID})
	}

	reply, err := uc.gateway.CreateOrder(ctx, &CreateOrderRequest{
		ReferenceID: pack.ID,
		CustomID:    userID,
		Description: fmt.Sprintf("%d credits", pack.Credits),
		Amount:      pack.Price,
		Currency:    uc.conf.Currency,
	})
	if err != nil {
		uc.observeOrder(pack.ID, constants.ResultError)
		uc.log.Errorf("create paypal order failed: user=%s, pack=%s, err=%v", userID, pack.ID, err)
		return nil, err
	}

	if err := uc.payments.CreatePayment(ctx, &PaymentRecord{
		PaymentID: reply.OrderID,
		UserID:    userID,
		Credits:   pack.Credits,
		Amount:    pack.Price,
		Currency:  uc.conf.Currency,
		PackID:    pack.ID,
		Status:    constants.PaymentStatusPending,
		CreatedAt: uc.now().UTC(),
	}); err != nil {
		uc.observeOrder(pack.ID, constants.ResultError)
		uc.log.Errorf("create pending payment failed: order_id=%s, user=%s, err=%v", reply.OrderID, userID, err)
		return nil, err
	}

	uc.observeOrder(pack.ID, constants.ResultCreated)
	uc.log.Infof("order created: order_id=%s, user=%s, pack=%s, credits=%d", reply.OrderID, userID, pack.ID, pack.Credits)
	return &Order{
		OrderID:    reply.OrderID,
		UserID:     userID,
		Pack:       pack,
		ApproveURL: reply.ApproveURL,
	}, nil
}

// HandleWebhook 处理 PayPal 通知：校验签名，必要时 capture，然后按订单 ID 入账
func (uc *OrderUseCase) HandleWebhook(ctx context.Context, headers *WebhookHeaders, body []byte) error {
	if err := uc.gateway.VerifyWebhook(ctx, headers, body); err != nil {
		uc.log.Warnf("webhook verification failed: transmission_id=%s, err=%v", headers.TransmissionID, err)
		return err
	}
	event, err := uc.gateway.ParseWebhook(body)
	if err != nil {
		return ledgerErrors.InvalidArgument("malformed webhook body: %v", err)
	}
	uc.log.Infof("webhook received: event_id=%s, type=%s, order_id=%s", event.EventID, event.EventType, event.OrderID)

	switch event.EventType {
	case constants.PaypalEventOrderApproved:
		return uc.captureAndApply(ctx, event.OrderID)
	case constants.PaypalEventCaptureCompleted:
		return uc.applyOrder(ctx, event.OrderID)
	default:
		uc.log.Debugf("webhook ignored: event_id=%s, type=%s", event.EventID, event.EventType)
		return nil
	}
}

func (uc *OrderUseCase) captureAndApply(ctx context.Context, orderID string) error {
	record, err := uc.lookup(ctx, orderID)
	if err != nil || record == nil {
		return err
	}
	if record.Status == constants.PaymentStatusApplied {
		return nil
	}
	capture, err := uc.gateway.CaptureOrder(ctx, orderID)
	if err != nil {
		uc.log.Errorf("capture order failed: order_id=%s, err=%v", orderID, err)
		return err
	}
	if capture.Status != constants.PaypalOrderCompleted {
		// 等 PAYMENT.CAPTURE.COMPLETED 通知再入账
		uc.log.Infof("order captured but not completed: order_id=%s, status=%s", orderID, capture.Status)
		return nil
	}
	_, err = uc.applier.applyRecord(ctx, record)
	return err
}

func (uc *OrderUseCase) applyOrder(ctx context.Context, orderID string) error {
	record, err := uc.lookup(ctx, orderID)
	if err != nil || record == nil {
		return err
	}
	_, err = uc.applier.applyRecord(ctx, record)
	return err
}

// lookup 查询下单时写入的支付记录；不是本服务创建的订单返回 nil
func (uc *OrderUseCase) lookup(ctx context.Context, orderID string) (*PaymentRecord, error) {
	if orderID == "" {
		return nil, ledgerErrors.InvalidArgument("webhook carries no order id")
	}
	record, err := uc.payments.GetPayment(ctx, orderID)
	if errors.Is(err, ledgerErrors.ErrPaymentNotFound) {
		uc.log.Warnf("webhook for unknown order ignored: order_id=%s", orderID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (uc *OrderUseCase) observeOrder(pack, result string) {
	if uc.metrics != nil {
		uc.metrics.OrderTotal.WithLabelValues(pack, result).Inc()
	}
}
