package service

import (
	"context"
	"io"

	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationLedgerGetBalance    = "/ledger.v1.Ledger/GetBalance"
	OperationLedgerSpend         = "/ledger.v1.Ledger/Spend"
	OperationLedgerRecordUsage   = "/ledger.v1.Ledger/RecordUsage"
	OperationLedgerCreditPayment = "/ledger.v1.Ledger/CreditPayment"
	OperationLedgerGetAccount    = "/ledger.v1.Ledger/GetAccount"
	OperationLedgerGetUsageStats = "/ledger.v1.Ledger/GetUsageStats"
	OperationLedgerListPacks     = "/ledger.v1.Ledger/ListPacks"
	OperationLedgerCreateOrder   = "/ledger.v1.Ledger/CreateOrder"
	OperationLedgerPaypalWebhook = "/ledger.v1.Ledger/PaypalWebhook"
)

// maxWebhookBody PayPal 通知体上限
const maxWebhookBody = 1 << 20

// RegisterLedgerHTTPServer 注册账本路由
func RegisterLedgerHTTPServer(s *http.Server, srv *LedgerService) {
	r := s.Route("/")
	r.GET("/v1/users/{user_id}/balance", _Ledger_GetBalance0_HTTP_Handler(srv))
	r.POST("/v1/users/{user_id}/spend", _Ledger_Spend0_HTTP_Handler(srv))
	r.POST("/v1/users/{user_id}/usage", _Ledger_RecordUsage0_HTTP_Handler(srv))
	r.POST("/v1/users/{user_id}/payments", _Ledger_CreditPayment0_HTTP_Handler(srv))
	r.POST("/v1/users/{user_id}/orders", _Ledger_CreateOrder0_HTTP_Handler(srv))
	r.GET("/v1/users/{user_id}", _Ledger_GetAccount0_HTTP_Handler(srv))
	r.GET("/v1/packs", _Ledger_ListPacks0_HTTP_Handler(srv))
	r.GET("/v1/stats/usage", _Ledger_GetUsageStats0_HTTP_Handler(srv))
	r.POST("/v1/paypal/webhook", _Ledger_PaypalWebhook0_HTTP_Handler(srv))
}

func _Ledger_GetBalance0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in BalanceRequest
		if err := ctx.BindQuery(&in); err != nil {
			return ledgerErrors.InvalidArgument("%v", err)
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationLedgerGetBalance)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetBalance(ctx, req.(*BalanceRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*BalanceReply))
	}
}

func _Ledger_Spend0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in SpendRequest
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationLedgerSpend)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.Spend(ctx, req.(*SpendRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*SpendReply))
	}
}

func _Ledger_RecordUsage0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in RecordUsageRequest
		// 用量上报不可失败，请求体不合法时按空样式记录
		_ = ctx.Bind(&in)
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationLedgerRecordUsage)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.RecordUsage(ctx, req.(*RecordUsageRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*RecordUsageReply))
	}
}

func _Ledger_CreditPayment0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in CreditPaymentRequest
		if err := ctx.Bind(&in); err != nil {
			return ledgerErrors.InvalidArgument("%v", err)
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationLedgerCreditPayment)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CreditPayment(ctx, req.(*CreditPaymentRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*CreditPaymentReply))
	}
}

func _Ledger_GetAccount0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in GetAccountRequest
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationLedgerGetAccount)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetAccount(ctx, req.(*GetAccountRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*GetAccountReply))
	}
}

func _Ledger_GetUsageStats0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in UsageStatsRequest
		http.SetOperation(ctx, OperationLedgerGetUsageStats)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetUsageStats(ctx, req.(*UsageStatsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*UsageStatsReply))
	}
}

func _Ledger_ListPacks0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in ListPacksRequest
		http.SetOperation(ctx, OperationLedgerListPacks)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListPacks(ctx, req.(*ListPacksRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*ListPacksReply))
	}
}

func _Ledger_CreateOrder0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in CreateOrderRequest
		if err := ctx.Bind(&in); err != nil {
			return ledgerErrors.InvalidArgument("%v", err)
		}
		if err := ctx.BindVars(&in); err != nil {
			return err
		}
		http.SetOperation(ctx, OperationLedgerCreateOrder)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.CreateOrder(ctx, req.(*CreateOrderRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*CreateOrderReply))
	}
}

// 验签需要原始请求体，不走 Bind
func _Ledger_PaypalWebhook0_HTTP_Handler(srv *LedgerService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		r := ctx.Request()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			return ledgerErrors.InvalidArgument("read webhook body: %v", err)
		}
		in := PaypalWebhookRequest{
			TransmissionID:   r.Header.Get("Paypal-Transmission-Id"),
			TransmissionTime: r.Header.Get("Paypal-Transmission-Time"),
			TransmissionSig:  r.Header.Get("Paypal-Transmission-Sig"),
			CertURL:          r.Header.Get("Paypal-Cert-Url"),
			AuthAlgo:         r.Header.Get("Paypal-Auth-Algo"),
			Body:             body,
		}
		http.SetOperation(ctx, OperationLedgerPaypalWebhook)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.PaypalWebhook(ctx, req.(*PaypalWebhookRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out.(*PaypalWebhookReply))
	}
}
