package service

import (
	"context"

	"credit-ledger/internal/biz"
)

// ListPacks 可购买的积分包
func (s *LedgerService) ListPacks(_ context.Context, _ *ListPacksRequest) (*ListPacksReply, error) {
	packs := s.orders.ListPacks()
	reply := &ListPacksReply{Packs: make([]*CreditPack, 0, len(packs))}
	for _, p := range packs {
		reply.Packs = append(reply.Packs, &CreditPack{ID: p.ID, Price: p.Price, Credits: p.Credits})
	}
	return reply, nil
}

// CreateOrder 创建 PayPal 订单，返回买家确认链接
func (s *LedgerService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderReply, error) {
	order, err := s.orders.CreateOrder(ctx, req.UserID, req.PackID)
	if err != nil {
		s.log.Errorf("CreateOrder failed: user_id=%s, pack_id=%s, err=%v", req.UserID, req.PackID, err)
		return nil, err
	}
	return &CreateOrderReply{
		OrderID:    order.OrderID,
		ApproveURL: order.ApproveURL,
		PackID:     order.Pack.ID,
		Credits:    order.Pack.Credits,
		Price:      order.Pack.Price,
	}, nil
}

// PaypalWebhook PayPal 支付通知
func (s *LedgerService) PaypalWebhook(ctx context.Context, req *PaypalWebhookRequest) (*PaypalWebhookReply, error) {
	headers := &biz.WebhookHeaders{
		TransmissionID:   req.TransmissionID,
		TransmissionTime: req.TransmissionTime,
		TransmissionSig:  req.TransmissionSig,
		CertURL:          req.CertURL,
		AuthAlgo:         req.AuthAlgo,
	}
	if err := s.orders.HandleWebhook(ctx, headers, req.Body); err != nil {
		s.log.Errorf("PaypalWebhook failed: transmission_id=%s, err=%v", req.TransmissionID, err)
		return nil, err
	}
	return &PaypalWebhookReply{Status: "ok"}, nil
}
