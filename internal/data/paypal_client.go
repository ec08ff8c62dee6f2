package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// paypalClient PayPal REST 客户端（Orders v2 + webhook 验签）
type paypalClient struct {
	baseURL   string
	webhookID string
	returnURL string
	cancelURL string
	tokens    *TokenCache
	http      *http.Client
	log       *log.Helper
}

// NewPaypalClient 创建 PayPal 客户端
func NewPaypalClient(c *conf.Bootstrap, tokens *TokenCache, logger log.Logger) biz.PaymentGateway {
	client := &paypalClient{
		tokens: tokens,
		log:    log.NewHelper(logger),
	}
	timeout := 10 * time.Second
	if c.Paypal != nil {
		client.baseURL = strings.TrimRight(c.Paypal.BaseUrl, "/")
		client.webhookID = c.Paypal.WebhookId
		client.returnURL = c.Paypal.ReturnUrl
		client.cancelURL = c.Paypal.CancelUrl
		if d := c.Paypal.Timeout.AsDuration(); d > 0 {
			timeout = d
		}
	}
	// token 由 TokenCache 管理，不用 oauth2.NewClient 自带的进程内复用
	client.http = &http.Client{
		Timeout:   timeout,
		Transport: &oauth2.Transport{Source: tokens, Base: http.DefaultTransport},
	}
	return client
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// paypalAPIError PayPal 非 2xx 响应
type paypalAPIError struct {
	Status int    `json:"-"`
	Name   string `json:"name"`
	Msg    string `json:"message"`
}

func (e *paypalAPIError) Error() string {
	return fmt.Sprintf("paypal api status %d: %s %s", e.Status, e.Name, e.Msg)
}

func (p *paypalClient) CreateOrder(ctx context.Context, req *biz.CreateOrderRequest) (*biz.CreateOrderReply, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []paypalPurchaseUnit{{
			ReferenceID: req.ReferenceID,
			CustomID:    req.CustomID,
			Description: req.Description,
			Amount:      paypalAmount{CurrencyCode: req.Currency, Value: req.Amount},
		}},
		"application_context": map[string]string{
			"return_url":          p.returnURL,
			"cancel_url":          p.cancelURL,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}
	var order paypalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, ledgerErrors.GatewayFailed(err)
	}
	reply := &biz.CreateOrderReply{OrderID: order.ID, Status: order.Status}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			reply.ApproveURL = l.Href
			break
		}
	}
	return reply, nil
}

// CaptureOrder 已 capture 过的订单（422 ORDER_ALREADY_CAPTURED）按查询结果返回
func (p *paypalClient) CaptureOrder(ctx context.Context, orderID string) (*biz.CaptureOrderReply, error) {
	var order paypalOrder
	err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", struct{}{}, &order)
	var apiErr *paypalAPIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
		p.log.Infof("order already captured, fetching status: order_id=%s", orderID)
		err = p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+orderID, nil, &order)
	}
	if err != nil {
		return nil, ledgerErrors.GatewayFailed(err)
	}
	reply := &biz.CaptureOrderReply{OrderID: order.ID, Status: order.Status}
	if len(order.PurchaseUnits) > 0 && len(order.PurchaseUnits[0].Payments.Captures) > 0 {
		reply.CaptureID = order.PurchaseUnits[0].Payments.Captures[0].ID
	}
	return reply, nil
}

// VerifyWebhook 未配置 webhook_id 时不验签
func (p *paypalClient) VerifyWebhook(ctx context.Context, headers *biz.WebhookHeaders, body []byte) error {
	if p.webhookID == "" {
		p.log.Debug("paypal webhook_id not configured, signature not verified")
		return nil
	}
	req := map[string]interface{}{
		"auth_algo":         headers.AuthAlgo,
		"cert_url":          headers.CertURL,
		"transmission_id":   headers.TransmissionID,
		"transmission_sig":  headers.TransmissionSig,
		"transmission_time": headers.TransmissionTime,
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(body),
	}
	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &resp); err != nil {
		return ledgerErrors.GatewayFailed(err)
	}
	if resp.VerificationStatus != constants.PaypalVerificationSuccess {
		return ledgerErrors.ErrWebhookVerificationFailed.WithMetadata(map[string]string{
			"verification_status": resp.VerificationStatus,
		})
	}
	return nil
}

func (p *paypalClient) ParseWebhook(body []byte) (*biz.WebhookEvent, error) {
	var raw struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID                string `json:"id"`
			Status            string `json:"status"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	event := &biz.WebhookEvent{
		EventID:   raw.ID,
		EventType: raw.EventType,
		Status:    raw.Resource.Status,
	}
	switch raw.EventType {
	case constants.PaypalEventCaptureCompleted:
		event.CaptureID = raw.Resource.ID
		event.OrderID = raw.Resource.SupplementaryData.RelatedIDs.OrderID
	default:
		event.OrderID = raw.Resource.ID
	}
	return event, nil
}

// do 发送请求；401 时丢弃缓存的 token 重试一次
func (p *paypalClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	if p.baseURL == "" {
		return errors.New("paypal base_url is not configured")
	}
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}
	requestID := uuid.New().String()

	for attempt := 0; ; attempt++ {
		err := p.send(ctx, method, path, payload, requestID, out)
		var apiErr *paypalAPIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			p.log.Warnf("paypal rejected access token, refreshing: %s %s", method, path)
			p.tokens.Invalidate(ctx)
			continue
		}
		return err
	}
}

func (p *paypalClient) send(ctx context.Context, method, path string, payload []byte, requestID string, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
		// 同一请求重试时 PayPal 按该 ID 去重
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &paypalAPIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
