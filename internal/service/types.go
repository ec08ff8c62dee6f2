package service

// HTTP 请求/响应结构

type BalanceRequest struct {
	UserID      string `json:"user_id"`
	WeeklyQuota int64  `json:"weekly_quota"`
}

type BalanceReply struct {
	UserID       string `json:"user_id"`
	FreeCredits  int64  `json:"free_credits"`
	PaidCredits  int64  `json:"paid_credits"`
	TotalCredits int64  `json:"total_credits"`
	LastReset    string `json:"last_reset,omitempty"`
	Degraded     bool   `json:"degraded,omitempty"`
}

type SpendRequest struct {
	UserID string `json:"user_id"`
}

type SpendReply struct {
	Spent        bool   `json:"spent"`
	Source       string `json:"source,omitempty"`
	Watermark    bool   `json:"watermark"`
	FreeCredits  int64  `json:"free_credits"`
	PaidCredits  int64  `json:"paid_credits"`
	TotalCredits int64  `json:"total_credits"`
	Degraded     bool   `json:"degraded,omitempty"`
}

type RecordUsageRequest struct {
	UserID      string `json:"user_id"`
	Style       string `json:"style"`
	Watermarked bool   `json:"watermarked"`
}

type RecordUsageReply struct {
	Accepted bool `json:"accepted"`
}

type CreditPaymentRequest struct {
	UserID    string `json:"user_id"`
	PaymentID string `json:"payment_id"`
	Credits   int64  `json:"credits"`
}

type CreditPaymentReply struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate"`
	PaymentID string `json:"payment_id"`
	Credits   int64  `json:"credits"`
}

type GetAccountRequest struct {
	UserID string `json:"user_id"`
}

type GetAccountReply struct {
	UserID             string `json:"user_id"`
	FreeCredits        int64  `json:"free_credits"`
	PaidCredits        int64  `json:"paid_credits"`
	TotalCredits       int64  `json:"total_credits"`
	LastReset          string `json:"last_reset,omitempty"`
	TotalImagesCreated int64  `json:"total_images_created"`
	LastActivity       string `json:"last_activity,omitempty"`
}

type UsageStatsRequest struct{}

type UsageStatsReply struct {
	StyleCounts          map[string]int64 `json:"style_counts"`
	WatermarkCount       int64            `json:"watermark_count"`
	TotalImagesProcessed int64            `json:"total_images_processed"`
}

type CreateOrderRequest struct {
	UserID string `json:"user_id"`
	PackID string `json:"pack_id"`
}

type CreateOrderReply struct {
	OrderID    string `json:"order_id"`
	ApproveURL string `json:"approve_url"`
	PackID     string `json:"pack_id"`
	Credits    int64  `json:"credits"`
	Price      string `json:"price"`
}

type ListPacksRequest struct{}

type CreditPack struct {
	ID      string `json:"id"`
	Price   string `json:"price"`
	Credits int64  `json:"credits"`
}

type ListPacksReply struct {
	Packs []*CreditPack `json:"packs"`
}

type PaypalWebhookRequest struct {
	TransmissionID   string `json:"-"`
	TransmissionTime string `json:"-"`
	TransmissionSig  string `json:"-"`
	CertURL          string `json:"-"`
	AuthAlgo         string `json:"-"`
	Body             []byte `json:"-"`
}

type PaypalWebhookReply struct {
	Status string `json:"status"`
}
