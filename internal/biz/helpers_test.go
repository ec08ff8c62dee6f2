package biz_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/constants"
	"credit-ledger/internal/data"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
)

var (
	testLogger = log.NewStdLogger(io.Discard)
	testNow    = time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
)

func fixedClock(t time.Time) biz.Clock {
	return func() time.Time { return t }
}

func testConfig() *biz.LedgerConfig {
	return &biz.LedgerConfig{
		WeeklyQuota:      5,
		ResetInterval:    7 * 24 * time.Hour,
		DegradeMode:      constants.DegradeModeDeny,
		UnlimitedCredits: constants.DefaultUnlimitedCredits,
		Currency:         constants.DefaultCurrency,
		SweepBatch:       100,
		Packs: []*biz.CreditPack{
			{ID: "starter", Price: "2.99", Credits: 10},
			{ID: "pro", Price: "9.99", Credits: 50},
		},
	}
}

type fixture struct {
	store *data.MemoryLedgerStore
	conf  *biz.LedgerConfig
	uc    *biz.LedgerUseCase
}

func newFixture(conf *biz.LedgerConfig, now time.Time) *fixture {
	store := data.NewMemoryLedgerStore()
	return &fixture{
		store: store,
		conf:  conf,
		uc:    newUseCase(store, store, store, nil, conf, now),
	}
}

func newUseCase(ledgers biz.LedgerRepo, usage biz.UsageRepo, payments biz.PaymentRepo, publisher biz.UsagePublisher, conf *biz.LedgerConfig, now time.Time) *biz.LedgerUseCase {
	clock := fixedClock(now)
	return biz.NewLedgerUseCase(
		biz.NewBalanceResolver(ledgers, conf, clock, testLogger),
		biz.NewSpendAuthorizer(ledgers, conf, testLogger),
		biz.NewUsageRecorder(usage, publisher, clock, testLogger),
		biz.NewPaymentApplier(ledgers, payments, conf, clock, testLogger),
		ledgers,
		testLogger,
	)
}

var errStoreDown = errors.New("connection refused")

// unavailableRepo 所有操作都报存储不可达
type unavailableRepo struct{}

func (unavailableRepo) GetLedger(context.Context, string) (*biz.UserLedger, error) {
	return nil, ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) CreateLedger(context.Context, *biz.UserLedger) (*biz.UserLedger, error) {
	return nil, ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) ResetFreeCredits(context.Context, string, int64, time.Time, time.Time) (bool, error) {
	return false, ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) RunInTransaction(context.Context, string, biz.TxFunc) error {
	return ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) ListDueLedgers(context.Context, time.Time, int) ([]string, error) {
	return nil, ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) RecordUsage(context.Context, *biz.UsageEvent) error {
	return ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) GetUsageStats(context.Context) (*biz.GlobalUsageStats, error) {
	return nil, ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) CreatePayment(context.Context, *biz.PaymentRecord) error {
	return ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) GetPayment(context.Context, string) (*biz.PaymentRecord, error) {
	return nil, ledgerErrors.Unavailable(errStoreDown)
}

func (unavailableRepo) ApplyPayment(context.Context, *biz.PaymentRecord) (bool, error) {
	return false, ledgerErrors.Unavailable(errStoreDown)
}

// fakePublisher 记录发布的事件，可配置为失败
type fakePublisher struct {
	mu     sync.Mutex
	err    error
	events []*biz.UsageEvent
}

func (p *fakePublisher) PublishUsage(_ context.Context, event *biz.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

// fakeGateway 内存版 PayPal
type fakeGateway struct {
	mu            sync.Mutex
	nextOrder     int
	captureStatus string
	verifyErr     error
	createErr     error
	captures      map[string]int
	events        map[string]*biz.WebhookEvent
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		captureStatus: constants.PaypalOrderCompleted,
		captures:      make(map[string]int),
		events:        make(map[string]*biz.WebhookEvent),
	}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req *biz.CreateOrderRequest) (*biz.CreateOrderReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextOrder++
	id := fmt.Sprintf("ORDER-%d", g.nextOrder)
	return &biz.CreateOrderReply{
		OrderID:    id,
		Status:     "CREATED",
		ApproveURL: "https://paypal.test/checkoutnow?token=" + id,
	}, nil
}

func (g *fakeGateway) CaptureOrder(_ context.Context, orderID string) (*biz.CaptureOrderReply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures[orderID]++
	return &biz.CaptureOrderReply{OrderID: orderID, Status: g.captureStatus, CaptureID: "CAP-" + orderID}, nil
}

func (g *fakeGateway) VerifyWebhook(context.Context, *biz.WebhookHeaders, []byte) error {
	return g.verifyErr
}

// ParseWebhook body 即事件 key
func (g *fakeGateway) ParseWebhook(body []byte) (*biz.WebhookEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	event, ok := g.events[string(body)]
	if !ok {
		return nil, errors.New("unexpected webhook body")
	}
	return event, nil
}

func (g *fakeGateway) on(body string, event *biz.WebhookEvent) []byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[body] = event
	return []byte(body)
}

func (g *fakeGateway) captureCount(orderID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.captures[orderID]
}

// stubLocker 可配置为锁已被占用
type stubLocker struct {
	held     bool
	acquired int
	released int
}

func (l *stubLocker) Lock(context.Context, string) (func(), error) {
	if l.held {
		return nil, errors.New("lock already taken")
	}
	l.acquired++
	return func() { l.released++ }, nil
}
