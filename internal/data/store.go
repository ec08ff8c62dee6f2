package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"
	"credit-ledger/internal/metrics"

	"github.com/cenkalti/backoff/v5"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// errTxConflict 乐观事务的写入条件未命中，需要重读重试
var errTxConflict = errors.New("ledger document changed during transaction")

// LedgerStore 一个驱动同时实现账本、用量、支付三个数据层接口
type LedgerStore interface {
	biz.LedgerRepo
	biz.UsageRepo
	biz.PaymentRepo
}

// NewLedgerStore 按配置的驱动创建存储，持久化驱动启动时建表/建索引
func NewLedgerStore(data *Data, logger log.Logger) (LedgerStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch data.driver {
	case constants.LedgerDriverMongo:
		store := NewMongoLedgerStore(data.mdb, txMaxAttempts(data.conf), logger)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case constants.LedgerDriverMySQL:
		store := NewGormLedgerStore(data.db, txMaxAttempts(data.conf), logger)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case constants.LedgerDriverMemory:
		return NewMemoryLedgerStore(), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", data.driver)
	}
}

// NewLedgerRepo 账本接口
func NewLedgerRepo(store LedgerStore) biz.LedgerRepo { return store }

// NewUsageRepo 用量接口
func NewUsageRepo(store LedgerStore) biz.UsageRepo { return store }

// NewPaymentRepo 支付接口
func NewPaymentRepo(store LedgerStore) biz.PaymentRepo { return store }

// txRunner 有限次数的乐观事务重试
type txRunner struct {
	driver      string
	maxAttempts int
	log         *log.Helper
	metrics     *metrics.LedgerMetrics
}

func newTxRunner(driver string, maxAttempts int, logger log.Logger) *txRunner {
	if maxAttempts <= 0 {
		maxAttempts = constants.DefaultTxMaxAttempts
	}
	return &txRunner{
		driver:      driver,
		maxAttempts: maxAttempts,
		log:         log.NewHelper(logger),
		metrics:     metrics.GetMetrics(),
	}
}

// run 执行 attempt，遇到 errTxConflict 退避后重试，耗尽返回 TRANSACTION_CONFLICT
func (r *txRunner) run(ctx context.Context, attempt func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond

	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := attempt(ctx)
		if errors.Is(err, errTxConflict) {
			if r.metrics != nil {
				r.metrics.TxConflicts.WithLabelValues(r.driver).Inc()
			}
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(r.maxAttempts)))

	if errors.Is(err, errTxConflict) {
		r.log.Warnf("transaction conflict not resolved after %d attempts (driver=%s)", tries, r.driver)
		return ledgerErrors.Conflict(err)
	}
	return storeError(err)
}

// samePayment 同一支付 ID 再次入账时用户与额度必须和已有记录一致
func samePayment(existing, record *biz.PaymentRecord) bool {
	return existing.UserID == record.UserID && existing.Credits == record.Credits
}

// storeError 把驱动错误统一成 LEDGER_UNAVAILABLE，已是业务错误的原样返回
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errTxConflict) {
		return err
	}
	var kerr *kerrors.Error
	if errors.As(err, &kerr) {
		return err
	}
	return ledgerErrors.Unavailable(err)
}
