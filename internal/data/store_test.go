package data

import (
	"context"
	"errors"
	"testing"

	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRunner_RetriesConflicts(t *testing.T) {
	r := newTxRunner("test", 4, testLogger)

	calls := 0
	err := r.run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTxConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTxRunner_ExhaustedConflict(t *testing.T) {
	r := newTxRunner("test", 3, testLogger)

	calls := 0
	err := r.run(context.Background(), func(context.Context) error {
		calls++
		return errTxConflict
	})
	assert.ErrorIs(t, err, ledgerErrors.ErrTransactionConflict)
	assert.Equal(t, 3, calls)
}

func TestTxRunner_PermanentErrors(t *testing.T) {
	r := newTxRunner("test", 5, testLogger)

	calls := 0
	err := r.run(context.Background(), func(context.Context) error {
		calls++
		return errors.New("connection reset by peer")
	})
	assert.ErrorIs(t, err, ledgerErrors.ErrLedgerUnavailable)
	assert.Equal(t, 1, calls)

	err = r.run(context.Background(), func(context.Context) error {
		return ledgerErrors.ErrLedgerNotFound
	})
	assert.ErrorIs(t, err, ledgerErrors.ErrLedgerNotFound)
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError(nil))
	assert.ErrorIs(t, storeError(errors.New("timeout")), ledgerErrors.ErrLedgerUnavailable)
	assert.ErrorIs(t, storeError(ledgerErrors.ErrPaymentExists), ledgerErrors.ErrPaymentExists)
	assert.ErrorIs(t, storeError(errTxConflict), errTxConflict)
}

func TestNewData_MemoryDriver(t *testing.T) {
	bc := &conf.Bootstrap{Data: &conf.Data{Ledger: &conf.Data_Ledger{Driver: constants.LedgerDriverMemory}}}

	d, cleanup, err := NewData(bc, testLogger)
	require.NoError(t, err)
	defer cleanup()

	store, err := NewLedgerStore(d, testLogger)
	require.NoError(t, err)
	assert.IsType(t, &MemoryLedgerStore{}, store)

	// 未配置 redis/rocketmq 时可选组件为空
	assert.Nil(t, NewUsagePublisher(d, testLogger))
	assert.Nil(t, NewLocker(d, testLogger))
}

func TestNewData_UnknownDriver(t *testing.T) {
	bc := &conf.Bootstrap{Data: &conf.Data{Ledger: &conf.Data_Ledger{Driver: "cassandra"}}}

	_, _, err := NewData(bc, testLogger)
	assert.Error(t, err)
}
