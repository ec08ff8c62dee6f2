package data

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"credit-ledger/internal/biz"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newSQLiteStore 每个用例一个独立的内存库；单连接保证同一个库
func newSQLiteStore(t *testing.T) LedgerStore {
	return newSQLiteGormStore(t, nil)
}

// newSQLiteGormStore 可在迁移前给 gorm 注册回调
func newSQLiteGormStore(t *testing.T, setup func(db *gorm.DB)) *GormLedgerStore {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if setup != nil {
		setup(db)
	}

	store := NewGormLedgerStore(db, 5, testLogger)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestGormLedgerStore(t *testing.T) {
	runStoreSuite(t, newSQLiteStore)
}

// interleavedWriter 在条件写入前，用同一事务的连接改动账本，模拟读写之间有别的写入
type interleavedWriter struct {
	armed int32
}

func (w *interleavedWriter) arm() { atomic.StoreInt32(&w.armed, 1) }

func (w *interleavedWriter) register(t *testing.T) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		err := db.Callback().Update().Before("gorm:update").Register("test:interleaved_writer", func(tx *gorm.DB) {
			if !atomic.CompareAndSwapInt32(&w.armed, 1, 0) {
				return
			}
			_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
				"UPDATE user_ledger SET paid_credits = paid_credits + 1 WHERE user_id = ?", "u1")
			assert.NoError(t, err)
		})
		require.NoError(t, err)
	}
}

func TestGormLedgerStore_RetriesWhenRowChanged(t *testing.T) {
	writer := &interleavedWriter{}
	store := newSQLiteGormStore(t, writer.register(t))
	ctx := context.Background()
	now := time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
	_, err := store.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 2, PaidCredits: 3, LastReset: now})
	require.NoError(t, err)

	calls := 0
	err = store.RunInTransaction(ctx, "u1", func(_ context.Context, l *biz.UserLedger) (*biz.LedgerDelta, error) {
		calls++
		if calls == 1 {
			writer.arm()
		}
		assert.Equal(t, int64(2), l.FreeCredits)
		return &biz.LedgerDelta{FreeCredits: -1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	l, err := store.GetLedger(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.FreeCredits)
	assert.Equal(t, int64(3), l.PaidCredits)
}

func TestGormLedgerStore_ConflictAfterMaxAttempts(t *testing.T) {
	writer := &interleavedWriter{}
	store := newSQLiteGormStore(t, writer.register(t))
	ctx := context.Background()
	_, err := store.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 2, LastReset: time.Now()})
	require.NoError(t, err)

	calls := 0
	err = store.RunInTransaction(ctx, "u1", func(context.Context, *biz.UserLedger) (*biz.LedgerDelta, error) {
		calls++
		writer.arm()
		return &biz.LedgerDelta{FreeCredits: -1}, nil
	})
	assert.ErrorIs(t, err, ledgerErrors.ErrTransactionConflict)
	assert.Equal(t, 5, calls)

	l, err := store.GetLedger(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.FreeCredits)
}
