package data

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testLogger = log.NewStdLogger(io.Discard)
	suiteNow   = time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC)
)

// runStoreSuite 三个驱动共用的行为测试
func runStoreSuite(t *testing.T, newStore func(t *testing.T) LedgerStore) {
	t.Run("CreateLedgerKeepsExisting", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetLedger(ctx, "u1")
		require.ErrorIs(t, err, ledgerErrors.ErrLedgerNotFound)

		created, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 5, LastReset: suiteNow})
		require.NoError(t, err)
		assert.Equal(t, int64(5), created.FreeCredits)
		assert.True(t, created.LastReset.Equal(suiteNow))

		again, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 99, LastReset: suiteNow.Add(time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, int64(5), again.FreeCredits)
		assert.True(t, again.LastReset.Equal(suiteNow))
	})

	t.Run("ResetFreeCreditsIsConditional", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		old := suiteNow.Add(-8 * 24 * time.Hour)
		_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 1, PaidCredits: 7, LastReset: old})
		require.NoError(t, err)

		dueBefore := suiteNow.Add(-7 * 24 * time.Hour)
		applied, err := s.ResetFreeCredits(ctx, "u1", 5, suiteNow, dueBefore)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.ResetFreeCredits(ctx, "u1", 5, suiteNow, dueBefore)
		require.NoError(t, err)
		assert.False(t, applied)

		l, err := s.GetLedger(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), l.FreeCredits)
		assert.Equal(t, int64(7), l.PaidCredits)
		assert.True(t, l.LastReset.Equal(suiteNow))
	})

	t.Run("ListDueLedgers", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for id, age := range map[string]time.Duration{
			"old-1": 9 * 24 * time.Hour,
			"old-2": 8 * 24 * time.Hour,
			"fresh": time.Hour,
		} {
			_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: id, LastReset: suiteNow.Add(-age)})
			require.NoError(t, err)
		}

		ids, err := s.ListDueLedgers(ctx, suiteNow.Add(-7*24*time.Hour), 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"old-1", "old-2"}, ids)

		ids, err = s.ListDueLedgers(ctx, suiteNow.Add(-7*24*time.Hour), 1)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})

	t.Run("RunInTransactionAppliesDelta", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 1, PaidCredits: 2, LastReset: suiteNow})
		require.NoError(t, err)

		err = s.RunInTransaction(ctx, "u1", func(_ context.Context, l *biz.UserLedger) (*biz.LedgerDelta, error) {
			assert.Equal(t, int64(1), l.FreeCredits)
			return &biz.LedgerDelta{FreeCredits: -1}, nil
		})
		require.NoError(t, err)

		// 返回 nil delta 不写入
		err = s.RunInTransaction(ctx, "u1", func(context.Context, *biz.UserLedger) (*biz.LedgerDelta, error) {
			return nil, nil
		})
		require.NoError(t, err)

		err = s.RunInTransaction(ctx, "u1", func(context.Context, *biz.UserLedger) (*biz.LedgerDelta, error) {
			return &biz.LedgerDelta{PaidCredits: -3}, nil
		})
		assert.ErrorIs(t, err, ledgerErrors.ErrInvalidArgument)

		l, err := s.GetLedger(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), l.FreeCredits)
		assert.Equal(t, int64(2), l.PaidCredits)

		err = s.RunInTransaction(ctx, "ghost", func(context.Context, *biz.UserLedger) (*biz.LedgerDelta, error) {
			return &biz.LedgerDelta{FreeCredits: -1}, nil
		})
		assert.ErrorIs(t, err, ledgerErrors.ErrLedgerNotFound)
	})

	t.Run("ConcurrentSpendsNeverOverspend", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 2, PaidCredits: 3, LastReset: suiteNow})
		require.NoError(t, err)

		conf := &biz.LedgerConfig{WeeklyQuota: 5, ResetInterval: 7 * 24 * time.Hour, DegradeMode: constants.DegradeModeDeny}
		authorizer := biz.NewSpendAuthorizer(s, conf, testLogger)

		var spent int64
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				// 冲突重试耗尽时按调用方约定再试一次
				result, err := authorizer.TrySpend(ctx, "u1")
				if errors.Is(err, ledgerErrors.ErrTransactionConflict) {
					result, err = authorizer.TrySpend(ctx, "u1")
				}
				if assert.NoError(t, err) && result.Spent {
					atomic.AddInt64(&spent, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(5), spent)
		l, err := s.GetLedger(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), l.TotalCredits())
	})

	t.Run("RecordUsageAccumulates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", LastReset: suiteNow})
		require.NoError(t, err)

		events := []*biz.UsageEvent{
			{EventID: "e1", UserID: "u1", Style: "nes", Watermarked: false, OccurredAt: suiteNow},
			{EventID: "e2", UserID: "u1", Style: "nes", Watermarked: true, OccurredAt: suiteNow.Add(time.Minute)},
			{EventID: "e3", UserID: "nobody", Style: "gameboy", Watermarked: true, OccurredAt: suiteNow},
		}
		for _, e := range events {
			require.NoError(t, s.RecordUsage(ctx, e))
		}

		stats, err := s.GetUsageStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.StyleCounts["nes"])
		assert.Equal(t, int64(1), stats.StyleCounts["gameboy"])
		assert.Equal(t, int64(2), stats.WatermarkCount)
		assert.Equal(t, int64(3), stats.TotalImagesProcessed)

		l, err := s.GetLedger(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), l.TotalImagesCreated)
		assert.True(t, l.LastActivity.Equal(suiteNow.Add(time.Minute)))

		// 用量不创建账本
		_, err = s.GetLedger(ctx, "nobody")
		assert.ErrorIs(t, err, ledgerErrors.ErrLedgerNotFound)
	})

	t.Run("EmptyUsageStats", func(t *testing.T) {
		s := newStore(t)

		stats, err := s.GetUsageStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(0), stats.TotalImagesProcessed)
		assert.Empty(t, stats.StyleCounts)
	})

	t.Run("PaymentsApplyOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", FreeCredits: 5, LastReset: suiteNow})
		require.NoError(t, err)

		pending := &biz.PaymentRecord{
			PaymentID: "ORDER-1",
			UserID:    "u1",
			Credits:   10,
			Amount:    "2.99",
			Currency:  "USD",
			PackID:    "starter",
			Status:    constants.PaymentStatusPending,
			CreatedAt: suiteNow,
		}
		require.NoError(t, s.CreatePayment(ctx, pending))
		assert.ErrorIs(t, s.CreatePayment(ctx, pending), ledgerErrors.ErrPaymentExists)

		_, err = s.GetPayment(ctx, "ORDER-404")
		assert.ErrorIs(t, err, ledgerErrors.ErrPaymentNotFound)

		apply := *pending
		apply.Status = constants.PaymentStatusApplied
		apply.AppliedAt = suiteNow.Add(time.Minute)

		applied, err := s.ApplyPayment(ctx, &apply)
		require.NoError(t, err)
		assert.True(t, applied)
		applied, err = s.ApplyPayment(ctx, &apply)
		require.NoError(t, err)
		assert.False(t, applied)

		record, err := s.GetPayment(ctx, "ORDER-1")
		require.NoError(t, err)
		assert.Equal(t, constants.PaymentStatusApplied, record.Status)
		assert.Equal(t, "starter", record.PackID)
		assert.True(t, record.CreatedAt.Equal(suiteNow))

		l, err := s.GetLedger(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), l.PaidCredits)
		assert.Equal(t, int64(5), l.FreeCredits)
	})

	t.Run("PaymentIDReusedWithDifferentTerms", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, id := range []string{"alice", "bob"} {
			_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: id, LastReset: suiteNow})
			require.NoError(t, err)
		}
		require.NoError(t, s.CreatePayment(ctx, &biz.PaymentRecord{
			PaymentID: "ORDER-1",
			UserID:    "alice",
			Credits:   50,
			PackID:    "pro",
			Status:    constants.PaymentStatusPending,
			CreatedAt: suiteNow,
		}))

		// 别的用户或不同额度不能占用已有的支付 ID
		for _, claim := range []*biz.PaymentRecord{
			{PaymentID: "ORDER-1", UserID: "bob", Credits: 50},
			{PaymentID: "ORDER-1", UserID: "alice", Credits: 1},
		} {
			claim.Status = constants.PaymentStatusApplied
			claim.CreatedAt = suiteNow
			claim.AppliedAt = suiteNow
			_, err := s.ApplyPayment(ctx, claim)
			assert.ErrorIs(t, err, ledgerErrors.ErrPaymentExists)
		}

		record, err := s.GetPayment(ctx, "ORDER-1")
		require.NoError(t, err)
		assert.Equal(t, constants.PaymentStatusPending, record.Status)
		assert.Equal(t, "alice", record.UserID)
		assert.Equal(t, int64(50), record.Credits)

		applied, err := s.ApplyPayment(ctx, &biz.PaymentRecord{
			PaymentID: "ORDER-1",
			UserID:    "alice",
			Credits:   50,
			Status:    constants.PaymentStatusApplied,
			CreatedAt: suiteNow,
			AppliedAt: suiteNow,
		})
		require.NoError(t, err)
		assert.True(t, applied)

		_, err = s.ApplyPayment(ctx, &biz.PaymentRecord{
			PaymentID: "ORDER-1",
			UserID:    "bob",
			Credits:   50,
			Status:    constants.PaymentStatusApplied,
			CreatedAt: suiteNow,
		})
		assert.ErrorIs(t, err, ledgerErrors.ErrPaymentExists)

		alice, err := s.GetLedger(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(50), alice.PaidCredits)
		bob, err := s.GetLedger(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bob.PaidCredits)
	})

	t.Run("DirectPaymentWithoutPendingRecord", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateLedger(ctx, &biz.UserLedger{UserID: "u1", LastReset: suiteNow})
		require.NoError(t, err)

		record := &biz.PaymentRecord{
			PaymentID: "pay-1",
			UserID:    "u1",
			Credits:   5,
			Status:    constants.PaymentStatusApplied,
			CreatedAt: suiteNow,
			AppliedAt: suiteNow,
		}
		applied, err := s.ApplyPayment(ctx, record)
		require.NoError(t, err)
		assert.True(t, applied)

		applied, err = s.ApplyPayment(ctx, record)
		require.NoError(t, err)
		assert.False(t, applied)

		l, err := s.GetLedger(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), l.PaidCredits)
	})

	t.Run("PaymentRequiresLedger", func(t *testing.T) {
		s := newStore(t)

		_, err := s.ApplyPayment(context.Background(), &biz.PaymentRecord{
			PaymentID: "pay-1",
			UserID:    "ghost",
			Credits:   5,
			Status:    constants.PaymentStatusApplied,
			CreatedAt: suiteNow,
		})
		assert.ErrorIs(t, err, ledgerErrors.ErrLedgerNotFound)
	})
}
