package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"
)

var _ LedgerStore = (*MemoryLedgerStore)(nil)

// MemoryLedgerStore 进程内存储，事务由互斥锁保证
type MemoryLedgerStore struct {
	mu sync.Mutex

	ledgers  map[string]*biz.UserLedger
	stats    biz.GlobalUsageStats
	payments map[string]*biz.PaymentRecord
}

// NewMemoryLedgerStore 创建进程内存储
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		ledgers:  make(map[string]*biz.UserLedger),
		stats:    biz.GlobalUsageStats{StyleCounts: make(map[string]int64)},
		payments: make(map[string]*biz.PaymentRecord),
	}
}

// Put 直接写入一份账本（用于初始化与测试）
func (s *MemoryLedgerStore) Put(ledger *biz.UserLedger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := *ledger
	s.ledgers[l.UserID] = &l
}

func (s *MemoryLedgerStore) GetLedger(_ context.Context, userID string) (*biz.UserLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return nil, ledgerErrors.ErrLedgerNotFound
	}
	out := *l
	return &out, nil
}

func (s *MemoryLedgerStore) CreateLedger(_ context.Context, seed *biz.UserLedger) (*biz.UserLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[seed.UserID]
	if !ok {
		created := *seed
		l = &created
		s.ledgers[seed.UserID] = l
	}
	out := *l
	return &out, nil
}

func (s *MemoryLedgerStore) ResetFreeCredits(_ context.Context, userID string, quota int64, now, dueBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return false, ledgerErrors.ErrLedgerNotFound
	}
	if !l.LastReset.IsZero() && !biz.NormalizeUTC(l.LastReset).Before(dueBefore) {
		return false, nil
	}
	l.FreeCredits = quota
	l.LastReset = now
	return true, nil
}

func (s *MemoryLedgerStore) RunInTransaction(ctx context.Context, userID string, fn biz.TxFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[userID]
	if !ok {
		return ledgerErrors.ErrLedgerNotFound
	}
	snapshot := *l
	delta, err := fn(ctx, &snapshot)
	if err != nil || delta == nil {
		return err
	}
	free, paid := l.FreeCredits+delta.FreeCredits, l.PaidCredits+delta.PaidCredits
	if free < 0 || paid < 0 {
		return ledgerErrors.InvalidArgument("credits would become negative: user=%s", userID)
	}
	l.FreeCredits, l.PaidCredits = free, paid
	return nil
}

func (s *MemoryLedgerStore) ListDueLedgers(_ context.Context, dueBefore time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, l := range s.ledgers {
		if l.LastReset.IsZero() || biz.NormalizeUTC(l.LastReset).Before(dueBefore) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemoryLedgerStore) RecordUsage(_ context.Context, event *biz.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.StyleCounts[event.Style]++
	s.stats.TotalImagesProcessed++
	if event.Watermarked {
		s.stats.WatermarkCount++
	}
	if l, ok := s.ledgers[event.UserID]; ok {
		l.TotalImagesCreated++
		l.LastActivity = event.OccurredAt
	}
	return nil
}

func (s *MemoryLedgerStore) GetUsageStats(_ context.Context) (*biz.GlobalUsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := biz.GlobalUsageStats{
		StyleCounts:          make(map[string]int64, len(s.stats.StyleCounts)),
		WatermarkCount:       s.stats.WatermarkCount,
		TotalImagesProcessed: s.stats.TotalImagesProcessed,
	}
	for k, v := range s.stats.StyleCounts {
		out.StyleCounts[k] = v
	}
	return &out, nil
}

func (s *MemoryLedgerStore) CreatePayment(_ context.Context, record *biz.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payments[record.PaymentID]; exists {
		return ledgerErrors.ErrPaymentExists
	}
	r := *record
	s.payments[r.PaymentID] = &r
	return nil
}

func (s *MemoryLedgerStore) GetPayment(_ context.Context, paymentID string) (*biz.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.payments[paymentID]
	if !ok {
		return nil, ledgerErrors.ErrPaymentNotFound
	}
	out := *r
	return &out, nil
}

func (s *MemoryLedgerStore) ApplyPayment(_ context.Context, record *biz.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.payments[record.PaymentID]
	if found && !samePayment(existing, record) {
		return false, ledgerErrors.ErrPaymentExists
	}
	if found && existing.Status == constants.PaymentStatusApplied {
		return false, nil
	}
	l, ok := s.ledgers[record.UserID]
	if !ok {
		return false, ledgerErrors.ErrLedgerNotFound
	}
	l.PaidCredits += record.Credits

	if found {
		existing.Status = constants.PaymentStatusApplied
		existing.AppliedAt = record.AppliedAt
		return true, nil
	}
	r := *record
	r.Status = constants.PaymentStatusApplied
	s.payments[r.PaymentID] = &r
	return true, nil
}
