package data

import (
	"context"
	"errors"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/constants"
	"credit-ledger/internal/data/model"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQL 死锁与锁等待超时，按事务冲突重试
const (
	mysqlErrLockDeadlock    = 1213
	mysqlErrLockWaitTimeout = 1205
)

var _ LedgerStore = (*GormLedgerStore)(nil)

// GormLedgerStore 关系型驱动（MySQL，测试中为 SQLite）
type GormLedgerStore struct {
	db  *gorm.DB
	tx  *txRunner
	log *log.Helper
}

// NewGormLedgerStore 创建 gorm 存储
func NewGormLedgerStore(db *gorm.DB, maxAttempts int, logger log.Logger) *GormLedgerStore {
	return &GormLedgerStore{
		db:  db,
		tx:  newTxRunner(constants.LedgerDriverMySQL, maxAttempts, logger),
		log: log.NewHelper(logger),
	}
}

// Migrate 建表
func (s *GormLedgerStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.UserLedger{},
		&model.UsageStats{},
		&model.UsageStyleCount{},
		&model.PaymentRecord{},
	)
}

func (s *GormLedgerStore) GetLedger(ctx context.Context, userID string) (*biz.UserLedger, error) {
	var m model.UserLedger
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerErrors.ErrLedgerNotFound
		}
		return nil, s.classify(err)
	}
	return toLedger(&m), nil
}

func (s *GormLedgerStore) CreateLedger(ctx context.Context, seed *biz.UserLedger) (*biz.UserLedger, error) {
	lastReset := seed.LastReset.UTC()
	m := model.UserLedger{
		UserID:      seed.UserID,
		FreeCredits: seed.FreeCredits,
		PaidCredits: seed.PaidCredits,
		LastReset:   &lastReset,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
		return nil, s.classify(err)
	}
	return s.GetLedger(ctx, seed.UserID)
}

func (s *GormLedgerStore) ResetFreeCredits(ctx context.Context, userID string, quota int64, now, dueBefore time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.UserLedger{}).
		Where("user_id = ? AND (last_reset IS NULL OR last_reset < ?)", userID, dueBefore.UTC()).
		Updates(map[string]interface{}{
			"free_credits": quota,
			"last_reset":   now.UTC(),
		})
	if result.Error != nil {
		return false, s.classify(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// RunInTransaction SELECT ... FOR UPDATE 锁行后决定，写入时再以读到的余额为条件
// SQLite 不支持行锁，条件写入保证同样的语义
func (s *GormLedgerStore) RunInTransaction(ctx context.Context, userID string, fn biz.TxFunc) error {
	return s.tx.run(ctx, func(ctx context.Context) error {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var m model.UserLedger
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("user_id = ?", userID).First(&m).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ledgerErrors.ErrLedgerNotFound
				}
				return err
			}

			delta, err := fn(ctx, toLedger(&m))
			if err != nil || delta == nil {
				return err
			}
			if m.FreeCredits+delta.FreeCredits < 0 || m.PaidCredits+delta.PaidCredits < 0 {
				return ledgerErrors.InvalidArgument("credits would become negative: user=%s", userID)
			}

			result := tx.Model(&model.UserLedger{}).
				Where("user_id = ? AND free_credits = ? AND paid_credits = ?", userID, m.FreeCredits, m.PaidCredits).
				Updates(map[string]interface{}{
					"free_credits": gorm.Expr("free_credits + ?", delta.FreeCredits),
					"paid_credits": gorm.Expr("paid_credits + ?", delta.PaidCredits),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return errTxConflict
			}
			return nil
		})
		return s.classify(err)
	})
}

func (s *GormLedgerStore) ListDueLedgers(ctx context.Context, dueBefore time.Time, limit int) ([]string, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&model.UserLedger{}).
		Where("last_reset IS NULL OR last_reset < ?", dueBefore.UTC()).
		Order("last_reset")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("user_id", &ids).Error; err != nil {
		return nil, s.classify(err)
	}
	return ids, nil
}

// RecordUsage 全局统计、风格计数、用户计数在一个事务中累加
func (s *GormLedgerStore) RecordUsage(ctx context.Context, event *biz.UsageEvent) error {
	watermark := int64(0)
	if event.Watermarked {
		watermark = 1
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stats := model.UsageStats{
			ID:                   constants.StatsDocumentID,
			WatermarkCount:       watermark,
			TotalImagesProcessed: 1,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"watermark_count":        gorm.Expr("watermark_count + ?", watermark),
				"total_images_processed": gorm.Expr("total_images_processed + ?", 1),
			}),
		}).Create(&stats).Error; err != nil {
			return err
		}

		style := model.UsageStyleCount{Style: event.Style, Images: 1}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "style"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"images": gorm.Expr("images + ?", 1)}),
		}).Create(&style).Error; err != nil {
			return err
		}

		// 用户计数不创建账本
		return tx.Model(&model.UserLedger{}).
			Where("user_id = ?", event.UserID).
			Updates(map[string]interface{}{
				"total_images_created": gorm.Expr("total_images_created + ?", 1),
				"last_activity":        event.OccurredAt.UTC(),
			}).Error
	})
	return s.classify(err)
}

func (s *GormLedgerStore) GetUsageStats(ctx context.Context) (*biz.GlobalUsageStats, error) {
	out := &biz.GlobalUsageStats{StyleCounts: map[string]int64{}}

	var stats model.UsageStats
	err := s.db.WithContext(ctx).Where("id = ?", constants.StatsDocumentID).First(&stats).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, s.classify(err)
	}
	out.WatermarkCount = stats.WatermarkCount
	out.TotalImagesProcessed = stats.TotalImagesProcessed

	var styles []model.UsageStyleCount
	if err := s.db.WithContext(ctx).Find(&styles).Error; err != nil {
		return nil, s.classify(err)
	}
	for _, st := range styles {
		out.StyleCounts[st.Style] = st.Images
	}
	return out, nil
}

func (s *GormLedgerStore) CreatePayment(ctx context.Context, record *biz.PaymentRecord) error {
	m := toPaymentModel(record)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledgerErrors.ErrPaymentExists
		}
		return s.classify(err)
	}
	return nil
}

func (s *GormLedgerStore) GetPayment(ctx context.Context, paymentID string) (*biz.PaymentRecord, error) {
	var m model.PaymentRecord
	if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledgerErrors.ErrPaymentNotFound
		}
		return nil, s.classify(err)
	}
	return toPayment(&m), nil
}

// ApplyPayment 锁住支付记录后判断状态，增加 paid_credits 并标记 applied
// 并发插入同一支付 ID 时输的一方遇到唯一键冲突，重试后读到 applied
func (s *GormLedgerStore) ApplyPayment(ctx context.Context, record *biz.PaymentRecord) (bool, error) {
	applied := false
	err := s.tx.run(ctx, func(ctx context.Context) error {
		applied = false
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var existing model.PaymentRecord
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("payment_id = ?", record.PaymentID).First(&existing).Error
			found := err == nil
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if found && !samePayment(toPayment(&existing), record) {
				return ledgerErrors.ErrPaymentExists
			}
			if found && existing.Status == model.PaymentStatusApplied {
				return nil
			}

			result := tx.Model(&model.UserLedger{}).
				Where("user_id = ?", record.UserID).
				Update("paid_credits", gorm.Expr("paid_credits + ?", record.Credits))
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ledgerErrors.ErrLedgerNotFound
			}

			appliedAt := record.AppliedAt.UTC()
			if found {
				if err := tx.Model(&model.PaymentRecord{}).
					Where("payment_id = ? AND status <> ?", record.PaymentID, model.PaymentStatusApplied).
					Updates(map[string]interface{}{
						"status":     model.PaymentStatusApplied,
						"applied_at": appliedAt,
					}).Error; err != nil {
					return err
				}
			} else {
				m := toPaymentModel(record)
				m.Status = model.PaymentStatusApplied
				m.AppliedAt = &appliedAt
				if err := tx.Create(m).Error; err != nil {
					return err
				}
			}
			applied = true
			return nil
		})
		return s.classify(err)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// classify 死锁、锁等待超时、唯一键冲突作为可重试冲突，其余交给 storeError
func (s *GormLedgerStore) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errTxConflict
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlErrLockDeadlock || me.Number == mysqlErrLockWaitTimeout) {
		return errTxConflict
	}
	return storeError(err)
}

func toLedger(m *model.UserLedger) *biz.UserLedger {
	l := &biz.UserLedger{
		UserID:             m.UserID,
		FreeCredits:        m.FreeCredits,
		PaidCredits:        m.PaidCredits,
		TotalImagesCreated: m.TotalImagesCreated,
	}
	if m.LastReset != nil {
		l.LastReset = biz.NormalizeUTC(*m.LastReset)
	}
	if m.LastActivity != nil {
		l.LastActivity = biz.NormalizeUTC(*m.LastActivity)
	}
	return l
}

func toPaymentModel(r *biz.PaymentRecord) *model.PaymentRecord {
	m := &model.PaymentRecord{
		PaymentID: r.PaymentID,
		UserID:    r.UserID,
		Credits:   r.Credits,
		Amount:    r.Amount,
		Currency:  r.Currency,
		PackID:    r.PackID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if !r.AppliedAt.IsZero() {
		t := r.AppliedAt.UTC()
		m.AppliedAt = &t
	}
	return m
}

func toPayment(m *model.PaymentRecord) *biz.PaymentRecord {
	r := &biz.PaymentRecord{
		PaymentID: m.PaymentID,
		UserID:    m.UserID,
		Credits:   m.Credits,
		Amount:    m.Amount,
		Currency:  m.Currency,
		PackID:    m.PackID,
		Status:    m.Status,
		CreatedAt: biz.NormalizeUTC(m.CreatedAt),
	}
	if m.AppliedAt != nil {
		r.AppliedAt = biz.NormalizeUTC(*m.AppliedAt)
	}
	return r
}
