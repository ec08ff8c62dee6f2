package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credit-ledger/internal/biz"
	"credit-ledger/internal/constants"
	ledgerErrors "credit-ledger/internal/errors"

	"github.com/go-kratos/kratos/v2/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// 单机 mongod 不支持事务时返回的错误码（IllegalOperation）
const mongoCodeIllegalOperation = 20

var _ LedgerStore = (*MongoLedgerStore)(nil)

// ledgerDocument users 集合文档，_id 为用户 ID
type ledgerDocument struct {
	UserID             string     `bson:"_id"`
	FreeCredits        int64      `bson:"free_credits"`
	PaidCredits        int64      `bson:"paid_credits"`
	LastReset          *time.Time `bson:"last_reset,omitempty"`
	TotalImagesCreated int64      `bson:"total_images_created"`
	LastActivity       *time.Time `bson:"last_activity,omitempty"`
}

// statsDocument stats 集合中的单例文档
type statsDocument struct {
	ID                   string           `bson:"_id"`
	StyleCounts          map[string]int64 `bson:"style_counts"`
	WatermarkCount       int64            `bson:"watermark_count"`
	TotalImagesProcessed int64            `bson:"total_images_processed"`
}

// paymentDocument payments 集合文档，_id 为支付 ID
type paymentDocument struct {
	PaymentID string     `bson:"_id"`
	UserID    string     `bson:"user_id"`
	Credits   int64      `bson:"credits"`
	Amount    string     `bson:"amount,omitempty"`
	Currency  string     `bson:"currency,omitempty"`
	PackID    string     `bson:"pack_id,omitempty"`
	Status    string     `bson:"status"`
	CreatedAt time.Time  `bson:"created_at"`
	AppliedAt *time.Time `bson:"applied_at,omitempty"`
}

// MongoLedgerStore MongoDB 驱动
type MongoLedgerStore struct {
	db       *mongo.Database
	users    *mongo.Collection
	stats    *mongo.Collection
	payments *mongo.Collection
	tx       *txRunner
	log      *log.Helper
}

// NewMongoLedgerStore 创建 MongoDB 存储
func NewMongoLedgerStore(db *mongo.Database, maxAttempts int, logger log.Logger) *MongoLedgerStore {
	return &MongoLedgerStore{
		db:       db,
		users:    db.Collection(constants.CollectionUsers),
		stats:    db.Collection(constants.CollectionStats),
		payments: db.Collection(constants.CollectionPayments),
		tx:       newTxRunner(constants.LedgerDriverMongo, maxAttempts, logger),
		log:      log.NewHelper(logger),
	}
}

// Migrate 创建索引：到期扫描按 last_reset，支付记录按 user_id
func (s *MongoLedgerStore) Migrate(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "last_reset", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create users index: %w", err)
	}
	if _, err := s.payments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create payments index: %w", err)
	}
	return nil
}

func (s *MongoLedgerStore) GetLedger(ctx context.Context, userID string) (*biz.UserLedger, error) {
	var doc ledgerDocument
	if err := s.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledgerErrors.ErrLedgerNotFound
		}
		return nil, storeError(err)
	}
	return doc.toBiz(), nil
}

func (s *MongoLedgerStore) CreateLedger(ctx context.Context, seed *biz.UserLedger) (*biz.UserLedger, error) {
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": seed.UserID},
		bson.M{"$setOnInsert": bson.M{
			"free_credits":         seed.FreeCredits,
			"paid_credits":         seed.PaidCredits,
			"last_reset":           seed.LastReset.UTC(),
			"total_images_created": int64(0),
		}},
		options.UpdateOne().SetUpsert(true),
	)
	// 并发 upsert 同一个 _id 时输的一方报重复键，记录已由另一方创建
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, storeError(err)
	}
	return s.GetLedger(ctx, seed.UserID)
}

func (s *MongoLedgerStore) ResetFreeCredits(ctx context.Context, userID string, quota int64, now, dueBefore time.Time) (bool, error) {
	res, err := s.users.UpdateOne(ctx,
		bson.M{
			"_id": userID,
			"$or": bson.A{
				bson.M{"last_reset": bson.M{"$lt": dueBefore.UTC()}},
				bson.M{"last_reset": nil},
			},
		},
		bson.M{"$set": bson.M{"free_credits": quota, "last_reset": now.UTC()}},
	)
	if err != nil {
		return false, storeError(err)
	}
	return res.MatchedCount > 0, nil
}

// RunInTransaction 读取后以读到的余额为条件写入，条件未命中即冲突重试
func (s *MongoLedgerStore) RunInTransaction(ctx context.Context, userID string, fn biz.TxFunc) error {
	return s.tx.run(ctx, func(ctx context.Context) error {
		ledger, err := s.GetLedger(ctx, userID)
		if err != nil {
			return err
		}
		delta, err := fn(ctx, ledger)
		if err != nil || delta == nil {
			return err
		}
		if ledger.FreeCredits+delta.FreeCredits < 0 || ledger.PaidCredits+delta.PaidCredits < 0 {
			return ledgerErrors.InvalidArgument("credits would become negative: user=%s", userID)
		}
		res, err := s.users.UpdateOne(ctx,
			bson.M{
				"_id":          userID,
				"free_credits": ledger.FreeCredits,
				"paid_credits": ledger.PaidCredits,
			},
			bson.M{"$inc": bson.M{
				"free_credits": delta.FreeCredits,
				"paid_credits": delta.PaidCredits,
			}},
		)
		if err != nil {
			return storeError(err)
		}
		if res.MatchedCount == 0 {
			return errTxConflict
		}
		return nil
	})
}

func (s *MongoLedgerStore) ListDueLedgers(ctx context.Context, dueBefore time.Time, limit int) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "last_reset", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.users.Find(ctx, bson.M{"$or": bson.A{
		bson.M{"last_reset": bson.M{"$lt": dueBefore.UTC()}},
		bson.M{"last_reset": nil},
	}}, opts)
	if err != nil {
		return nil, storeError(err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, storeError(err)
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// RecordUsage 全局统计与用户计数在同一事务中累加
// 部署在单机 mongod 上时退化为两次独立写入
func (s *MongoLedgerStore) RecordUsage(ctx context.Context, event *biz.UsageEvent) error {
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		return s.recordUsage(ctx, event)
	})
	if isTransactionUnsupported(err) {
		s.log.Debugf("mongo transactions unsupported, recording usage without one: %v", err)
		err = s.recordUsage(ctx, event)
	}
	return storeError(err)
}

func (s *MongoLedgerStore) recordUsage(ctx context.Context, event *biz.UsageEvent) error {
	inc := bson.M{
		"style_counts." + event.Style: int64(1),
		"total_images_processed":                int64(1),
	}
	if event.Watermarked {
		inc["watermark_count"] = int64(1)
	}
	if _, err := s.stats.UpdateOne(ctx,
		bson.M{"_id": constants.StatsDocumentID},
		bson.M{"$inc": inc},
		options.UpdateOne().SetUpsert(true),
	); err != nil {
		return err
	}

	// 用户计数不创建账本，没有账本的用户只计入全局统计
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": event.UserID},
		bson.M{
			"$inc": bson.M{"total_images_created": int64(1)},
			"$set": bson.M{"last_activity": event.OccurredAt.UTC()},
		},
	)
	return err
}

func (s *MongoLedgerStore) GetUsageStats(ctx context.Context) (*biz.GlobalUsageStats, error) {
	var doc statsDocument
	if err := s.stats.FindOne(ctx, bson.M{"_id": constants.StatsDocumentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return &biz.GlobalUsageStats{StyleCounts: map[string]int64{}}, nil
		}
		return nil, storeError(err)
	}
	if doc.StyleCounts == nil {
		doc.StyleCounts = map[string]int64{}
	}
	return &biz.GlobalUsageStats{
		StyleCounts:          doc.StyleCounts,
		WatermarkCount:       doc.WatermarkCount,
		TotalImagesProcessed: doc.TotalImagesProcessed,
	}, nil
}

func (s *MongoLedgerStore) CreatePayment(ctx context.Context, record *biz.PaymentRecord) error {
	if _, err := s.payments.InsertOne(ctx, toPaymentDocument(record)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ledgerErrors.ErrPaymentExists
		}
		return storeError(err)
	}
	return nil
}

func (s *MongoLedgerStore) GetPayment(ctx context.Context, paymentID string) (*biz.PaymentRecord, error) {
	var doc paymentDocument
	if err := s.payments.FindOne(ctx, bson.M{"_id": paymentID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ledgerErrors.ErrPaymentNotFound
		}
		return nil, storeError(err)
	}
	return doc.toBiz(), nil
}

// ApplyPayment 支付记录状态与 paid_credits 在同一事务中更新
// 同一支付并发入账时，写冲突由驱动重试回调，重试时读到 applied 后放弃
func (s *MongoLedgerStore) ApplyPayment(ctx context.Context, record *biz.PaymentRecord) (bool, error) {
	applied := false
	err := s.withTransaction(ctx, func(ctx context.Context) error {
		applied = false

		var existing paymentDocument
		err := s.payments.FindOne(ctx, bson.M{"_id": record.PaymentID}).Decode(&existing)
		found := err == nil
		switch {
		case err != nil && !errors.Is(err, mongo.ErrNoDocuments):
			return err
		case found && !samePayment(existing.toBiz(), record):
			return ledgerErrors.ErrPaymentExists
		case found && existing.Status == constants.PaymentStatusApplied:
			return nil
		}

		res, err := s.users.UpdateOne(ctx,
			bson.M{"_id": record.UserID},
			bson.M{"$inc": bson.M{"paid_credits": record.Credits}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ledgerErrors.ErrLedgerNotFound
		}

		appliedAt := record.AppliedAt.UTC()
		if _, err := s.payments.UpdateOne(ctx,
			bson.M{"_id": record.PaymentID},
			bson.M{
				"$set": bson.M{
					"status":     constants.PaymentStatusApplied,
					"applied_at": appliedAt,
				},
				"$setOnInsert": bson.M{
					"user_id":    record.UserID,
					"credits":    record.Credits,
					"created_at": record.CreatedAt.UTC(),
				},
			},
			options.UpdateOne().SetUpsert(true),
		); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, storeError(err)
	}
	return applied, nil
}

func (s *MongoLedgerStore) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

func isTransactionUnsupported(err error) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(mongoCodeIllegalOperation)
}

func (d *ledgerDocument) toBiz() *biz.UserLedger {
	l := &biz.UserLedger{
		UserID:             d.UserID,
		FreeCredits:        d.FreeCredits,
		PaidCredits:        d.PaidCredits,
		TotalImagesCreated: d.TotalImagesCreated,
	}
	if d.LastReset != nil {
		l.LastReset = biz.NormalizeUTC(*d.LastReset)
	}
	if d.LastActivity != nil {
		l.LastActivity = biz.NormalizeUTC(*d.LastActivity)
	}
	return l
}

func toPaymentDocument(r *biz.PaymentRecord) *paymentDocument {
	doc := &paymentDocument{
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
		doc.AppliedAt = &t
	}
	return doc
}

func (d *paymentDocument) toBiz() *biz.PaymentRecord {
	r := &biz.PaymentRecord{
		PaymentID: d.PaymentID,
		UserID:    d.UserID,
		Credits:   d.Credits,
		Amount:    d.Amount,
		Currency:  d.Currency,
		PackID:    d.PackID,
		Status:    d.Status,
		CreatedAt: biz.NormalizeUTC(d.CreatedAt),
	}
	if d.AppliedAt != nil {
		r.AppliedAt = biz.NormalizeUTC(*d.AppliedAt)
	}
	return r
}
