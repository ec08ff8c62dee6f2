package data

import (
	"context"
	"fmt"
	"time"

	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/google/wire"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewLedgerStore,
	NewLedgerRepo,
	NewUsageRepo,
	NewPaymentRepo,
	NewUsagePublisher,
	NewLocker,
	NewTokenCache,
	NewPaypalClient,
)

// Data 数据层结构体
// 按 data.ledger.driver 只打开需要的存储；redis 与 rocketmq 可选
type Data struct {
	driver string
	mongo  *mongo.Client
	mdb    *mongo.Database
	db     *gorm.DB
	rdb    *redis.Client
	rs     *redsync.Redsync
	mq     rocketmq.Producer
	conf   *conf.Data
}

// NewDB 创建数据库连接
func NewDB(c *conf.Bootstrap) (*gorm.DB, error) {
	if c.Data == nil || c.Data.Database == nil {
		return nil, fmt.Errorf("database config is nil")
	}
	// TranslateError 让唯一键冲突变成 gorm.ErrDuplicatedKey
	db, err := gorm.Open(mysql.Open(c.Data.Database.Source), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewMongo 创建 MongoDB 连接
func NewMongo(c *conf.Bootstrap) (*mongo.Client, error) {
	if c.Data == nil || c.Data.Mongo == nil || c.Data.Mongo.Uri == "" {
		return nil, fmt.Errorf("mongo config is nil")
	}
	opts := options.Client().ApplyURI(c.Data.Mongo.Uri)
	timeout := c.Data.Mongo.Timeout.AsDuration()
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, err
	}

	pingTimeout := timeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}

// NewRedis 创建 Redis 连接
func NewRedis(c *conf.Bootstrap) (*redis.Client, error) {
	if c.Data == nil || c.Data.Redis == nil {
		return nil, fmt.Errorf("redis config is nil")
	}

	var readTimeout, writeTimeout time.Duration
	if c.Data.Redis.ReadTimeout != nil {
		readTimeout = c.Data.Redis.ReadTimeout.AsDuration()
	}
	if c.Data.Redis.WriteTimeout != nil {
		writeTimeout = c.Data.Redis.WriteTimeout.AsDuration()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Data.Redis.Addr,
		Password:     c.Data.Redis.Password,
		DB:           int(c.Data.Redis.Db),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// 测试连接
	if err := rdb.Ping(rdb.Context()).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

// NewProducer 创建 RocketMQ 生产者
func NewProducer(c *conf.Data) (rocketmq.Producer, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNsResolver(primitive.NewPassthroughResolver(c.Rocketmq.NameServers)),
		producer.WithGroupName(c.Rocketmq.GroupName),
		producer.WithRetry(int(c.Rocketmq.RetryTimes)),
	)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewData 创建数据层实例
func NewData(c *conf.Bootstrap, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(logger)
	d := &Data{
		driver: ledgerDriver(c.Data),
		conf:   c.Data,
	}

	var err error
	switch d.driver {
	case constants.LedgerDriverMongo:
		if d.mongo, err = NewMongo(c); err != nil {
			return nil, nil, err
		}
		d.mdb = d.mongo.Database(c.Data.Mongo.Database)
	case constants.LedgerDriverMySQL:
		if d.db, err = NewDB(c); err != nil {
			return nil, nil, err
		}
	case constants.LedgerDriverMemory:
		helper.Warn("ledger driver is memory, balances are lost on restart")
	default:
		return nil, nil, fmt.Errorf("unknown ledger driver %q", d.driver)
	}

	if c.Data != nil && c.Data.Redis != nil && c.Data.Redis.Addr != "" {
		if d.rdb, err = NewRedis(c); err != nil {
			d.close(helper)
			return nil, nil, err
		}
		d.rs = redsync.New(goredis.NewPool(d.rdb))
	}

	if c.Data != nil && c.Data.Rocketmq != nil && c.Data.Rocketmq.Enabled {
		if d.mq, err = NewProducer(c.Data); err != nil {
			// 生产者不可用时用量直接写库
			helper.Errorf("init rocketmq producer failed, usage events will be written directly: %v", err)
			d.mq = nil
		}
	}

	cleanup := func() {
		helper.Info("closing the data resources")
		d.close(helper)
	}
	return d, cleanup, nil
}

func (d *Data) close(helper *log.Helper) {
	if d.mq != nil {
		if err := d.mq.Shutdown(); err != nil {
			helper.Errorf("failed to shutdown rocketmq producer: %v", err)
		}
	}
	if d.rdb != nil {
		if err := d.rdb.Close(); err != nil {
			helper.Errorf("failed to close redis: %v", err)
		}
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if d.mongo != nil {
		if err := d.mongo.Disconnect(context.Background()); err != nil {
			helper.Errorf("failed to disconnect mongo: %v", err)
		}
	}
}

func ledgerDriver(c *conf.Data) string {
	if c == nil || c.Ledger == nil || c.Ledger.Driver == "" {
		return constants.LedgerDriverMongo
	}
	return c.Ledger.Driver
}

func txMaxAttempts(c *conf.Data) int {
	if c == nil || c.Ledger == nil || c.Ledger.TxMaxAttempts <= 0 {
		return constants.DefaultTxMaxAttempts
	}
	return int(c.Ledger.TxMaxAttempts)
}
