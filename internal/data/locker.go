package data

import (
	"context"
	"time"

	"credit-ledger/internal/biz"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// sweepLockExpiry 扫描锁的过期时间，需覆盖一次扫描的耗时
const sweepLockExpiry = 5 * time.Minute

// redisLocker 基于 redsync 的跨进程锁
type redisLocker struct {
	rs  *redsync.Redsync
	log *log.Helper
}

// NewLocker 未配置 redis 时返回 nil（单实例部署不需要互斥）
func NewLocker(data *Data, logger log.Logger) biz.Locker {
	if data.rs == nil {
		return nil
	}
	return &redisLocker{rs: data.rs, log: log.NewHelper(logger)}
}

// Lock 只尝试一次，已被持有时立即返回错误
func (l *redisLocker) Lock(ctx context.Context, key string) (func(), error) {
	mutex := l.rs.NewMutex(key, redsync.WithExpiry(sweepLockExpiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		return nil, err
	}
	return func() {
		if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
			l.log.Warnf("failed to unlock %s: %v", key, err)
		}
	}, nil
}
