package data

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"
	"credit-ledger/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

const (
	// tokenExpirySkew 提前这么久视为过期，避免请求途中失效
	tokenExpirySkew = time.Minute
	// tokenLockExpiry 刷新锁过期时间
	tokenLockExpiry = 15 * time.Second
	// tokenFetchTimeout oauth2.TokenSource 没有 ctx 时的取 token 超时
	tokenFetchTimeout = 10 * time.Second
)

// TokenCache PayPal access token 缓存
// 进程内持有当前 token 与过期时间，多实例通过 redis 共享，刷新时用 redsync 保证只有一个实例请求 PayPal
type TokenCache struct {
	mu     sync.RWMutex
	token  *oauth2.Token
	expiry time.Time

	key     string
	lockKey string
	source  *clientcredentials.Config
	rdb     *redis.Client
	rs      *redsync.Redsync
	group   singleflight.Group
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

var _ oauth2.TokenSource = (*TokenCache)(nil)

// NewTokenCache 创建 token 缓存，redis 未配置时只做进程内缓存
func NewTokenCache(c *conf.Bootstrap, data *Data, logger log.Logger) *TokenCache {
	tc := &TokenCache{
		rdb:     data.rdb,
		rs:      data.rs,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
	if c.Paypal != nil {
		tc.source = &clientcredentials.Config{
			ClientID:     c.Paypal.ClientId,
			ClientSecret: c.Paypal.ClientSecret,
			TokenURL:     strings.TrimRight(c.Paypal.BaseUrl, "/") + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		tc.key = constants.RedisKeyPaypalToken + c.Paypal.ClientId
		tc.lockKey = constants.RedisKeyPaypalTokenLock + c.Paypal.ClientId
	}
	return tc
}

// Expiry 当前缓存 token 的过期时间，未缓存时为零值
func (c *TokenCache) Expiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiry
}

// Token 实现 oauth2.TokenSource，供 oauth2.Transport 每次请求调用
func (c *TokenCache) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenFetchTimeout)
	defer cancel()
	return c.Get(ctx)
}

// Get 返回有效 token，过期或缺失时按需刷新
func (c *TokenCache) Get(ctx context.Context) (*oauth2.Token, error) {
	if t := c.local(); t != nil {
		return t, nil
	}
	if c.source == nil || c.source.ClientID == "" {
		return nil, errors.New("paypal client credentials are not configured")
	}
	v, err, _ := c.group.Do(c.key, func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}

// Invalidate 丢弃缓存的 token（PayPal 返回 401 时调用）
func (c *TokenCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.token = nil
	c.expiry = time.Time{}
	c.mu.Unlock()

	if c.rdb != nil {
		if err := c.rdb.Del(ctx, c.key).Err(); err != nil {
			c.log.Warnf("failed to drop cached paypal token: %v", err)
		}
	}
}

func (c *TokenCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	if t := c.shared(ctx); t != nil {
		c.store(t)
		return t, nil
	}

	if c.rs != nil {
		mutex := c.rs.NewMutex(c.lockKey, redsync.WithExpiry(tokenLockExpiry))
		if err := mutex.LockContext(ctx); err != nil {
			return nil, err
		}
		defer func() {
			if ok, err := mutex.UnlockContext(context.Background()); !ok || err != nil {
				c.log.Warnf("failed to unlock paypal token refresh: %v", err)
			}
		}()
		// 等锁期间其他实例可能已刷新
		if t := c.shared(ctx); t != nil {
			c.store(t)
			return t, nil
		}
	}

	t, err := c.source.Token(ctx)
	if err != nil {
		c.observe(constants.ResultError)
		c.log.Errorf("fetch paypal access token failed: %v", err)
		return nil, err
	}
	c.observe(constants.ResultOK)
	c.log.Infof("paypal access token refreshed, expires at %s", t.Expiry.Format(time.RFC3339))

	c.store(t)
	c.publish(ctx, t)
	return t, nil
}

func (c *TokenCache) local() *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if usable(c.token) {
		return c.token
	}
	return nil
}

func (c *TokenCache) store(t *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t
	c.expiry = t.Expiry
}

// shared 读取 redis 中其他实例刷新的 token
func (c *TokenCache) shared(ctx context.Context) *oauth2.Token {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnf("read cached paypal token failed: %v", err)
		}
		return nil
	}
	var t oauth2.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		c.log.Warnf("cached paypal token is malformed: %v", err)
		return nil
	}
	if !usable(&t) {
		return nil
	}
	return &t
}

// publish 以剩余有效期（减去提前量）为 TTL 写入 redis
func (c *TokenCache) publish(ctx context.Context, t *oauth2.Token) {
	if c.rdb == nil {
		return
	}
	ttl := time.Until(t.Expiry) - tokenExpirySkew
	if t.Expiry.IsZero() || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		c.log.Warnf("cache paypal token failed: %v", err)
	}
}

func (c *TokenCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.TokenRefreshes.WithLabelValues(result).Inc()
	}
}

// usable 没有过期时间的 token 视为长期有效
func usable(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || time.Until(t.Expiry) > tokenExpirySkew
}
