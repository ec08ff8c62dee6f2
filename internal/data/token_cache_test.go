package data

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"credit-ledger/internal/conf"
	"credit-ledger/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenServer 模拟 PayPal /v1/oauth2/token，每次返回新 token
type tokenServer struct {
	*httptest.Server
	hits int32
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/oauth2/token", ts.handle(t))
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) handle(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		if !ok || id != "client-id" || secret != "client-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n := atomic.AddInt32(&ts.hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": fmt.Sprintf("token-%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}
}

func (ts *tokenServer) count() int {
	return int(atomic.LoadInt32(&ts.hits))
}

func paypalBootstrap(baseURL string) *conf.Bootstrap {
	return &conf.Bootstrap{Paypal: &conf.Paypal{
		BaseUrl:      baseURL,
		ClientId:     "client-id",
		ClientSecret: "client-secret",
	}}
}

func TestTokenCache_CachesUntilExpiry(t *testing.T) {
	ts := newTokenServer(t)
	cache := NewTokenCache(paypalBootstrap(ts.URL), &Data{}, testLogger)
	ctx := context.Background()

	assert.True(t, cache.Expiry().IsZero())

	first, err := cache.Get(ctx)
	require.NoError(t, err)
	second, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, "token-1", first.AccessToken)
	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, 1, ts.count())
	assert.WithinDuration(t, time.Now().Add(time.Hour), cache.Expiry(), time.Minute)
}

func TestTokenCache_ConcurrentRefreshFetchesOnce(t *testing.T) {
	ts := newTokenServer(t)
	cache := NewTokenCache(paypalBootstrap(ts.URL), &Data{}, testLogger)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.Token()
			if assert.NoError(t, err) {
				assert.Equal(t, "token-1", tok.AccessToken)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ts.count())
}

func TestTokenCache_SharedThroughRedis(t *testing.T) {
	ts := newTokenServer(t)
	d, mr := newRedisData(t)
	ctx := context.Background()

	a := NewTokenCache(paypalBootstrap(ts.URL), d, testLogger)
	tok, err := a.Get(ctx)
	require.NoError(t, err)

	key := constants.RedisKeyPaypalToken + "client-id"
	require.True(t, mr.Exists(key))
	ttl := mr.TTL(key)
	assert.True(t, ttl > 50*time.Minute && ttl < time.Hour, "ttl %v", ttl)

	// 另一个实例直接复用 redis 中的 token
	b := NewTokenCache(paypalBootstrap(ts.URL), d, testLogger)
	shared, err := b.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, shared.AccessToken)
	assert.Equal(t, 1, ts.count())
	assert.False(t, b.Expiry().IsZero())
}

func TestTokenCache_Invalidate(t *testing.T) {
	ts := newTokenServer(t)
	d, mr := newRedisData(t)
	cache := NewTokenCache(paypalBootstrap(ts.URL), d, testLogger)
	ctx := context.Background()

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	cache.Invalidate(ctx)
	assert.True(t, cache.Expiry().IsZero())
	assert.False(t, mr.Exists(constants.RedisKeyPaypalToken+"client-id"))

	tok, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok.AccessToken)
	assert.Equal(t, 2, ts.count())
}

func TestTokenCache_NotConfigured(t *testing.T) {
	cache := NewTokenCache(&conf.Bootstrap{}, &Data{}, testLogger)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
}

func TestTokenCache_EndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	cache := NewTokenCache(paypalBootstrap(srv.URL), &Data{}, testLogger)

	_, err := cache.Get(context.Background())
	assert.Error(t, err)
	assert.True(t, cache.Expiry().IsZero())
}
