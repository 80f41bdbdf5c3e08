package catalog_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
)

type mapCache struct {
	mu      sync.Mutex
	items   map[string]pricing.Coupon
	getErr  error
	setErr  error
	lastTTL time.Duration
}

func newMapCache() *mapCache {
	return &mapCache{items: make(map[string]pricing.Coupon)}
}

func (c *mapCache) Get(_ context.Context, code string) (pricing.Coupon, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return pricing.Coupon{}, false, c.getErr
	}
	v, ok := c.items[code]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, coupon pricing.Coupon, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.items[coupon.Code] = coupon
	c.lastTTL = ttl
	return nil
}

type mockCouponProvider struct {
	mock.Mock
}

func (m *mockCouponProvider) GetCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	args := m.Called(ctx, code)
	return args.Get(0).(pricing.Coupon), args.Error(1)
}

func TestCachedCoupons_MissThenHit(t *testing.T) {
	cache := newMapCache()
	provider := new(mockCouponProvider)
	ten := pricing.Coupon{Code: "TEN", DiscountPercent: 10, IsActive: true}
	provider.On("GetCoupon", mock.Anything, "TEN").Return(ten, nil).Once()

	cached := catalog.NewCachedCoupons(cache, provider, time.Minute)

	got, err := cached.GetCoupon(context.Background(), "TEN")
	require.NoError(t, err)
	assert.Equal(t, ten, got)

	got, err = cached.GetCoupon(context.Background(), "TEN")
	require.NoError(t, err)
	assert.Equal(t, ten, got)

	assert.Equal(t, time.Minute, cache.lastTTL)
	provider.AssertExpectations(t)
}

func TestCachedCoupons_NotFoundIsNotCached(t *testing.T) {
	cache := newMapCache()
	provider := new(mockCouponProvider)
	provider.On("GetCoupon", mock.Anything, "NOPE").Return(pricing.Coupon{}, pricing.ErrCouponNotFound).Twice()

	cached := catalog.NewCachedCoupons(cache, provider, 0)

	for i := 0; i < 2; i++ {
		_, err := cached.GetCoupon(context.Background(), "NOPE")
		assert.ErrorIs(t, err, pricing.ErrCouponNotFound)
	}
	provider.AssertExpectations(t)
}

func TestCachedCoupons_CacheFailureFallsThrough(t *testing.T) {
	cache := newMapCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")
	provider := new(mockCouponProvider)
	ten := pricing.Coupon{Code: "TEN", DiscountPercent: 10, IsActive: true}
	provider.On("GetCoupon", mock.Anything, "TEN").Return(ten, nil).Once()

	got, err := catalog.NewCachedCoupons(cache, provider, time.Minute).GetCoupon(context.Background(), "TEN")

	require.NoError(t, err)
	assert.Equal(t, ten, got)
}

type slowProvider struct {
	calls   atomic.Int64
	release chan struct{}
}

func (p *slowProvider) GetCoupon(_ context.Context, code string) (pricing.Coupon, error) {
	p.calls.Add(1)
	<-p.release
	return pricing.Coupon{Code: code, DiscountPercent: 5, IsActive: true}, nil
}

func TestCachedCoupons_ConcurrentMissesShareOneLookup(t *testing.T) {
	provider := &slowProvider{release: make(chan struct{})}
	cached := catalog.NewCachedCoupons(newMapCache(), provider, time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			c, err := cached.GetCoupon(context.Background(), "FIVE")
			assert.NoError(t, err)
			assert.Equal(t, 5, c.DiscountPercent)
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()

	assert.LessOrEqual(t, provider.calls.Load(), int64(callers))
	assert.GreaterOrEqual(t, provider.calls.Load(), int64(1))
}

func TestRedisCouponCache(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	cache := catalog.NewRedisCouponCache(client)
	require.NoError(t, client.Del(ctx, "coupon:TEST10").Err())

	_, ok, err := cache.Get(ctx, "TEST10")
	require.NoError(t, err)
	assert.False(t, ok)

	want := pricing.Coupon{Code: "TEST10", DiscountPercent: 10, IsActive: true}
	require.NoError(t, cache.Set(ctx, want, time.Minute))

	got, ok, err := cache.Get(ctx, "TEST10")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

type blockingProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingProvider) GetCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	select {
	case p.started <- struct{}{}:
	default:
	}
	select {
	case <-p.release:
		return pricing.Coupon{Code: code, DiscountPercent: 5, IsActive: true}, nil
	case <-ctx.Done():
		return pricing.Coupon{}, ctx.Err()
	}
}

func TestCachedCoupons_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{}, 1), release: make(chan struct{})}
	cached := catalog.NewCachedCoupons(newMapCache(), provider, time.Minute)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.GetCoupon(firstCtx, "FIVE")
		firstErr <- err
	}()
	<-provider.started

	type result struct {
		coupon pricing.Coupon
		err    error
	}
	second := make(chan result, 1)
	go func() {
		c, err := cached.GetCoupon(context.Background(), "FIVE")
		second <- result{c, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(provider.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, 5, got.coupon.DiscountPercent)
	case <-time.After(time.Second):
		t.Fatal("second caller never got the coupon")
	}
}
