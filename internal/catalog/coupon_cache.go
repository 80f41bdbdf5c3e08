package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCouponTTL = 5 * time.Minute
	// couponLookupTimeout bounds a shared lookup, which no single caller owns.
	couponLookupTimeout = 5 * time.Second
)

// CouponCache stores coupons by code. A miss is (zero, false, nil).
type CouponCache interface {
	Get(ctx context.Context, code string) (pricing.Coupon, bool, error)
	Set(ctx context.Context, coupon pricing.Coupon, ttl time.Duration) error
}

type RedisCouponCache struct {
	client *redis.Client
}

func NewRedisCouponCache(client *redis.Client) *RedisCouponCache {
	return &RedisCouponCache{client: client}
}

func couponKey(code string) string {
	return "coupon:" + code
}

func (c *RedisCouponCache) Get(ctx context.Context, code string) (pricing.Coupon, bool, error) {
	value, err := c.client.Get(ctx, couponKey(code)).Result()
	if errors.Is(err, redis.Nil) {
		return pricing.Coupon{}, false, nil
	}
	if err != nil {
		return pricing.Coupon{}, false, err
	}

	var coupon pricing.Coupon
	if err := json.Unmarshal([]byte(value), &coupon); err != nil {
		return pricing.Coupon{}, false, err
	}
	return coupon, true, nil
}

func (c *RedisCouponCache) Set(ctx context.Context, coupon pricing.Coupon, ttl time.Duration) error {
	payload, err := json.Marshal(coupon)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, couponKey(coupon.Code), payload, ttl).Err()
}

// CachedCoupons is a cache-aside pricing.CouponProvider. Concurrent misses for
// the same code share one provider lookup. Cache failures fall through to the
// provider.
type CachedCoupons struct {
	cache    CouponCache
	provider pricing.CouponProvider
	ttl      time.Duration
	group    singleflight.Group
}

func NewCachedCoupons(cache CouponCache, provider pricing.CouponProvider, ttl time.Duration) *CachedCoupons {
	if ttl <= 0 {
		ttl = defaultCouponTTL
	}
	return &CachedCoupons{cache: cache, provider: provider, ttl: ttl}
}

func (c *CachedCoupons) GetCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	coupon, ok, err := c.cache.Get(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("coupon_code", code).Msg("catalog: coupon cache read failed")
	}
	if ok {
		return coupon, nil
	}

	ch := c.group.DoChan(code, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), couponLookupTimeout)
		defer cancel()

		fetched, err := c.provider.GetCoupon(lookupCtx, code)
		if err != nil {
			return pricing.Coupon{}, err
		}
		if err := c.cache.Set(lookupCtx, fetched, c.ttl); err != nil {
			log.Warn().Err(err).Str("coupon_code", code).Msg("catalog: coupon cache write failed")
		}
		return fetched, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return pricing.Coupon{}, ctx.Err()
	}
	v, err := res.Val, res.Err
	if err != nil {
		if errors.Is(err, pricing.ErrCouponNotFound) {
			return pricing.Coupon{}, err
		}
		return pricing.Coupon{}, fmt.Errorf("catalog: failed to load coupon %s: %w", code, err)
	}
	return v.(pricing.Coupon), nil
}
