package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyCart      = errors.New("pricing: cart is empty")
	ErrInvalidCoupon  = errors.New("pricing: coupon is invalid or inactive")
	ErrCouponNotFound = errors.New("pricing: coupon not found")
	ErrInvalidLine    = errors.New("pricing: invalid line item")
)

var hundred = decimal.NewFromInt(100)

// Coupon is the read-only view of a discount code.
type Coupon struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	IsActive        bool   `json:"is_active"`
}

// CouponProvider looks coupons up by code. Missing codes return ErrCouponNotFound.
type CouponProvider interface {
	GetCoupon(ctx context.Context, code string) (Coupon, error)
}

type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type Quote struct {
	Subtotal   int64  `json:"subtotal"`
	Discount   int64  `json:"discount"`
	Total      int64  `json:"total"`
	CouponCode string `json:"coupon_code,omitempty"`
}

// EffectivePrice is the sale price when one is set, the list price otherwise.
func EffectivePrice(mrp, salePrice int64) int64 {
	if salePrice > 0 {
		return salePrice
	}
	return mrp
}

// ApplyDiscount returns floor(subtotal * (100 - percent) / 100).
func ApplyDiscount(subtotal int64, percent int) int64 {
	factor := hundred.Sub(decimal.NewFromInt(int64(percent))).Div(hundred)
	return decimal.NewFromInt(subtotal).Mul(factor).Floor().IntPart()
}

type Engine struct {
	coupons CouponProvider
}

func NewEngine(coupons CouponProvider) *Engine {
	return &Engine{coupons: coupons}
}

func (e *Engine) ComputeTotal(ctx context.Context, lines []Line, couponCode string) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, ErrEmptyCart
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		if line.Quantity < 1 {
			return Quote{}, fmt.Errorf("%w: product %s quantity %d", ErrInvalidLine, line.ProductID, line.Quantity)
		}
		if line.UnitPrice < 0 {
			return Quote{}, fmt.Errorf("%w: product %s has negative price", ErrInvalidLine, line.ProductID)
		}
		subtotal = subtotal.Add(decimal.NewFromInt(line.UnitPrice).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	quote := Quote{
		Subtotal: subtotal.IntPart(),
		Total:    subtotal.IntPart(),
	}

	code := strings.TrimSpace(couponCode)
	if code == "" {
		return quote, nil
	}

	if e.coupons == nil {
		return Quote{}, fmt.Errorf("pricing: coupon %q: %w", code, ErrInvalidCoupon)
	}
	coupon, err := e.coupons.GetCoupon(ctx, code)
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			log.Info().Str("coupon_code", code).Msg("pricing: unknown coupon code")
			return Quote{}, fmt.Errorf("pricing: coupon %q: %w", code, ErrInvalidCoupon)
		}
		return Quote{}, fmt.Errorf("pricing: failed to look up coupon %q: %w", code, err)
	}
	if !coupon.IsActive || coupon.DiscountPercent < 0 || coupon.DiscountPercent > 100 {
		log.Info().Str("coupon_code", code).Bool("active", coupon.IsActive).Int("percent", coupon.DiscountPercent).Msg("pricing: coupon rejected")
		return Quote{}, fmt.Errorf("pricing: coupon %q: %w", code, ErrInvalidCoupon)
	}

	quote.Total = ApplyDiscount(quote.Subtotal, coupon.DiscountPercent)
	quote.Discount = quote.Subtotal - quote.Total
	quote.CouponCode = code
	return quote, nil
}
