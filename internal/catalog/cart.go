package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (Cart, error)
}

type cartService struct {
	carts CartRepository
}

func NewCartService(carts CartRepository) CartService {
	return &cartService{carts: carts}
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartNotFound) {
			return Cart{UserID: userID, Items: []CartItem{}}, nil
		}
		return Cart{}, fmt.Errorf("service: failed to load cart: %w", err)
	}
	return cart, nil
}

// AddItem defaults quantity 0 to 1.
func (s *cartService) AddItem(ctx context.Context, userID, productID string, quantity int) (Cart, error) {
	productID = strings.TrimSpace(productID)
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 0 {
		return Cart{}, ErrInvalidQuantity
	}
	if productID == "" {
		return Cart{}, ErrProductNotFound
	}

	if err := s.carts.AddItem(ctx, userID, productID, quantity); err != nil {
		if errors.Is(err, ErrProductNotFound) {
			log.Warn().Str("user_id", userID).Str("product_id", productID).Msg("service: attempt to add unknown product to cart")
			return Cart{}, err
		}
		return Cart{}, fmt.Errorf("service: failed to add item to cart: %w", err)
	}

	log.Info().Str("user_id", userID).Str("product_id", productID).Int("quantity", quantity).Msg("service: item added to cart")
	return s.GetCart(ctx, userID)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, productID string) (Cart, error) {
	if err := s.carts.RemoveItem(ctx, userID, productID); err != nil {
		if errors.Is(err, ErrCartItemNotFound) {
			return Cart{}, err
		}
		return Cart{}, fmt.Errorf("service: failed to remove item from cart: %w", err)
	}
	return s.GetCart(ctx, userID)
}
