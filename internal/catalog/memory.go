package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
)

// MemoryStore implements the cart, product and coupon lookups in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]Product
	coupons  map[string]pricing.Coupon
	carts    map[string]*Cart
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]Product),
		coupons:  make(map[string]pricing.Coupon),
		carts:    make(map[string]*Cart),
	}
}

func (s *MemoryStore) PutProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *MemoryStore) PutCoupon(c pricing.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = c
}

func (s *MemoryStore) GetCart(_ context.Context, userID string) (Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok || len(cart.Items) == 0 {
		return Cart{}, ErrCartNotFound
	}
	out := *cart
	out.Items = append([]CartItem(nil), cart.Items...)
	return out, nil
}

func (s *MemoryStore) AddItem(_ context.Context, userID, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}

	cart, ok := s.carts[userID]
	if !ok {
		cart = &Cart{UserID: userID}
		s.carts[userID] = cart
	}
	cart.UpdatedAt = time.Now().UTC()
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			return nil
		}
	}
	cart.Items = append(cart.Items, CartItem{ProductID: productID, Quantity: quantity})
	return nil
}

func (s *MemoryStore) RemoveItem(_ context.Context, userID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.carts[userID]
	if !ok {
		return ErrCartItemNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			cart.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrCartItemNotFound
}

func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []string) (map[string]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Product, len(ids))
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		out[id] = p
	}
	return out, nil
}

func (s *MemoryStore) GetCoupon(_ context.Context, code string) (pricing.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[code]
	if !ok {
		return pricing.Coupon{}, pricing.ErrCouponNotFound
	}
	return c, nil
}
