package catalog

import (
	"errors"
	"time"
)

var (
	ErrCartNotFound     = errors.New("catalog: cart not found")
	ErrProductNotFound  = errors.New("catalog: product not found")
	ErrInvalidQuantity  = errors.New("catalog: quantity must be at least 1")
	ErrCartItemNotFound = errors.New("catalog: product is not in the cart")
)

// Product carries the price fields the order core needs.
type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MRP       int64  `json:"mrp"`
	SalePrice int64  `json:"sale_price"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Cart lists items in the order they were first added.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}
