package order

import (
	"time"
)

type OrderStatus string

const (
	StatusPlaced    OrderStatus = "PLACED"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

func (os OrderStatus) String() string {
	return string(os)
}

func (os OrderStatus) Valid() bool {
	_, ok := allowedTransitions[os]
	return ok
}

// Terminal reports whether no further change is allowed.
func (os OrderStatus) Terminal() bool {
	return len(allowedTransitions[os]) == 0
}

type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "COD"
	PaymentGateway        PaymentMethod = "GATEWAY"
	PaymentDigitalWallet  PaymentMethod = "WALLET"
)

func (pm PaymentMethod) Valid() bool {
	switch pm {
	case PaymentCashOnDelivery, PaymentGateway, PaymentDigitalWallet:
		return true
	}
	return false
}

// Prepaid reports whether the client must bring a transaction id.
func (pm PaymentMethod) Prepaid() bool {
	return pm == PaymentGateway || pm == PaymentDigitalWallet
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
)

type LineItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type ShippingAddress struct {
	Street   string `json:"street"`
	City     string `json:"city"`
	District string `json:"district"`
	State    string `json:"state"`
	Country  string `json:"country"`
	Phone    string `json:"phone"`
}

type TrackingEntry struct {
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
}

type Order struct {
	ID              string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	ReservationID   string          `json:"-"`
	LineItems       []LineItem      `json:"line_items"`
	Subtotal        int64           `json:"subtotal"`
	TotalPrice      int64           `json:"total_price"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Status          OrderStatus     `json:"order_status"`
	Recipient       string          `json:"recipient"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Tracking        []TrackingEntry `json:"tracking"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasProduct reports whether productID is one of the purchased lines.
func (o *Order) HasProduct(productID string) bool {
	for _, item := range o.LineItems {
		if item.ProductID == productID {
			return true
		}
	}
	return false
}

// StatusUpdate is the only set of fields a status change may write.
type StatusUpdate struct {
	OrderID       string
	From          OrderStatus
	To            OrderStatus
	PaymentStatus PaymentStatus
	At            time.Time
}

type CheckoutCommand struct {
	UserID          string
	Recipient       string
	PaymentMethod   PaymentMethod
	TransactionID   string
	CouponCode      string
	ShippingAddress ShippingAddress
}
