package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
)

const maxIDAttempts = 3

// Forward skips are allowed. An empty set marks a terminal status.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPlaced: {
		StatusConfirmed: true,
		StatusShipped:   true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusShipped:   true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

var statusNotifications = map[OrderStatus]notification.Kind{
	StatusConfirmed: notification.KindOrderConfirmed,
	StatusShipped:   notification.KindOrderShipped,
	StatusDelivered: notification.KindOrderDelivered,
}

type Service interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]Order, error)
	ChangeStatus(ctx context.Context, orderID string, newStatus OrderStatus) (*Order, error)
	AddTracking(ctx context.Context, orderID, location string) (*Order, error)
}

type CartStore interface {
	GetCart(ctx context.Context, userID string) (catalog.Cart, error)
	Clear(ctx context.Context, userID string) error
}

type ProductCatalog interface {
	GetProducts(ctx context.Context, ids []string) (map[string]catalog.Product, error)
}

type Pricer interface {
	ComputeTotal(ctx context.Context, lines []pricing.Line, couponCode string) (pricing.Quote, error)
}

type IDGenerator interface {
	Generate() (string, error)
}

type Notifier interface {
	Dispatch(msg notification.Message)
}

type ServiceDeps struct {
	Orders   Repository
	Carts    CartStore
	Products ProductCatalog
	Pricing  Pricer
	Ledger   inventory.Ledger
	IDs      IDGenerator
	Payments payment.Verifier
	Notifier Notifier
	Clock    func() time.Time
	// RestockOnCancel releases the reservation of a cancelled order.
	RestockOnCancel bool
}

type service struct {
	orders          Repository
	carts           CartStore
	products        ProductCatalog
	pricing         Pricer
	ledger          inventory.Ledger
	ids             IDGenerator
	payments        payment.Verifier
	notifier        Notifier
	clock           func() time.Time
	restockOnCancel bool
}

func NewService(deps ServiceDeps) (Service, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Carts == nil:
		return nil, errors.New("order service: cart store is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product catalog is required")
	case deps.Pricing == nil:
		return nil, errors.New("order service: pricing engine is required")
	case deps.Ledger == nil:
		return nil, errors.New("order service: inventory ledger is required")
	case deps.IDs == nil:
		return nil, errors.New("order service: id generator is required")
	case deps.Payments == nil:
		return nil, errors.New("order service: payment verifier is required")
	case deps.Notifier == nil:
		return nil, errors.New("order service: notifier is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &service{
		orders:   deps.Orders,
		carts:    deps.Carts,
		products: deps.Products,
		pricing:  deps.Pricing,
		ledger:   deps.Ledger,
		ids:      deps.IDs,
		payments: deps.Payments,
		notifier: deps.Notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		restockOnCancel: deps.RestockOnCancel,
	}, nil
}

func validateCheckout(cmd CheckoutCommand) error {
	var problems []string
	if strings.TrimSpace(cmd.UserID) == "" {
		problems = append(problems, "user id is required")
	}
	if strings.TrimSpace(cmd.Recipient) == "" {
		problems = append(problems, "recipient is required")
	}
	if !cmd.PaymentMethod.Valid() {
		problems = append(problems, fmt.Sprintf("unknown payment method %q", cmd.PaymentMethod))
	}
	hasTx := strings.TrimSpace(cmd.TransactionID) != ""
	if cmd.PaymentMethod.Prepaid() && !hasTx {
		problems = append(problems, "transaction id is required for prepaid orders")
	}
	if cmd.PaymentMethod == PaymentCashOnDelivery && hasTx {
		problems = append(problems, "transaction id is not accepted for cash on delivery")
	}
	addr := cmd.ShippingAddress
	for _, f := range []struct{ name, value string }{
		{"street", addr.Street},
		{"city", addr.City},
		{"district", addr.District},
		{"state", addr.State},
		{"country", addr.Country},
		{"phone", addr.Phone},
	} {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, "shipping address "+f.name+" is required")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (s *service) Checkout(ctx context.Context, cmd CheckoutCommand) (*Order, error) {
	// 1. Validate the request
	if err := validateCheckout(cmd); err != nil {
		log.Warn().Err(err).Str("user_id", cmd.UserID).Msg("service: rejected checkout request")
		return nil, err
	}

	// 2. Load the cart
	cart, err := s.carts.GetCart(ctx, cmd.UserID)
	if err != nil {
		if errors.Is(err, catalog.ErrCartNotFound) {
			return nil, ErrEmptyCart
		}
		return nil, fmt.Errorf("service: failed to load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	// 3. Price the snapshot
	productIDs := make([]string, len(cart.Items))
	for i, item := range cart.Items {
		productIDs[i] = item.ProductID
	}
	products, err := s.products.GetProducts(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	lineItems := make([]LineItem, len(cart.Items))
	priceLines := make([]pricing.Line, len(cart.Items))
	reserveLines := make([]inventory.Line, len(cart.Items))
	for i, item := range cart.Items {
		p := products[item.ProductID]
		unitPrice := pricing.EffectivePrice(p.MRP, p.SalePrice)
		lineItems[i] = LineItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: unitPrice}
		priceLines[i] = pricing.Line{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: unitPrice}
		reserveLines[i] = inventory.Line{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	quote, err := s.pricing.ComputeTotal(ctx, priceLines, cmd.CouponCode)
	if err != nil {
		if errors.Is(err, pricing.ErrEmptyCart) {
			return nil, ErrEmptyCart
		}
		return nil, fmt.Errorf("service: failed to compute total: %w", err)
	}

	// 4. Verify prepaid payments before touching stock
	order := &Order{
		UserID:          cmd.UserID,
		LineItems:       lineItems,
		Subtotal:        quote.Subtotal,
		TotalPrice:      quote.Total,
		CouponCode:      quote.CouponCode,
		PaymentMethod:   cmd.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          StatusPlaced,
		Recipient:       strings.TrimSpace(cmd.Recipient),
		ShippingAddress: cmd.ShippingAddress,
		Tracking:        make([]TrackingEntry, 0),
	}
	if cmd.PaymentMethod.Prepaid() {
		txID := strings.TrimSpace(cmd.TransactionID)
		if err := s.payments.Verify(ctx, txID, quote.Total); err != nil {
			log.Warn().Err(err).Str("user_id", cmd.UserID).Str("transaction_id", txID).Msg("service: payment verification failed")
			return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
		}
		order.TransactionID = txID
		order.PaymentStatus = PaymentCompleted
		order.Status = StatusConfirmed
	}

	// 5. Reserve inventory
	reservation, err := s.ledger.Reserve(ctx, reserveLines)
	if err != nil {
		log.Info().Err(err).Str("user_id", cmd.UserID).Msg("service: stock reservation failed, order not created")
		logUnfulfilledPayment(order, err)
		return nil, fmt.Errorf("service: failed to reserve stock: %w", err)
	}
	order.ReservationID = reservation.ID

	// 6. Stamp and persist
	if err := s.persistNew(ctx, order); err != nil {
		if !errors.Is(err, ErrTransactionAlreadyUsed) {
			logUnfulfilledPayment(order, err)
		}
		if relErr := s.release(ctx, reservation.ID, "order persistence failed"); relErr != nil {
			return nil, errors.Join(fmt.Errorf("service: failed to create order: %w", err), ErrCompensationFailed, relErr)
		}
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	// 7. Finalise the reservation
	if _, err := s.ledger.Commit(ctx, reservation.ID, order.ID); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Str("reservation_id", reservation.ID).Msg("service: failed to commit reservation, cancelling order")
		return nil, s.abortPersisted(ctx, order, err)
	}

	log.Info().Str("order_id", order.ID).Str("user_id", order.UserID).Int64("total", order.TotalPrice).Msg("service: order created successfully")

	// 8. Side effects that must not fail the checkout
	s.notify(notification.KindOrderPlaced, order, "")
	if err := s.carts.Clear(ctx, order.UserID); err != nil {
		log.Warn().Err(err).Str("user_id", order.UserID).Msg("service: failed to clear cart after checkout")
	}

	return order, nil
}

func (s *service) persistNew(ctx context.Context, order *Order) error {
	var lastErr error
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.ids.Generate()
		if err != nil {
			return fmt.Errorf("service: failed to generate order id: %w", err)
		}
		now := s.clock()
		order.ID = id
		order.CreatedAt = now
		order.UpdatedAt = now

		err = s.orders.Create(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateOrderID) {
			return err
		}
		log.Warn().Str("order_id", id).Int("attempt", attempt).Msg("service: order id collision, regenerating")
		lastErr = err
	}
	return lastErr
}

// logUnfulfilledPayment records a captured payment that no order will carry, so it can be refunded.
func logUnfulfilledPayment(order *Order, cause error) {
	if order.TransactionID == "" {
		return
	}
	log.Error().Err(cause).
		Str("user_id", order.UserID).
		Str("transaction_id", order.TransactionID).
		Int64("total", order.TotalPrice).
		Msg("service: unfulfilled payment, order was not created")
}

// abortPersisted releases stock and marks the stored order cancelled.
func (s *service) abortPersisted(ctx context.Context, order *Order, cause error) error {
	errs := []error{ErrCheckoutAborted, cause}

	if relErr := s.release(ctx, order.ReservationID, "reservation commit failed"); relErr != nil {
		errs = append(errs, ErrCompensationFailed, relErr)
	}

	err := s.orders.UpdateStatus(ctx, StatusUpdate{
		OrderID: order.ID,
		From:    order.Status,
		To:      StatusCancelled,
		At:      s.clock(),
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("service: failed to mark aborted order as cancelled")
		errs = append(errs, ErrCompensationFailed, err)
	}

	return errors.Join(errs...)
}

func (s *service) release(ctx context.Context, reservationID, reason string) error {
	if _, err := s.ledger.Release(ctx, reservationID, reason); err != nil {
		log.Error().Err(err).Str("reservation_id", reservationID).Str("reason", reason).Msg("service: inventory compensation failed, stock may be inconsistent")
		return err
	}
	return nil
}

func (s *service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Str("order_id", orderID).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return order, nil
}

func (s *service) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.GetByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("service: failed to fetch user orders in repository")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) ChangeStatus(ctx context.Context, orderID string, newStatus OrderStatus) (*Order, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}

	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	// DELIVERED accepts nothing, not even itself.
	if current.Status == StatusDelivered {
		log.Warn().Str("order_id", orderID).Stringer("new_status", newStatus).Msg("service: status change on delivered order rejected")
		return nil, fmt.Errorf("%w: order %s is %s", ErrTerminalState, orderID, current.Status)
	}
	if current.Status == newStatus {
		log.Info().Str("order_id", orderID).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return current, nil
	}

	allowed := allowedTransitions[current.Status]
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: order %s is %s", ErrTerminalState, orderID, current.Status)
	}
	if !allowed[newStatus] {
		log.Warn().
			Str("order_id", orderID).
			Stringer("current_status", current.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid status transition attempt")
		return nil, fmt.Errorf("%w: from %s to %s", ErrInvalidTransition, current.Status, newStatus)
	}

	update := StatusUpdate{
		OrderID: orderID,
		From:    current.Status,
		To:      newStatus,
		At:      s.clock(),
	}
	if newStatus == StatusDelivered && current.PaymentMethod == PaymentCashOnDelivery {
		update.PaymentStatus = PaymentCompleted
	}

	if err := s.orders.UpdateStatus(ctx, update); err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrStatusConflict) {
			return nil, err
		}
		log.Error().Err(err).Str("order_id", orderID).Stringer("new_status", newStatus).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Str("order_id", orderID).Stringer("old_status", current.Status).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	updated := *current
	updated.Status = newStatus
	updated.UpdatedAt = update.At
	if update.PaymentStatus != "" {
		updated.PaymentStatus = update.PaymentStatus
	}

	if kind, ok := statusNotifications[newStatus]; ok {
		s.notify(kind, &updated, lastLocation(&updated))
	}

	if newStatus == StatusCancelled && s.restockOnCancel {
		log.Info().Str("order_id", orderID).Str("reservation_id", updated.ReservationID).Msg("service: restocking cancelled order")
		// The cancellation is already stored; a failed release only leaves stock low.
		_ = s.release(ctx, updated.ReservationID, "order cancelled")
	}

	return &updated, nil
}

func (s *service) AddTracking(ctx context.Context, orderID, location string) (*Order, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrValidation)
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.Terminal() {
		return nil, fmt.Errorf("%w: order %s is %s", ErrTerminalState, orderID, order.Status)
	}

	entry := TrackingEntry{Location: location, CreatedAt: s.clock()}
	if err := s.orders.AddTracking(ctx, orderID, entry); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		if errors.Is(err, ErrTerminalState) {
			log.Warn().Str("order_id", orderID).Msg("service: order reached a terminal state before tracking was stored")
			return nil, fmt.Errorf("%w: order %s", ErrTerminalState, orderID)
		}
		return nil, fmt.Errorf("service: failed to add tracking entry: %w", err)
	}

	order.Tracking = append(order.Tracking, entry)
	order.UpdatedAt = entry.CreatedAt
	log.Info().Str("order_id", orderID).Str("location", location).Msg("service: tracking entry added")
	return order, nil
}

func (s *service) notify(kind notification.Kind, order *Order, location string) {
	items := make([]notification.ItemLine, len(order.LineItems))
	for i, li := range order.LineItems {
		items[i] = notification.ItemLine{ProductID: li.ProductID, Quantity: li.Quantity, UnitPrice: li.UnitPrice}
	}

	msg, err := notification.Render(kind, notification.OrderData{
		OrderID:   order.ID,
		Recipient: order.Recipient,
		Items:     items,
		Total:     order.TotalPrice,
		Location:  location,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("service: failed to render notification")
		return
	}
	s.notifier.Dispatch(msg)
}

func lastLocation(o *Order) string {
	if len(o.Tracking) == 0 {
		return ""
	}
	return o.Tracking[len(o.Tracking)-1].Location
}
