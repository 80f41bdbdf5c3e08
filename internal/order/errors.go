package order

import "errors"

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("order with this ID already exists")
	ErrValidation       = errors.New("invalid order request")
	ErrEmptyCart        = errors.New("cart is empty")

	// ErrTransactionAlreadyUsed means the payment already paid for another order.
	ErrTransactionAlreadyUsed = errors.New("payment transaction is already used by another order")

	ErrTerminalState     = errors.New("order is in a terminal state")
	ErrInvalidTransition = errors.New("invalid order status transition")

	// ErrStatusConflict means the status changed between read and write; the caller may retry.
	ErrStatusConflict = errors.New("order status changed concurrently")

	ErrPaymentFailed      = errors.New("payment verification failed")
	ErrCheckoutAborted    = errors.New("checkout aborted after reserving stock")
	ErrCompensationFailed = errors.New("failed to compensate a partially completed checkout")
)
