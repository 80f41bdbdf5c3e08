package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

var (
	ErrMissingTransaction = errors.New("payment: transaction id is required")
	ErrNotCompleted       = errors.New("payment: payment is not completed")
	ErrAmountMismatch     = errors.New("payment: paid amount does not match order total")
	ErrLookupFailed       = errors.New("payment: provider lookup failed")
)

// Verifier confirms that a transaction obtained by the client paid amount
// (whole currency units).
type Verifier interface {
	Verify(ctx context.Context, transactionID string, amount int64) error
}

// TrustVerifier accepts any non-empty transaction id.
type TrustVerifier struct{}

func (TrustVerifier) Verify(_ context.Context, transactionID string, _ int64) error {
	if strings.TrimSpace(transactionID) == "" {
		return ErrMissingTransaction
	}
	return nil
}

type paymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeVerifier struct {
	intents paymentIntentAPI
}

func NewStripeVerifier(apiKey string) (*StripeVerifier, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return &StripeVerifier{intents: sc.PaymentIntents}, nil
}

func newStripeVerifierWithAPI(intents paymentIntentAPI) *StripeVerifier {
	return &StripeVerifier{intents: intents}
}

// Verify looks the PaymentIntent up and requires it to have succeeded for
// exactly amount*100 minor units.
func (v *StripeVerifier) Verify(ctx context.Context, transactionID string, amount int64) error {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return ErrMissingTransaction
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := v.intents.Get(transactionID, params)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", transactionID).Msg("payment: stripe lookup failed")
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		log.Warn().Str("transaction_id", transactionID).Str("status", string(intent.Status)).Msg("payment: intent not succeeded")
		return fmt.Errorf("%w: intent %s is %s", ErrNotCompleted, transactionID, intent.Status)
	}

	received := intent.AmountReceived
	if received == 0 {
		received = intent.Amount
	}
	if received != amount*100 {
		log.Warn().Str("transaction_id", transactionID).Int64("expected", amount*100).Int64("received", received).Msg("payment: amount mismatch")
		return fmt.Errorf("%w: expected %d, got %d minor units", ErrAmountMismatch, amount*100, received)
	}
	return nil
}
