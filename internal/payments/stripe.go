package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeProvider is a thin wrapper around stripe-go producing the checkout
// handoff for a service request. Completion is reported back by the
// provider out-of-band and lands as a paid-flag update on the request.
type StripeProvider struct {
	Currency string
}

// NewStripeProvider initializes the stripe client with the given API key.
func NewStripeProvider(apiKey, currency string) *StripeProvider {
	stripe.Key = apiKey
	if currency == "" {
		currency = "clp"
	}
	return &StripeProvider{Currency: currency}
}

// CreatePaymentIntent opens a PaymentIntent for the request amount and
// returns its client secret as the opaque redirect/handoff target.
func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, requestID string, amount int64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.Currency),
	}
	params.AddMetadata("request_id", requestID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ClientSecret, nil
}
