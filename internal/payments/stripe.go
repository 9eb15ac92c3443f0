// Package payments is the boundary to the payout provider. The dispatch
// engine never calls it; only the withdrawal handler does, after the pending
// ledger entry exists.
package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/payout"
)

// Payer initiates an external payout and returns the provider's reference.
type Payer interface {
	Payout(ctx context.Context, amountCents int64, currency, destination string) (string, error)
}

// StripeClient is a thin wrapper around stripe-go for driver payouts.
type StripeClient struct{}

func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

func (s *StripeClient) Payout(ctx context.Context, amountCents int64, currency, destination string) (string, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if destination != "" {
		params.Destination = stripe.String(destination)
	}
	po, err := payout.New(params)
	if err != nil {
		return "", err
	}
	return po.ID, nil
}

// NoopPayer is used when no provider key is configured; withdrawals stay
// pending until an operator settles them out of band.
type NoopPayer struct{}

func (NoopPayer) Payout(ctx context.Context, amountCents int64, currency, destination string) (string, error) {
	return "", nil
}
