package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeVerifier re-fetches a PaymentIntent by reference and normalizes its
// state. Read-only: no capture, confirm, or refund ever happens here.
type StripeVerifier struct {
	intents stripeIntentAPI
}

func NewStripeVerifier(apiKey string) (*StripeVerifier, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return &StripeVerifier{intents: sc.PaymentIntents}, nil
}

// newStripeVerifierWithAPI exists for tests.
func newStripeVerifierWithAPI(api stripeIntentAPI) *StripeVerifier {
	return &StripeVerifier{intents: api}
}

func (v *StripeVerifier) VerifyTransaction(ctx context.Context, reference string) (Verification, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := v.intents.Get(reference, params)
	if err != nil {
		return Verification{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	amount := intent.Amount
	var paidAt time.Time
	if charge := intent.LatestCharge; charge != nil {
		if charge.AmountCaptured > 0 {
			// The captured amount is what actually settled.
			amount = charge.AmountCaptured
		}
		if charge.Paid {
			paidAt = time.Unix(charge.Created, 0).UTC()
		}
	}

	return Verification{
		Status:      status,
		AmountMinor: amount,
		Currency:    strings.ToUpper(string(intent.Currency)),
		PaidAt:      paidAt,
	}, nil
}
