package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

type fakeIntentAPI struct {
	intent *stripe.PaymentIntent
	err    error
	gotID  string
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.gotID = id
	return f.intent, f.err
}

func TestStripeVerifierSucceededWithCapturedAmount(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeIntentAPI{intent: &stripe.PaymentIntent{
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   50000,
		Currency: stripe.CurrencyUSD,
		LatestCharge: &stripe.Charge{
			AmountCaptured: 49500,
			Paid:           true,
			Created:        created.Unix(),
		},
	}}
	v := newStripeVerifierWithAPI(api)

	got, err := v.VerifyTransaction(context.Background(), "pi_123")
	require.NoError(t, err)
	require.Equal(t, "pi_123", api.gotID)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, int64(49500), got.AmountMinor)
	require.Equal(t, "USD", got.Currency)
	require.Equal(t, created, got.PaidAt)
}

func TestStripeVerifierStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		intent stripe.PaymentIntentStatus
		want   Status
	}{
		{stripe.PaymentIntentStatusSucceeded, StatusSucceeded},
		{stripe.PaymentIntentStatusCanceled, StatusFailed},
		{stripe.PaymentIntentStatusRequiresPaymentMethod, StatusPending},
		{stripe.PaymentIntentStatusProcessing, StatusPending},
	}
	for _, tc := range cases {
		api := &fakeIntentAPI{intent: &stripe.PaymentIntent{
			Status:   tc.intent,
			Amount:   100,
			Currency: stripe.CurrencyUSD,
		}}
		got, err := newStripeVerifierWithAPI(api).VerifyTransaction(context.Background(), "pi_x")
		require.NoError(t, err)
		require.Equal(t, tc.want, got.Status, string(tc.intent))
	}
}

func TestStripeVerifierLookupError(t *testing.T) {
	t.Parallel()

	api := &fakeIntentAPI{err: errors.New("api down")}
	_, err := newStripeVerifierWithAPI(api).VerifyTransaction(context.Background(), "pi_err")
	require.Error(t, err)
}

func TestNewStripeVerifierRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewStripeVerifier("  ")
	require.Error(t, err)
}
