package services

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"keygate/internal/models"
	"keygate/internal/pricing"
	"keygate/internal/store"
)

func (s *fakeStore) CreateOrder(ctx context.Context, order *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Fingerprint == order.Fingerprint || o.PaymentReference == order.PaymentReference {
			return store.ErrDuplicateOrder
		}
	}
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *fakeStore) GetOrderByFingerprint(ctx context.Context, fp string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.Fingerprint == fp {
			cp := *o
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func validCreateRequest() CreateOrderRequest {
	return CreateOrderRequest{
		BuyerID:           "user-1",
		ItemID:            "course-42",
		AmountMinor:       50000,
		Currency:          "USD",
		PaymentProvider:   models.ProviderGateway,
		PaymentReference:  "pi_123",
		FulfillmentMethod: models.FulfillNFTGrant,
		RecipientAddress:  testRecipient,
	}
}

func newOrderService(st *fakeStore) *OrderService {
	return &OrderService{Store: st, RegistryAddress: testRegistry, ChainID: 8453}
}

func TestCreateOrderRegistersPending(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	svc := newOrderService(st)

	order, existing, err := svc.CreateOrder(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.False(t, existing)
	require.NotEmpty(t, order.OrderID)
	require.NotEmpty(t, order.Fingerprint)
	require.Equal(t, models.OrderPending, order.Status)
	require.Equal(t, testRegistry, order.RegistryAddress)
	require.Equal(t, int64(8453), order.ChainID)
}

func TestCreateOrderDeduplicatesByFingerprint(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	svc := newOrderService(st)

	first, existing, err := svc.CreateOrder(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.False(t, existing)

	// A resubmission with cosmetic differences hits the same fingerprint.
	req := validCreateRequest()
	req.BuyerID = " USER-1 "
	req.Currency = "usd"
	second, existing, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	require.True(t, existing)
	require.Equal(t, first.OrderID, second.OrderID)
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	svc := newOrderService(newFakeStore())

	cases := []struct {
		name    string
		mutate  func(*CreateOrderRequest)
		wantErr error
	}{
		{"missing buyer", func(r *CreateOrderRequest) { r.BuyerID = "" }, ErrMissingBuyer},
		{"missing item", func(r *CreateOrderRequest) { r.ItemID = "" }, ErrMissingItem},
		{"missing reference", func(r *CreateOrderRequest) { r.PaymentReference = "" }, ErrMissingReference},
		{"bad recipient", func(r *CreateOrderRequest) { r.RecipientAddress = "0x123" }, ErrInvalidRecipient},
		{"bad fulfillment", func(r *CreateOrderRequest) { r.FulfillmentMethod = "airdrop" }, ErrInvalidFulfillment},
		{"bad provider", func(r *CreateOrderRequest) { r.PaymentProvider = "paypal" }, ErrInvalidProvider},
		{"no price", func(r *CreateOrderRequest) { r.AmountMinor = 0; r.DisplayPrice = "" }, pricing.ErrNoPrice},
	}
	for _, tc := range cases {
		req := validCreateRequest()
		tc.mutate(&req)
		_, _, err := svc.CreateOrder(context.Background(), req)
		require.ErrorIs(t, err, tc.wantErr, tc.name)
	}
}

func TestCreateOrderInsertRaceReturnsWinner(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	svc := newOrderService(st)

	// Seed a colliding payment reference with a different fingerprint so the
	// insert itself, not the pre-check, detects the duplicate.
	seeded := pendingOrder()
	seeded.Fingerprint = "different-fingerprint"
	require.NoError(t, st.CreateOrder(context.Background(), seeded))

	order, existing, err := svc.CreateOrder(context.Background(), validCreateRequest())
	require.NoError(t, err)
	require.True(t, existing)
	require.Equal(t, seeded.OrderID, order.OrderID)
}
