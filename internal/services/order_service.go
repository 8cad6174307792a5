package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"keygate/internal/chain"
	"keygate/internal/fingerprint"
	"keygate/internal/models"
	"keygate/internal/pricing"
	"keygate/internal/store"
)

var (
	ErrMissingBuyer       = errors.New("missing buyer id")
	ErrMissingItem        = errors.New("missing item id")
	ErrMissingReference   = errors.New("missing payment reference")
	ErrInvalidRecipient   = errors.New("invalid recipient address")
	ErrInvalidFulfillment = errors.New("unknown fulfillment method")
	ErrInvalidProvider    = errors.New("unknown payment provider")
)

// CreateOrderStore is the subset of the store order intake needs.
type CreateOrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByFingerprint(ctx context.Context, fp string) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
}

type OrderService struct {
	Store           CreateOrderStore
	RegistryAddress string
	ChainID         int64
}

type CreateOrderRequest struct {
	BuyerID           string
	ItemID            string
	AmountMinor       int64
	DisplayPrice      string
	Currency          string
	PaymentProvider   models.PaymentProvider
	PaymentReference  string
	FulfillmentMethod models.FulfillmentMethod
	RecipientAddress  string
}

// CreateOrder registers a PENDING order for later issuance. Duplicate
// submissions are detected by the purchase fingerprint before the pipeline
// ever runs: the existing order is returned with existing=true instead of
// creating a second one.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, bool, error) {
	if req.BuyerID == "" {
		return nil, false, ErrMissingBuyer
	}
	if req.ItemID == "" {
		return nil, false, ErrMissingItem
	}
	if req.PaymentReference == "" {
		return nil, false, ErrMissingReference
	}
	if !chain.IsHexAddress(req.RecipientAddress) {
		return nil, false, ErrInvalidRecipient
	}
	if !req.FulfillmentMethod.Valid() {
		return nil, false, ErrInvalidFulfillment
	}
	if !req.PaymentProvider.Valid() {
		return nil, false, ErrInvalidProvider
	}
	if _, err := pricing.ExpectedMinor(pricing.Item{
		AmountMinor:  req.AmountMinor,
		DisplayPrice: req.DisplayPrice,
		Currency:     req.Currency,
	}); err != nil {
		return nil, false, err
	}

	fp := fingerprint.Derive(fingerprint.Purchase{
		BuyerID:           req.BuyerID,
		ItemID:            req.ItemID,
		AmountMinor:       req.AmountMinor,
		Currency:          req.Currency,
		FulfillmentMethod: string(req.FulfillmentMethod),
		RecipientAddress:  req.RecipientAddress,
	})

	if existing, err := s.Store.GetOrderByFingerprint(ctx, fp); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	now := time.Now().UTC()
	order := &models.Order{
		OrderID:           uuid.NewString(),
		BuyerID:           req.BuyerID,
		ItemID:            req.ItemID,
		Fingerprint:       fp,
		PaymentReference:  req.PaymentReference,
		PaymentProvider:   req.PaymentProvider,
		FulfillmentMethod: req.FulfillmentMethod,
		AmountMinor:       req.AmountMinor,
		DisplayPrice:      req.DisplayPrice,
		Currency:          req.Currency,
		RecipientAddress:  req.RecipientAddress,
		RegistryAddress:   s.RegistryAddress,
		ChainID:           s.ChainID,
		Status:            models.OrderPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.Store.CreateOrder(ctx, order)
	if err == nil {
		return order, false, nil
	}
	if errors.Is(err, store.ErrDuplicateOrder) {
		// Insert race with a concurrent duplicate: surface whichever row won.
		if existing, lookupErr := s.Store.GetOrderByFingerprint(ctx, fp); lookupErr == nil {
			return existing, true, nil
		}
		if existing, lookupErr := s.Store.GetOrderByPaymentReference(ctx, req.PaymentReference); lookupErr == nil {
			return existing, true, nil
		}
	}
	return nil, false, err
}

// GetOrder returns the order for status display.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.Store.GetOrder(ctx, orderID)
}
