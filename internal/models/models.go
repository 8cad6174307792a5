package models

import "time"

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
)

// PaymentProvider selects how a payment reference is verified.
type PaymentProvider string

const (
	ProviderGateway PaymentProvider = "gateway"
	ProviderOnChain PaymentProvider = "onchain"
)

func (p PaymentProvider) Valid() bool {
	switch p {
	case ProviderGateway, ProviderOnChain:
		return true
	}
	return false
}

// FulfillmentMethod selects the issuance strategy for an order.
type FulfillmentMethod string

const (
	FulfillNFTGrant             FulfillmentMethod = "nft_grant"
	FulfillDelegatedAttestation FulfillmentMethod = "delegated_attestation"
)

func (m FulfillmentMethod) Valid() bool {
	switch m {
	case FulfillNFTGrant, FulfillDelegatedAttestation:
		return true
	}
	return false
}

type Order struct {
	OrderID           string
	BuyerID           string
	ItemID            string
	Fingerprint       string
	PaymentReference  string
	PaymentProvider   PaymentProvider
	FulfillmentMethod FulfillmentMethod
	AmountMinor       int64
	DisplayPrice      string
	Currency          string
	RecipientAddress  string
	RegistryAddress   string
	ChainID           int64
	Status            OrderStatus
	TxnHash           *string
	TokenID           *string
	IssuanceLockID    *string
	IssuanceLockedAt  *time.Time
	IssuanceAttempts  int
	IssuanceLastError *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Locked reports whether the order holds an issuance lock younger than
// staleAfter. Older locks belong to a crashed holder and may be reacquired.
func (o *Order) Locked(now time.Time, staleAfter time.Duration) bool {
	if o.IssuanceLockID == nil || o.IssuanceLockedAt == nil {
		return false
	}
	return now.Sub(*o.IssuanceLockedAt) < staleAfter
}

// AuditEntry is one element of the order's append-only audit trail.
type AuditEntry struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
