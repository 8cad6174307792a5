package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"keygate/internal/models"
	"keygate/internal/services"
)

// AuditReader exposes the order timeline for support tooling.
type AuditReader interface {
	GetAuditTrail(ctx context.Context, orderID string) ([]models.AuditEntry, error)
}

type Handler struct {
	Orders   *services.OrderService
	Issuance *services.IssuanceService
	Audit    AuditReader
}

func NewHandler(orders *services.OrderService, issuance *services.IssuanceService, audit AuditReader) *Handler {
	return &Handler{Orders: orders, Issuance: issuance, Audit: audit}
}

type createOrderRequest struct {
	ItemID            string `json:"itemId"`
	AmountMinor       int64  `json:"amountMinor"`
	DisplayPrice      string `json:"displayPrice"`
	Currency          string `json:"currency"`
	PaymentProvider   string `json:"paymentProvider"`
	PaymentReference  string `json:"paymentReference"`
	FulfillmentMethod string `json:"fulfillmentMethod"`
	RecipientAddress  string `json:"recipientAddress"`
}

type orderResponse struct {
	OrderID          string              `json:"orderId"`
	Status           string              `json:"status"`
	PaymentReference string              `json:"paymentReference"`
	RecipientAddress string              `json:"recipientAddress"`
	AmountMinor      int64               `json:"amountMinor"`
	Currency         string              `json:"currency"`
	TxHash           string              `json:"txHash,omitempty"`
	TokenID          string              `json:"tokenId,omitempty"`
	LastError        string              `json:"lastError,omitempty"`
	Attempts         int                 `json:"attempts"`
	CreatedAt        string              `json:"createdAt"`
	Existing         bool                `json:"existing,omitempty"`
	AuditTrail       []models.AuditEntry `json:"auditTrail,omitempty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	buyerID := r.Header.Get("X-User-Id")
	order, existing, err := h.Orders.CreateOrder(r.Context(), services.CreateOrderRequest{
		BuyerID:           buyerID,
		ItemID:            req.ItemID,
		AmountMinor:       req.AmountMinor,
		DisplayPrice:      req.DisplayPrice,
		Currency:          req.Currency,
		PaymentProvider:   models.PaymentProvider(req.PaymentProvider),
		PaymentReference:  req.PaymentReference,
		FulfillmentMethod: models.FulfillmentMethod(req.FulfillmentMethod),
		RecipientAddress:  req.RecipientAddress,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMissingBuyer):
			writeError(w, http.StatusUnauthorized, "missing user id")
		case errors.Is(err, services.ErrMissingItem),
			errors.Is(err, services.ErrMissingReference),
			errors.Is(err, services.ErrInvalidRecipient),
			errors.Is(err, services.ErrInvalidFulfillment),
			errors.Is(err, services.ErrInvalidProvider):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "create order failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, orderToResponse(order, existing, nil))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get order failed")
		return
	}

	var trail []models.AuditEntry
	if h.Audit != nil && r.URL.Query().Get("audit") == "true" {
		if t, err := h.Audit.GetAuditTrail(r.Context(), orderID); err == nil {
			trail = t
		}
	}

	writeJSON(w, http.StatusOK, orderToResponse(order, false, trail))
}

// Issue runs the issuance pipeline. Business outcomes, including terminal
// failures and "still processing", all answer 200 with the ok discriminator;
// only transport-level problems use error status codes.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	orderRef := chi.URLParam(r, "orderRef")
	if orderRef == "" {
		writeError(w, http.StatusBadRequest, "missing order reference")
		return
	}

	result, err := h.Issuance.Issue(r.Context(), orderRef)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "issuance failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func orderToResponse(order *models.Order, existing bool, trail []models.AuditEntry) orderResponse {
	resp := orderResponse{
		OrderID:          order.OrderID,
		Status:           string(order.Status),
		PaymentReference: order.PaymentReference,
		RecipientAddress: order.RecipientAddress,
		AmountMinor:      order.AmountMinor,
		Currency:         order.Currency,
		Attempts:         order.IssuanceAttempts,
		CreatedAt:        order.CreatedAt.Format(time.RFC3339),
		Existing:         existing,
		AuditTrail:       trail,
	}
	if order.TxnHash != nil {
		resp.TxHash = *order.TxnHash
	}
	if order.TokenID != nil {
		resp.TokenID = *order.TokenID
	}
	if order.IssuanceLastError != nil {
		resp.LastError = *order.IssuanceLastError
	}
	return resp
}
