package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"keygate/internal/chain"
	"keygate/internal/metrics"
	"keygate/internal/models"
	"keygate/internal/notify"
	"keygate/internal/payments"
	"keygate/internal/pricing"
	"keygate/internal/store"
)

// externalGrantTxn marks a paid order whose key was granted outside this
// pipeline (possession pre-existed and no transaction is on record).
const externalGrantTxn = "pre-existing"

// OrderStore is the persistence surface the pipeline coordinates through.
// There is no in-process mutex anywhere in the pipeline: invocations are
// stateless and the conditional updates on the order row are the only
// synchronization.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	AcquireIssuanceLock(ctx context.Context, orderID, token string, staleBefore time.Time) (bool, error)
	ReleaseIssuanceLock(ctx context.Context, orderID, token string, outcome store.Outcome) (bool, error)
	AppendAudit(ctx context.Context, orderID string, entry models.AuditEntry) error
}

// GrantExecutor is the on-chain half of the pipeline.
type GrantExecutor interface {
	Execute(ctx context.Context, req chain.GrantRequest) (*chain.GrantResult, error)
}

// ExecutorFactory builds a request-scoped executor for one order, binding
// the audit observer for this run. Chain configuration is resolved here, per
// invocation, never mutated.
type ExecutorFactory func(order *models.Order, observe func(event string, meta map[string]any)) GrantExecutor

// IssueResult is the caller-facing outcome. Business failures are values,
// not errors: the handler always answers 200 with an ok discriminator.
type IssueResult struct {
	OK            bool     `json:"ok"`
	Processing    bool     `json:"processing,omitempty"`
	AlreadyIssued bool     `json:"alreadyIssued,omitempty"`
	TxHash        string   `json:"txHash,omitempty"`
	TokenID       string   `json:"tokenId,omitempty"`
	Error         string   `json:"error,omitempty"`
	Issues        []string `json:"issues,omitempty"`
}

var ErrOrderNotFound = errors.New("order not found")

type IssuanceService struct {
	Store       OrderStore
	Verifiers   payments.Verifiers
	NewExecutor ExecutorFactory
	// SignerAddress is the key manager under delegated fulfillment.
	SignerAddress string
	LockTTL       time.Duration
	Notifier      *notify.Webhook
	Logger        *zap.Logger
}

func (s *IssuanceService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// audit appends to the order trail; trail writes are best effort and never
// fail the pipeline.
func (s *IssuanceService) audit(ctx context.Context, orderID, event string, meta map[string]any) {
	entry := models.AuditEntry{Event: event, Timestamp: time.Now().UTC(), Metadata: meta}
	if err := s.Store.AppendAudit(ctx, orderID, entry); err != nil {
		s.logger().Warn("audit append failed",
			zap.String("orderId", orderID), zap.String("event", event), zap.Error(err))
	}
}

// Issue runs the full pipeline for the order identified by orderRef (order
// id, falling back to payment reference). Duplicate invocations are safe:
// the order lock admits one execution, paid orders short-circuit, and the
// on-chain possession check prevents a second grant.
func (s *IssuanceService) Issue(ctx context.Context, orderRef string) (*IssueResult, error) {
	started := time.Now()
	result, err := s.issue(ctx, orderRef)
	if err == nil {
		metrics.IssuanceDuration.Observe(time.Since(started).Seconds())
	}
	return result, err
}

func (s *IssuanceService) issue(ctx context.Context, orderRef string) (*IssueResult, error) {
	order, err := s.lookup(ctx, orderRef)
	if err != nil {
		return nil, err
	}

	// Duplicate submission: the work is already done.
	if order.Status == models.OrderPaid {
		metrics.IssuanceOutcomes.WithLabelValues("already_issued").Inc()
		return &IssueResult{
			OK:            true,
			AlreadyIssued: true,
			TxHash:        strValue(order.TxnHash),
			TokenID:       strValue(order.TokenID),
		}, nil
	}
	if order.Status == models.OrderFailed {
		metrics.IssuanceOutcomes.WithLabelValues("failed_terminal").Inc()
		return &IssueResult{OK: false, Error: strValue(order.IssuanceLastError)}, nil
	}

	// Verification is read-only, so it runs before the lock; its outcome is
	// only persisted under the lock below.
	s.audit(ctx, order.OrderID, "verification_started", map[string]any{
		"provider":  string(order.PaymentProvider),
		"reference": order.PaymentReference,
	})
	issues, verr := s.verify(ctx, order)
	if verr != nil {
		// Gateway unreachable: nothing was decided, leave the order alone.
		s.audit(ctx, order.OrderID, "verification_error", map[string]any{"error": verr.Error()})
		metrics.IssuanceOutcomes.WithLabelValues("verification_unavailable").Inc()
		return &IssueResult{OK: false, Error: "payment verification unavailable"}, nil
	}

	token := uuid.NewString()
	staleBefore := time.Now().UTC().Add(-s.lockTTL())
	acquired, err := s.Store.AcquireIssuanceLock(ctx, order.OrderID, token, staleBefore)
	if err != nil {
		return nil, err
	}
	if !acquired {
		metrics.LockContention.Inc()
		metrics.IssuanceOutcomes.WithLabelValues("processing").Inc()
		return &IssueResult{OK: true, Processing: true}, nil
	}

	// The snapshot above predates the lock: a duplicate invocation may have
	// finished and written its terminal state in between. Only the row
	// re-read under the lock is trusted from here on.
	fresh, err := s.Store.GetOrder(ctx, order.OrderID)
	if err != nil {
		s.release(ctx, order.OrderID, token, store.Outcome{})
		return nil, err
	}
	order = fresh
	if order.Status == models.OrderPaid {
		s.release(ctx, order.OrderID, token, store.Outcome{})
		metrics.IssuanceOutcomes.WithLabelValues("already_issued").Inc()
		return &IssueResult{
			OK:            true,
			AlreadyIssued: true,
			TxHash:        strValue(order.TxnHash),
			TokenID:       strValue(order.TokenID),
		}, nil
	}
	if order.Status == models.OrderFailed {
		s.release(ctx, order.OrderID, token, store.Outcome{})
		metrics.IssuanceOutcomes.WithLabelValues("failed_terminal").Inc()
		return &IssueResult{OK: false, Error: strValue(order.IssuanceLastError)}, nil
	}

	s.audit(ctx, order.OrderID, "issuance_started", map[string]any{"lockId": token})

	if len(issues) > 0 {
		return s.failVerification(ctx, order, token, issues), nil
	}
	s.audit(ctx, order.OrderID, "verification_passed", nil)

	return s.grant(ctx, order, token)
}

func (s *IssuanceService) lookup(ctx context.Context, orderRef string) (*models.Order, error) {
	order, err := s.Store.GetOrder(ctx, orderRef)
	if err == nil {
		return order, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	order, err = s.Store.GetOrderByPaymentReference(ctx, orderRef)
	if err == nil {
		return order, nil
	}
	if isNotFound(err) {
		return nil, ErrOrderNotFound
	}
	return nil, err
}

// verify reconciles the authoritative gateway state against the expected
// charge. A non-nil error means the check itself could not run; a non-empty
// issue list is a permanent verification failure.
func (s *IssuanceService) verify(ctx context.Context, order *models.Order) ([]payments.Issue, error) {
	verifier, err := s.Verifiers.For(order.PaymentProvider)
	if err != nil {
		return nil, err
	}
	v, err := verifier.VerifyTransaction(ctx, order.PaymentReference)
	if err != nil {
		return nil, err
	}
	expected, err := pricing.ExpectedMinor(pricing.Item{
		AmountMinor:  order.AmountMinor,
		DisplayPrice: order.DisplayPrice,
		Currency:     order.Currency,
	})
	if err != nil {
		return nil, err
	}
	return payments.Check(v, expected, order.Currency), nil
}

func (s *IssuanceService) failVerification(ctx context.Context, order *models.Order, token string, issues []payments.Issue) *IssueResult {
	list := payments.IssueStrings(issues)
	s.audit(ctx, order.OrderID, "verification_failed", map[string]any{"issues": list})

	reason := "payment verification failed: " + strings.Join(list, ",")
	s.release(ctx, order.OrderID, token, store.Outcome{
		Status:    statusPtr(models.OrderFailed),
		LastError: &reason,
	})
	metrics.IssuanceOutcomes.WithLabelValues("verification_failed").Inc()
	s.notify(order.OrderID, models.OrderFailed, "", "", reason)
	return &IssueResult{OK: false, Error: reason, Issues: list}
}

func (s *IssuanceService) grant(ctx context.Context, order *models.Order, token string) (*IssueResult, error) {
	observe := func(event string, meta map[string]any) {
		if event == "grant_submitted" {
			metrics.GrantAttempts.Inc()
		}
		s.audit(ctx, order.OrderID, event, meta)
	}
	exec := s.NewExecutor(order, observe)

	req := chain.GrantRequest{
		Recipient:   order.RecipientAddress,
		KeyManager:  s.keyManager(order),
		KnownTxHash: strValue(order.TxnHash),
	}
	res, err := exec.Execute(ctx, req)
	if err != nil {
		return s.failGrant(ctx, order, token, err), nil
	}

	txHash := res.TxHash
	if txHash == "" {
		// Pre-existing possession with no transaction on record; a paid
		// order still needs a non-null reference for audit.
		txHash = externalGrantTxn
	}

	tokenID, ambiguous := s.extractToken(ctx, order, res)
	if ambiguous {
		s.logger().Warn("multiple transfer logs matched recipient, using first",
			zap.String("orderId", order.OrderID), zap.String("txHash", txHash))
	}

	outcome := store.Outcome{
		Status:  statusPtr(models.OrderPaid),
		TxnHash: &txHash,
	}
	if tokenID != "" {
		outcome.TokenID = &tokenID
	}
	released, err := s.Store.ReleaseIssuanceLock(ctx, order.OrderID, token, outcome)
	if err != nil {
		return nil, err
	}
	if !released {
		// Our lock was stolen after the staleness window; the terminal
		// write did not apply. The grant itself is idempotent on chain, so
		// the holder that took the lock will converge on the same outcome.
		s.logger().Warn("lock no longer held at terminal write",
			zap.String("orderId", order.OrderID), zap.String("lockId", token))
	}
	s.audit(ctx, order.OrderID, "issuance_succeeded", map[string]any{
		"txHash":        txHash,
		"tokenId":       tokenID,
		"alreadyIssued": res.AlreadyHeld,
	})
	metrics.IssuanceOutcomes.WithLabelValues("success").Inc()
	s.notify(order.OrderID, models.OrderPaid, txHash, tokenID, "")

	return &IssueResult{
		OK:            true,
		AlreadyIssued: res.AlreadyHeld,
		TxHash:        txHash,
		TokenID:       tokenID,
	}, nil
}

// failGrant maps executor errors onto the taxonomy: configuration failures
// keep the prior status, reverts and invalid grants are terminal, everything
// else stays pending for a later retry. Every path releases the lock.
func (s *IssuanceService) failGrant(ctx context.Context, order *models.Order, token string, execErr error) *IssueResult {
	reason := execErr.Error()
	outcome := store.Outcome{LastError: &reason}
	var class string

	switch {
	case errors.Is(execErr, chain.ErrNotConfigured):
		class = "config_failed"
	case errors.Is(execErr, chain.ErrReverted), errors.Is(execErr, chain.ErrInvalidGrant):
		class = "chain_failed"
		outcome.Status = statusPtr(models.OrderFailed)
	default:
		class = "retryable"
	}

	s.audit(ctx, order.OrderID, "issuance_failed", map[string]any{
		"class": class,
		"error": reason,
	})
	s.release(ctx, order.OrderID, token, outcome)
	metrics.IssuanceOutcomes.WithLabelValues(class).Inc()
	if outcome.Status != nil {
		s.notify(order.OrderID, *outcome.Status, "", "", reason)
	}
	return &IssueResult{OK: false, Error: reason}
}

func (s *IssuanceService) extractToken(ctx context.Context, order *models.Order, res *chain.GrantResult) (string, bool) {
	if res.Receipt == nil {
		return strValue(order.TokenID), false
	}
	tokenID, found, ambiguous := chain.ExtractTokenID(res.Receipt.Logs, order.RegistryAddress, order.RecipientAddress)
	if !found {
		// Non-fatal: issuance confirmed on chain; the sweeper backfills the
		// id from ownership enumeration.
		s.audit(ctx, order.OrderID, "token_extraction_miss", map[string]any{"txHash": res.TxHash})
		return "", false
	}
	s.audit(ctx, order.OrderID, "token_extracted", map[string]any{"tokenId": tokenID})
	return tokenID, ambiguous
}

func (s *IssuanceService) keyManager(order *models.Order) string {
	// Closed dispatch on the fulfillment tag: a direct grant leaves the
	// buyer managing their own key; delegated attestation keeps the
	// platform signer as manager until the attestation is claimed.
	switch order.FulfillmentMethod {
	case models.FulfillDelegatedAttestation:
		return s.SignerAddress
	default:
		return order.RecipientAddress
	}
}

// release clears the lock, logging rather than failing when the guarded
// update misses: by then the lock was stolen or already cleared, and the
// audit trail has the full story either way.
func (s *IssuanceService) release(ctx context.Context, orderID, token string, outcome store.Outcome) {
	released, err := s.Store.ReleaseIssuanceLock(ctx, orderID, token, outcome)
	if err != nil {
		s.logger().Error("lock release failed",
			zap.String("orderId", orderID), zap.Error(err))
		return
	}
	if !released {
		s.logger().Warn("lock release guard did not match",
			zap.String("orderId", orderID), zap.String("lockId", token))
	}
}

// notify dispatches the terminal outcome webhook without blocking or failing
// the pipeline.
func (s *IssuanceService) notify(orderID string, status models.OrderStatus, txHash, tokenID, errMsg string) {
	if s.Notifier == nil {
		return
	}
	ev := notify.Event{
		OrderID: orderID,
		Status:  string(status),
		TxHash:  txHash,
		TokenID: tokenID,
		Error:   errMsg,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Notifier.Send(ctx, ev); err != nil {
			s.logger().Warn("outcome notification failed",
				zap.String("orderId", orderID), zap.Error(err))
		}
	}()
}

func (s *IssuanceService) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Minute
	}
	return s.LockTTL
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrOrderNotFound)
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func statusPtr(s models.OrderStatus) *models.OrderStatus { return &s }
