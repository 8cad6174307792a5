package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"keygate/internal/models"
)

// Status is the normalized payment state shared across providers.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Verification is the authoritative payment state re-fetched from the
// provider. Client-supplied amounts are never trusted; this struct is the
// only input to charge reconciliation.
type Verification struct {
	Status      Status
	AmountMinor int64
	Currency    string
	PaidAt      time.Time
}

// Verifier re-queries one payment provider by reference.
type Verifier interface {
	VerifyTransaction(ctx context.Context, reference string) (Verification, error)
}

// Issue is one reconciliation failure. Any non-empty issue list is a
// permanent verification failure: the order fails and the chain is never
// touched.
type Issue string

const (
	IssueStatusNotSuccess Issue = "status_not_success"
	IssueAmountMismatch   Issue = "amount_mismatch"
	IssueCurrencyMismatch Issue = "currency_mismatch"
)

// Check reconciles a verification against the expected charge.
func Check(v Verification, expectedMinor int64, expectedCurrency string) []Issue {
	var issues []Issue
	if v.Status != StatusSucceeded {
		issues = append(issues, IssueStatusNotSuccess)
	}
	if v.AmountMinor != expectedMinor {
		issues = append(issues, IssueAmountMismatch)
	}
	if !strings.EqualFold(v.Currency, expectedCurrency) {
		issues = append(issues, IssueCurrencyMismatch)
	}
	return issues
}

// IssueStrings renders issues for persistence in the audit trail.
func IssueStrings(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, string(i))
	}
	return out
}

// Verifiers dispatches by the order's payment provider tag.
type Verifiers map[models.PaymentProvider]Verifier

func (vs Verifiers) For(p models.PaymentProvider) (Verifier, error) {
	v, ok := vs[p]
	if !ok || v == nil {
		return nil, fmt.Errorf("no verifier registered for provider %q", p)
	}
	return v, nil
}
