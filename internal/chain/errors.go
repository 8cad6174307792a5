package chain

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrNotConfigured marks a missing RPC endpoint, registry address, or signer
// credential. Never retried; the order keeps its prior status so operators
// can fix the deployment and re-trigger.
var ErrNotConfigured = errors.New("chain is not configured")

// ErrReverted marks a mined transaction whose receipt status is 0. Fatal for
// the attempt: resubmitting identical parameters would revert again.
var ErrReverted = errors.New("transaction reverted on chain")

// ErrConfirmTimeout marks a receipt wait that gave up before the transaction
// was mined. Retryable; the possession check on the next attempt catches a
// late-landing grant.
var ErrConfirmTimeout = errors.New("timed out waiting for confirmation")

// IsRetryable classifies an executor error for the backoff loop. Transient
// node trouble (timeouts, nonce races, rate limits, transport failures)
// retries; configuration errors, reverts, signer auth failures, and
// malformed calldata abort.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrReverted):
		return false
	case errors.Is(err, ErrConfirmTimeout):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var signerErr *SignerError
	if errors.As(err, &signerErr) {
		// Auth and validation failures will not heal on their own.
		return signerErr.Status >= 500 || signerErr.Status == http.StatusTooManyRequests
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == http.StatusTooManyRequests
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		switch {
		case strings.Contains(msg, "nonce too low"),
			strings.Contains(msg, "replacement transaction"),
			strings.Contains(msg, "already known"):
			// Nonce races: the fresh nonce fetch on the next attempt
			// resolves these.
			return true
		case strings.Contains(msg, "limit exceeded"),
			strings.Contains(msg, "rate limit"),
			strings.Contains(msg, "too many requests"),
			strings.Contains(msg, "timeout"):
			return true
		}
		return false
	}

	// Unrecognized errors here are almost always transport-level (dial
	// failures, closed connections) and worth another attempt.
	return true
}
