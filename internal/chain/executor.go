package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"keygate/internal/retry"
)

// ErrInvalidGrant marks calldata that cannot be built from the order's
// recipient or key-manager fields. Non-retryable and unrecoverable.
var ErrInvalidGrant = errors.New("invalid grant parameters")

// TxSigner abstracts the custodial signing service.
type TxSigner interface {
	Sign(ctx context.Context, req SignRequest) (string, error)
	Address() string
}

// GrantRequest is one issuance the executor should make true on chain.
type GrantRequest struct {
	Recipient  string
	KeyManager string
	// KnownTxHash carries a previously recorded grant transaction so the
	// already-holds-key short circuit can return it.
	KnownTxHash string
}

// GrantResult reports the transaction that satisfied the grant.
type GrantResult struct {
	TxHash      string
	AlreadyHeld bool
	// Receipt is nil when the recipient already held a valid key and no new
	// transaction was submitted.
	Receipt *Receipt
}

// Executor drives the on-chain half of the issuance pipeline: possession
// check, grant submission through the custodial signer, and confirmation
// wait, with bounded retries around the submit/confirm steps.
type Executor struct {
	RPC         RPC
	Signer      TxSigner
	ChainID     int64
	Registry    string
	KeyDuration time.Duration
	ReferralTag string
	Retry       retry.Policy

	ConfirmTimeout time.Duration
	ConfirmPoll    time.Duration
	// WSEndpoint, when set, wakes the confirmation wait on each new block.
	WSEndpoint string

	Logger *zap.Logger
	// Observe, when set, receives pipeline events for the audit trail.
	Observe func(event string, meta map[string]any)

	// now is overridable in tests.
	now func() time.Time
}

func (e *Executor) observe(event string, meta map[string]any) {
	if e.Observe != nil {
		e.Observe(event, meta)
	}
}

func (e *Executor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now().UTC()
}

func (e *Executor) checkConfigured() error {
	switch {
	case e.RPC == nil:
		return fmt.Errorf("%w: missing rpc endpoint", ErrNotConfigured)
	case e.Registry == "":
		return fmt.Errorf("%w: missing registry address", ErrNotConfigured)
	case e.Signer == nil || e.Signer.Address() == "":
		return fmt.Errorf("%w: missing signer credential", ErrNotConfigured)
	case e.ChainID <= 0:
		return fmt.Errorf("%w: missing chain id", ErrNotConfigured)
	}
	return nil
}

// Execute grants a key to req.Recipient unless one is already held. The
// possession check fails open: when the query itself errors the executor
// assumes no key and proceeds, since a duplicate grant is prevented by the
// registry while a skipped grant would strand a paid order.
func (e *Executor) Execute(ctx context.Context, req GrantRequest) (*GrantResult, error) {
	if err := e.checkConfigured(); err != nil {
		return nil, err
	}

	registry := Registry{RPC: e.RPC, Address: e.Registry}
	held, err := registry.HasValidKey(ctx, req.Recipient)
	if err != nil {
		e.logger().Warn("possession check failed, assuming no key",
			zap.String("recipient", req.Recipient), zap.Error(err))
		e.observe("possession_check_failed", map[string]any{"error": err.Error()})
		held = false
	}
	if held {
		e.observe("already_holds_key", map[string]any{"recipient": req.Recipient})
		return &GrantResult{TxHash: req.KnownTxHash, AlreadyHeld: true}, nil
	}

	expiration := big.NewInt(e.clock().Add(e.KeyDuration).Unix())
	calldata, err := GrantKeyCalldata(req.Recipient, expiration, req.KeyManager)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrant, err)
	}
	if tagged, err := AppendReferralTag(calldata, e.ReferralTag); err != nil {
		// Tagging is attribution-only and must never block issuance.
		e.logger().Warn("referral tag skipped", zap.Error(err))
	} else {
		calldata = tagged
	}

	var result *GrantResult
	err = retry.Do(ctx, e.Retry, IsRetryable, func(ctx context.Context, attempt int) error {
		r, err := e.submitAndConfirm(ctx, calldata, attempt)
		if err != nil {
			e.logger().Warn("grant attempt failed",
				zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) submitAndConfirm(ctx context.Context, calldata []byte, attempt int) (*GrantResult, error) {
	// A stale nonce after a previous attempt's tx was actually accepted
	// would double-spend the slot, so it is never cached across attempts.
	nonce, err := e.RPC.PendingNonce(ctx, e.Signer.Address())
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}

	rawTx, err := e.Signer.Sign(ctx, SignRequest{
		ChainID: e.ChainID,
		To:      e.Registry,
		Nonce:   nonce,
		Data:    encodeHexBytes(calldata),
	})
	if err != nil {
		return nil, fmt.Errorf("sign grant: %w", err)
	}

	txHash, err := e.RPC.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return nil, fmt.Errorf("submit grant: %w", err)
	}
	e.observe("grant_submitted", map[string]any{"txHash": txHash, "attempt": attempt, "nonce": nonce})

	receipt, err := e.waitReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != 1 {
		e.observe("grant_reverted", map[string]any{"txHash": txHash})
		return nil, fmt.Errorf("%w: tx %s", ErrReverted, txHash)
	}
	e.observe("grant_confirmed", map[string]any{"txHash": txHash, "block": receipt.BlockNumber})
	return &GrantResult{TxHash: txHash, Receipt: receipt}, nil
}

// waitReceipt polls for the receipt until ConfirmTimeout. Once a tx has been
// submitted the pipeline always waits here rather than abandoning it: an
// orphaned in-flight tx retried blindly could double-grant.
func (e *Executor) waitReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	timeout := e.ConfirmTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	poll := e.ConfirmPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wake := e.headWake(waitCtx)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		receipt, err := e.RPC.TransactionReceipt(waitCtx, txHash)
		if err != nil {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}
		if receipt != nil {
			return receipt, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: tx %s after %s", ErrConfirmTimeout, txHash, timeout)
		case <-ticker.C:
		case <-wake:
		}
	}
}

// headWake returns a channel that fires on each new block, or a never-firing
// channel when no websocket endpoint is configured or the subscription
// fails. Pure wake-up optimization over the poll ticker.
func (e *Executor) headWake(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	if e.WSEndpoint == "" {
		return ch
	}

	client := NewHeadsClient(e.WSEndpoint)
	if err := client.Connect(ctx); err != nil {
		e.logger().Debug("heads subscription unavailable", zap.Error(err))
		return ch
	}
	if err := client.Subscribe(ctx); err != nil {
		e.logger().Debug("heads subscribe failed", zap.Error(err))
		client.Close()
		return ch
	}

	// A read blocked on a dead connection never observes ctx on its own;
	// closing the conn from here unblocks it when the wait ends.
	go func() {
		<-ctx.Done()
		client.Close()
	}()

	go func() {
		defer client.Close()
		for {
			if ctx.Err() != nil {
				return
			}
			msg, err := client.Read(ctx)
			if err != nil {
				return
			}
			if _, ok, err := ParseHead(msg); err != nil || !ok {
				continue
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}()
	return ch
}
