package payments

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"keygate/internal/chain"
)

var gweiPerWei = big.NewInt(1_000_000_000)

type paymentChain interface {
	TransactionByHash(ctx context.Context, hash string) (*chain.PaymentTx, error)
	TransactionReceipt(ctx context.Context, hash string) (*chain.Receipt, error)
}

// OnChainVerifier treats the payment reference as a transfer transaction
// hash and checks it moved the expected value to the platform treasury.
// Minor units for the native currency are gwei.
type OnChainVerifier struct {
	RPC      paymentChain
	Treasury string
	Currency string
}

func (v *OnChainVerifier) VerifyTransaction(ctx context.Context, reference string) (Verification, error) {
	tx, err := v.RPC.TransactionByHash(ctx, reference)
	if err != nil {
		return Verification{}, fmt.Errorf("onchain: fetch payment tx: %w", err)
	}
	if tx == nil {
		// Unknown hash: the claimed payment does not exist.
		return Verification{Status: StatusFailed, Currency: v.Currency}, nil
	}
	if !tx.Mined {
		return Verification{Status: StatusPending, Currency: v.Currency}, nil
	}

	receipt, err := v.RPC.TransactionReceipt(ctx, reference)
	if err != nil {
		return Verification{}, fmt.Errorf("onchain: fetch payment receipt: %w", err)
	}

	status := StatusSucceeded
	if receipt == nil || receipt.Status != 1 {
		status = StatusFailed
	}
	if !strings.EqualFold(tx.To, v.Treasury) {
		// Paid, but not to us.
		status = StatusFailed
	}

	amountGwei := new(big.Int).Quo(tx.ValueWei, gweiPerWei)
	return Verification{
		Status:      status,
		AmountMinor: amountGwei.Int64(),
		Currency:    v.Currency,
	}, nil
}
