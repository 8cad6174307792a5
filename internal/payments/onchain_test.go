package payments

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"keygate/internal/chain"
)

const treasury = "0x00000000000000000000000000000000000000aa"

type fakePaymentChain struct {
	tx      *chain.PaymentTx
	receipt *chain.Receipt
}

func (f *fakePaymentChain) TransactionByHash(ctx context.Context, hash string) (*chain.PaymentTx, error) {
	return f.tx, nil
}

func (f *fakePaymentChain) TransactionReceipt(ctx context.Context, hash string) (*chain.Receipt, error) {
	return f.receipt, nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}

func TestOnChainVerifierSuccess(t *testing.T) {
	t.Parallel()

	v := &OnChainVerifier{
		RPC: &fakePaymentChain{
			tx:      &chain.PaymentTx{Hash: "0xabc", To: treasury, ValueWei: gwei(50000), Mined: true},
			receipt: &chain.Receipt{TxHash: "0xabc", Status: 1},
		},
		Treasury: treasury,
		Currency: "ETH",
	}

	got, err := v.VerifyTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, got.Status)
	require.Equal(t, int64(50000), got.AmountMinor)
	require.Equal(t, "ETH", got.Currency)
}

func TestOnChainVerifierUnknownHashFails(t *testing.T) {
	t.Parallel()

	v := &OnChainVerifier{RPC: &fakePaymentChain{}, Treasury: treasury, Currency: "ETH"}
	got, err := v.VerifyTransaction(context.Background(), "0xmissing")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
}

func TestOnChainVerifierUnminedIsPending(t *testing.T) {
	t.Parallel()

	v := &OnChainVerifier{
		RPC:      &fakePaymentChain{tx: &chain.PaymentTx{Hash: "0xabc", To: treasury, ValueWei: gwei(1), Mined: false}},
		Treasury: treasury,
		Currency: "ETH",
	}
	got, err := v.VerifyTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestOnChainVerifierWrongRecipientFails(t *testing.T) {
	t.Parallel()

	v := &OnChainVerifier{
		RPC: &fakePaymentChain{
			tx:      &chain.PaymentTx{Hash: "0xabc", To: "0x00000000000000000000000000000000000000bb", ValueWei: gwei(50000), Mined: true},
			receipt: &chain.Receipt{TxHash: "0xabc", Status: 1},
		},
		Treasury: treasury,
		Currency: "ETH",
	}
	got, err := v.VerifyTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
}

func TestOnChainVerifierRevertedPaymentFails(t *testing.T) {
	t.Parallel()

	v := &OnChainVerifier{
		RPC: &fakePaymentChain{
			tx:      &chain.PaymentTx{Hash: "0xabc", To: treasury, ValueWei: gwei(50000), Mined: true},
			receipt: &chain.Receipt{TxHash: "0xabc", Status: 0},
		},
		Treasury: treasury,
		Currency: "ETH",
	}
	got, err := v.VerifyTransaction(context.Background(), "0xabc")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
}
