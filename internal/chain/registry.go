package chain

import (
	"context"
	"fmt"
	"math/big"
)

// Registry wraps the narrow call surface of the on-chain key registry
// contract: possession checks, the grant call, and ownership enumeration.
type Registry struct {
	RPC     RPC
	Address string
}

// RPC is the subset of the node client the registry and executor need.
type RPC interface {
	CallContract(ctx context.Context, to string, data []byte) ([]byte, error)
	PendingNonce(ctx context.Context, addr string) (uint64, error)
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
	TransactionReceipt(ctx context.Context, hash string) (*Receipt, error)
}

// HasValidKey reports whether owner currently holds an unexpired key.
func (r Registry) HasValidKey(ctx context.Context, owner string) (bool, error) {
	arg, err := encodeAddress(owner)
	if err != nil {
		return false, err
	}
	data := append(selector("getHasValidKey(address)"), arg...)
	out, err := r.RPC.CallContract(ctx, r.Address, data)
	if err != nil {
		return false, err
	}
	return decodeBool(out)
}

// GrantKeyCalldata builds the grantKey(recipient, expiration, keyManager)
// payload.
func GrantKeyCalldata(recipient string, expiration *big.Int, keyManager string) ([]byte, error) {
	rec, err := encodeAddress(recipient)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	exp, err := encodeUint256(expiration)
	if err != nil {
		return nil, fmt.Errorf("expiration: %w", err)
	}
	mgr, err := encodeAddress(keyManager)
	if err != nil {
		return nil, fmt.Errorf("key manager: %w", err)
	}
	data := selector("grantKey(address,uint256,address)")
	data = append(data, rec...)
	data = append(data, exp...)
	data = append(data, mgr...)
	return data, nil
}

// AppendReferralTag suffixes an extra ABI word carrying the referrer address
// to already-built calldata. The contract ignores trailing calldata, so the
// tag only exists for off-chain attribution tooling. Callers treat a tagging
// error as non-fatal.
func AppendReferralTag(calldata []byte, referrer string) ([]byte, error) {
	if referrer == "" {
		return calldata, nil
	}
	tag, err := encodeAddress(referrer)
	if err != nil {
		return nil, fmt.Errorf("referral tag: %w", err)
	}
	return append(calldata, tag...), nil
}

// BalanceOf returns how many keys owner holds on the registry.
func (r Registry) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	arg, err := encodeAddress(owner)
	if err != nil {
		return nil, err
	}
	data := append(selector("balanceOf(address)"), arg...)
	out, err := r.RPC.CallContract(ctx, r.Address, data)
	if err != nil {
		return nil, err
	}
	return decodeUint256(out)
}

// TokenOfOwnerByIndex enumerates owner's keys; used to backfill a token id
// when log extraction after the grant came up empty.
func (r Registry) TokenOfOwnerByIndex(ctx context.Context, owner string, index int64) (string, error) {
	arg, err := encodeAddress(owner)
	if err != nil {
		return "", err
	}
	idx, err := encodeUint256(big.NewInt(index))
	if err != nil {
		return "", err
	}
	data := selector("tokenOfOwnerByIndex(address,uint256)")
	data = append(data, arg...)
	data = append(data, idx...)
	out, err := r.RPC.CallContract(ctx, r.Address, data)
	if err != nil {
		return "", err
	}
	v, err := decodeUint256(out)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}
