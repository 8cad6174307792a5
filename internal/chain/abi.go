package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ERC-721 Transfer(address,address,uint256), computed once at init so a typo
// in the literal cannot drift from the hashed form.
var transferTopic = "0x" + hex.EncodeToString(keccak([]byte("Transfer(address,address,uint256)")))

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// selector returns the 4-byte function selector for a canonical signature
// like "grantKey(address,uint256,address)".
func selector(signature string) []byte {
	return keccak([]byte(signature))[:4]
}

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

// encodeAddress left-pads a 20-byte address to one 32-byte ABI word.
func encodeAddress(addr string) ([]byte, error) {
	if !IsHexAddress(addr) {
		return nil, fmt.Errorf("invalid address %q", addr)
	}
	raw, _ := hex.DecodeString(addr[2:])
	word := make([]byte, 32)
	copy(word[12:], raw)
	return word, nil
}

func encodeUint256(v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 || v.BitLen() > 256 {
		return nil, errors.New("value out of uint256 range")
	}
	word := make([]byte, 32)
	v.FillBytes(word)
	return word, nil
}

func decodeBool(word []byte) (bool, error) {
	if len(word) < 32 {
		return false, fmt.Errorf("short abi word (%d bytes)", len(word))
	}
	for _, b := range word[:31] {
		if b != 0 {
			return false, errors.New("malformed bool word")
		}
	}
	return word[31] == 1, nil
}

func decodeUint256(word []byte) (*big.Int, error) {
	if len(word) < 32 {
		return nil, fmt.Errorf("short abi word (%d bytes)", len(word))
	}
	return new(big.Int).SetBytes(word[:32]), nil
}

// topicAddress recovers the hex address encoded in a 32-byte log topic.
func topicAddress(topic string) (string, error) {
	raw, err := decodeHexBytes(topic)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("topic is %d bytes, want 32", len(raw))
	}
	return "0x" + hex.EncodeToString(raw[12:]), nil
}

// topicUint256 decodes a 32-byte log topic as a decimal token identifier.
func topicUint256(topic string) (string, error) {
	raw, err := decodeHexBytes(topic)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("topic is %d bytes, want 32", len(raw))
	}
	return new(big.Int).SetBytes(raw).String(), nil
}

func encodeHexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func decodeHexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func parseHexInt64(s string) (int64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, errors.New("empty hex quantity")
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0, fmt.Errorf("bad hex quantity %q", s)
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("hex quantity %q overflows int64", s)
	}
	return v.Int64(), nil
}

func parseHexBig(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("bad hex quantity %q", s)
	}
	return v, nil
}
