package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryableClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not configured", fmt.Errorf("%w: missing rpc endpoint", ErrNotConfigured), false},
		{"reverted", fmt.Errorf("%w: tx 0xabc", ErrReverted), false},
		{"confirm timeout", fmt.Errorf("%w: tx 0xabc", ErrConfirmTimeout), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"signer 401", &SignerError{Status: 401}, false},
		{"signer 429", &SignerError{Status: 429}, true},
		{"signer 503", &SignerError{Status: 503}, true},
		{"http 400", &HTTPError{Status: 400}, false},
		{"http 502", &HTTPError{Status: 502}, true},
		{"rpc nonce too low", &RPCError{Code: -32000, Message: "nonce too low"}, true},
		{"rpc already known", &RPCError{Code: -32000, Message: "already known"}, true},
		{"rpc rate limit", &RPCError{Code: -32005, Message: "rate limit exceeded"}, true},
		{"rpc execution reverted", &RPCError{Code: 3, Message: "execution reverted"}, false},
		{"wrapped rpc", fmt.Errorf("submit grant: %w", &RPCError{Message: "timeout"}), true},
		{"unknown", errors.New("connection reset by peer"), true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsRetryable(tc.err), tc.name)
	}
}
