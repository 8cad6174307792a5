package chain

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testRegistry  = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
)

func addrTopic(addr string) string {
	return "0x000000000000000000000000" + addr[2:]
}

func idTopic(n int64) string {
	return fmt.Sprintf("0x%064x", big.NewInt(n))
}

func transferLog(contract, from, to string, tokenID int64) Log {
	return Log{
		Address: contract,
		Topics:  []string{transferTopic, addrTopic(from), addrTopic(to), idTopic(tokenID)},
	}
}

func TestExtractTokenIDMatchesAmongUnrelatedLogs(t *testing.T) {
	t.Parallel()

	zero := "0x0000000000000000000000000000000000000000"
	logs := []Log{
		// Transfer on a different contract.
		transferLog("0x3333333333333333333333333333333333333333", zero, testRecipient, 7),
		// Transfer on the registry to someone else.
		transferLog(testRegistry, zero, "0x4444444444444444444444444444444444444444", 8),
		// Non-transfer event on the registry.
		{Address: testRegistry, Topics: []string{"0xdead", addrTopic(testRecipient)}},
		// The one we want.
		transferLog(testRegistry, zero, testRecipient, 42),
	}

	id, found, ambiguous := ExtractTokenID(logs, testRegistry, testRecipient)
	require.True(t, found)
	require.False(t, ambiguous)
	require.Equal(t, "42", id)
}

func TestExtractTokenIDCaseInsensitive(t *testing.T) {
	t.Parallel()

	zero := "0x0000000000000000000000000000000000000000"
	logs := []Log{transferLog("0xAAAABBBBCCCCDDDDEEEEFFFF0000111122223333", zero, "0xABCDEF0123456789ABCDEF0123456789ABCDEF01", 5)}

	id, found, _ := ExtractTokenID(logs,
		"0xaaaabbbbccccddddeeeeffff0000111122223333",
		"0xabcdef0123456789abcdef0123456789abcdef01")
	require.True(t, found)
	require.Equal(t, "5", id)
}

func TestExtractTokenIDNotFound(t *testing.T) {
	t.Parallel()

	_, found, _ := ExtractTokenID(nil, testRegistry, testRecipient)
	require.False(t, found)

	logs := []Log{transferLog(testRegistry, testRecipient, "0x5555555555555555555555555555555555555555", 3)}
	_, found, _ = ExtractTokenID(logs, testRegistry, testRecipient)
	require.False(t, found)
}

func TestExtractTokenIDAmbiguousFirstWins(t *testing.T) {
	t.Parallel()

	zero := "0x0000000000000000000000000000000000000000"
	logs := []Log{
		transferLog(testRegistry, zero, testRecipient, 10),
		transferLog(testRegistry, zero, testRecipient, 11),
	}

	id, found, ambiguous := ExtractTokenID(logs, testRegistry, testRecipient)
	require.True(t, found)
	require.True(t, ambiguous)
	require.Equal(t, "10", id)
}
