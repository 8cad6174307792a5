package payments

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckPassesOnExactMatch(t *testing.T) {
	t.Parallel()

	v := Verification{Status: StatusSucceeded, AmountMinor: 50000, Currency: "usd"}
	require.Empty(t, Check(v, 50000, "USD"))
}

func TestCheckReportsEveryMismatch(t *testing.T) {
	t.Parallel()

	v := Verification{Status: StatusPending, AmountMinor: 40000, Currency: "EUR"}
	issues := Check(v, 50000, "USD")
	require.ElementsMatch(t, []Issue{
		IssueStatusNotSuccess,
		IssueAmountMismatch,
		IssueCurrencyMismatch,
	}, issues)
}

func TestCheckAmountMismatchAlone(t *testing.T) {
	t.Parallel()

	v := Verification{Status: StatusSucceeded, AmountMinor: 40000, Currency: "USD"}
	issues := Check(v, 50000, "USD")
	require.Equal(t, []Issue{IssueAmountMismatch}, issues)
}

func TestVerifiersForUnknownProvider(t *testing.T) {
	t.Parallel()

	vs := Verifiers{}
	_, err := vs.For("gateway")
	require.Error(t, err)
}

func TestIssueStrings(t *testing.T) {
	t.Parallel()

	got := IssueStrings([]Issue{IssueAmountMismatch, IssueCurrencyMismatch})
	require.Equal(t, []string{"amount_mismatch", "currency_mismatch"}, got)
}
