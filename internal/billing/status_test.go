package billing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexledger/lexledger/internal/shared"
)

func TestNormalizeLegacyStatus(t *testing.T) {
	cases := map[string]Status{
		"Draft":          StatusDraft,
		"draft":          StatusDraft,
		"DRAFT":          StatusDraft,
		"Approved":       StatusApproved,
		"Sent":           StatusSent,
		"Partial":        StatusPartiallyPaid,
		"PARTIALLY_PAID": StatusPartiallyPaid,
		"Partially Paid": StatusPartiallyPaid,
		"Paid":           StatusPaid,
		"Overdue":        StatusSent,
		"Cancelled":      StatusCancelled,
		"canceled":       StatusCancelled,
		"Written Off":    StatusWrittenOff,
		"WRITTEN_OFF":    StatusWrittenOff,
		" Sent ":         StatusSent,
	}
	for raw, want := range cases {
		got, err := NormalizeLegacyStatus(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
		require.True(t, got.Valid())
	}

	_, err := NormalizeLegacyStatus("Archived")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParseStatusIsStrict(t *testing.T) {
	s, err := ParseStatus("PARTIALLY_PAID")
	require.NoError(t, err)
	require.Equal(t, StatusPartiallyPaid, s)

	for _, raw := range []string{"Paid", "Overdue", "OVERDUE", ""} {
		_, err := ParseStatus(raw)
		require.ErrorIs(t, err, shared.ErrValidation, raw)
	}
}

func TestOverdueIsNeverAPersistedStatus(t *testing.T) {
	for _, s := range Statuses() {
		require.NotEqual(t, string(DisplayOverdue), string(s))
	}
}

func TestAllowedTransitions(t *testing.T) {
	require.ElementsMatch(t, []Status{StatusApproved, StatusSent, StatusCancelled}, AllowedTransitions(StatusDraft))
	require.ElementsMatch(t, []Status{StatusWrittenOff}, AllowedTransitions(StatusPartiallyPaid))
	require.Empty(t, AllowedTransitions(StatusPaid))
	require.Empty(t, AllowedTransitions(StatusCancelled))
	require.Empty(t, AllowedTransitions(StatusWrittenOff))
	for _, target := range Statuses() {
		require.False(t, CanTransition(StatusSent, target) && (target == StatusPaid || target == StatusPartiallyPaid))
	}
}
