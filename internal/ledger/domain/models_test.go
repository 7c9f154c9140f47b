package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		approved, required int64
		want               LedgerStatus
	}{
		{0, 10, LedgerStatusUnpaid},
		{5, 10, LedgerStatusPartiallyPaid},
		{10, 10, LedgerStatusCleared},
		{12, 10, LedgerStatusCleared},
		{0, 0, LedgerStatusUnpaid},
		{1, 0, LedgerStatusCleared},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveStatus(tc.approved, tc.required), "approved=%d required=%d", tc.approved, tc.required)
	}
}

func TestRecomputeResultStatusChanged(t *testing.T) {
	ledger := &CarbonLedger{Status: LedgerStatusCleared}
	assert.True(t, RecomputeResult{Ledger: ledger, PreviousStatus: LedgerStatusUnpaid}.StatusChanged())
	assert.False(t, RecomputeResult{Ledger: ledger, PreviousStatus: LedgerStatusCleared}.StatusChanged())
	assert.False(t, RecomputeResult{}.StatusChanged())
}
