package certificate

import (
	"bytes"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearedLedger() *ledgerdomain.CarbonLedger {
	return &ledgerdomain.CarbonLedger{
		ID:                  snowflake.ID(42),
		UserID:              snowflake.ID(7),
		Year:                2024,
		TotalCO2Tonnes:      decimal.RequireFromString("0.6"),
		RequiredOffsetUnits: 2,
		Status:              ledgerdomain.LedgerStatusCleared,
		UpdatedAt:           time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRenderProducesPDF(t *testing.T) {
	out, err := Render(Data{
		Ledger:     clearedLedger(),
		CO2PerTree: decimal.RequireFromString("0.5"),
		IssuedAt:   time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRequiresClearedLedger(t *testing.T) {
	ledger := clearedLedger()
	ledger.Status = ledgerdomain.LedgerStatusPartiallyPaid

	_, err := Render(Data{Ledger: ledger})
	assert.ErrorIs(t, err, ErrLedgerNotCleared)

	_, err = Render(Data{})
	assert.ErrorIs(t, err, ErrMissingLedger)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "carbon-offset-2024-42.pdf", FileName(clearedLedger()))
}
