package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/emission"
)

type UsageType = emission.UsageType

const (
	UsageRideHailing    = emission.UsageRideHailing
	UsageTransit        = emission.UsageTransit
	UsageUtilityBilling = emission.UsageUtilityBilling
	UsagePrivateCar     = emission.UsagePrivateCar
	UsageOther          = emission.UsageOther
)

type LedgerStatus string

const (
	LedgerStatusUnpaid        LedgerStatus = "UNPAID"
	LedgerStatusPartiallyPaid LedgerStatus = "PARTIALLY_PAID"
	LedgerStatusCleared       LedgerStatus = "CLEARED"
)

// UsageRecord is one immutable measurement of activity.
type UsageRecord struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	UserID      snowflake.ID    `gorm:"not null;index:idx_usage_records_user_year,priority:1" json:"user_id,string"`
	Year        int             `gorm:"not null;index:idx_usage_records_user_year,priority:2" json:"year"`
	Date        time.Time       `gorm:"type:date;not null" json:"date"`
	UsageType   UsageType       `gorm:"type:text;not null" json:"usage_type"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,6);not null" json:"amount"`
	CO2Emitted  decimal.Decimal `gorm:"column:co2_emitted;type:numeric(27,13);not null" json:"co2_emitted"`
	Description string          `gorm:"type:text;not null;default:''" json:"description"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
}

func (UsageRecord) TableName() string { return "usage_records" }

// CarbonLedger is the per-user, per-year carbon debt. Totals and status are
// derived from usage records and approved transactions.
type CarbonLedger struct {
	ID                  snowflake.ID    `gorm:"primaryKey" json:"id,string"`
	UserID              snowflake.ID    `gorm:"not null;uniqueIndex:ux_carbon_ledgers_user_year,priority:1" json:"user_id,string"`
	Year                int             `gorm:"not null;uniqueIndex:ux_carbon_ledgers_user_year,priority:2" json:"year"`
	TotalCO2Tonnes      decimal.Decimal `gorm:"column:total_co2_tonnes;type:numeric(27,13);not null;default:0" json:"total_co2_tonnes"`
	RequiredOffsetUnits int64           `gorm:"not null;default:0" json:"required_offset_units"`
	Status              LedgerStatus    `gorm:"type:text;not null;default:'UNPAID';index" json:"status"`
	CreatedAt           time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"not null" json:"updated_at"`
}

func (CarbonLedger) TableName() string { return "carbon_ledgers" }

// DeriveStatus maps approved units against required units.
func DeriveStatus(approved, required int64) LedgerStatus {
	switch {
	case approved <= 0:
		return LedgerStatusUnpaid
	case approved >= required:
		return LedgerStatusCleared
	default:
		return LedgerStatusPartiallyPaid
	}
}
