package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionRate is the CO2 capacity of one offset unit (a tree) for a year.
type ConversionRate struct {
	Year       int             `gorm:"primaryKey;autoIncrement:false" json:"year"`
	CO2PerTree decimal.Decimal `gorm:"column:co2_per_tree;type:numeric(14,6);not null" json:"co2_per_tree"`
	UpdatedBy  string          `gorm:"type:text;not null;default:'system'" json:"updated_by"`
	UpdatedAt  time.Time       `gorm:"not null" json:"updated_at"`
}

func (ConversionRate) TableName() string { return "conversion_rates" }
