package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/config"
	"gorm.io/gorm"
)

type UpsertRequest struct {
	Year       int
	CO2PerTree decimal.Decimal
}

// ChangeHook runs inside the transaction that stores a new rate for year. An
// error rolls the rate back. A non-nil after runs once the change commits.
type ChangeHook func(ctx context.Context, tx *gorm.DB, year int) (after func(), err error)

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, year int) (*ConversionRate, error)
	List(ctx context.Context, db *gorm.DB) ([]ConversionRate, error)
	Upsert(ctx context.Context, db *gorm.DB, rate *ConversionRate) error
	InsertIfMissing(ctx context.Context, db *gorm.DB, rate *ConversionRate) (bool, error)
}

type Service interface {
	Get(ctx context.Context, year int) (*ConversionRate, error)
	// GetTx reads the rate inside the caller's transaction.
	GetTx(ctx context.Context, tx *gorm.DB, year int) (*ConversionRate, error)
	List(ctx context.Context, actor authorization.Actor) ([]ConversionRate, error)
	Upsert(ctx context.Context, actor authorization.Actor, req UpsertRequest) (*ConversionRate, error)
	// OnChange registers a hook run by every Upsert.
	OnChange(hook ChangeHook)
	// ProvisionDefaults seeds configured years that have no row yet. Existing
	// rows are never overwritten.
	ProvisionDefaults(ctx context.Context, cfg config.RatesConfig, years ...int) (int, error)
}

var (
	ErrConversionRateNotFound = errors.New("conversion_rate_not_found")
	ErrInvalidYear            = errors.New("invalid_year")
	ErrInvalidCO2PerTree      = errors.New("invalid_co2_per_tree")
)

const (
	MinYear = 1900
	MaxYear = 9999
)

func ValidYear(year int) bool {
	return year >= MinYear && year <= MaxYear
}
