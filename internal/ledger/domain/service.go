package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/pkg/db/pagination"
	"gorm.io/gorm"
)

type RecordUsageRequest struct {
	Actor       authorization.Actor
	UserID      snowflake.ID
	Date        time.Time
	UsageType   UsageType
	Amount      decimal.Decimal
	Description string
}

type RecordUsageResult struct {
	Usage  *UsageRecord    `json:"usage"`
	Ledger *CarbonLedger   `json:"ledger"`
	Change RecomputeResult `json:"-"`
}

// RecomputeResult reports the ledger after a recompute and its prior status.
type RecomputeResult struct {
	Ledger         *CarbonLedger
	PreviousStatus LedgerStatus
	ApprovedUnits  int64
}

func (r RecomputeResult) StatusChanged() bool {
	return r.Ledger != nil && r.PreviousStatus != r.Ledger.Status
}

type ListLedgersRequest struct {
	pagination.Pagination
	Actor  authorization.Actor
	UserID *snowflake.ID
	Year   *int
	Status LedgerStatus
}

type ListLedgersResponse struct {
	pagination.PageInfo
	Ledgers []CarbonLedger `json:"ledgers"`
}

type ListUsageRequest struct {
	pagination.Pagination
	Actor     authorization.Actor
	UserID    *snowflake.ID
	Year      *int
	UsageType UsageType
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

type UsageBreakdownRequest struct {
	Actor  authorization.Actor
	UserID *snowflake.ID
	Year   *int
}

type UsageBreakdownItem struct {
	UsageType   UsageType       `json:"usage_type"`
	Records     int64           `json:"records"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalCO2    decimal.Decimal `json:"total_co2_tonnes"`
}

type Stats struct {
	Year                 *int                   `json:"year,omitempty"`
	Ledgers              int64                  `json:"ledgers"`
	LedgersByStatus      map[LedgerStatus]int64 `json:"ledgers_by_status"`
	TotalCO2Tonnes       decimal.Decimal        `json:"total_co2_tonnes"`
	RequiredOffsetUnits  int64                  `json:"required_offset_units"`
	ApprovedOffsetUnits  int64                  `json:"approved_offset_units"`
	PendingTransactions  int64                  `json:"pending_transactions"`
	PendingVerifications int64                  `json:"pending_verifications"`
}

type Repository interface {
	InsertUsage(ctx context.Context, db *gorm.DB, usage *UsageRecord) error
	InsertLedger(ctx context.Context, db *gorm.DB, ledger *CarbonLedger) error
	InsertLedgerIfMissing(ctx context.Context, db *gorm.DB, ledger *CarbonLedger) error
	FindLedgerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CarbonLedger, error)
	FindLedgerByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CarbonLedger, error)
	FindLedgerByUserYear(ctx context.Context, db *gorm.DB, userID snowflake.ID, year int) (*CarbonLedger, error)
	ListLedgerIDsByYear(ctx context.Context, db *gorm.DB, year int) ([]snowflake.ID, error)
	UsageEmissions(ctx context.Context, db *gorm.DB, userID snowflake.ID, year int) ([]decimal.Decimal, error)
	ApprovedUnits(ctx context.Context, db *gorm.DB, ledgerID snowflake.ID) (int64, error)
	UpdateTotals(ctx context.Context, db *gorm.DB, ledger *CarbonLedger) error
	UsageBreakdown(ctx context.Context, db *gorm.DB, userID *snowflake.ID, year *int) ([]UsageBreakdownItem, error)
	Stats(ctx context.Context, db *gorm.DB, year *int) (*Stats, error)
}

type Service interface {
	// RecordUsage stores the usage and recomputes its ledger in one transaction.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*RecordUsageResult, error)
	GetOrCreateLedger(ctx context.Context, userID snowflake.ID, year int) (*CarbonLedger, error)
	CreateLedger(ctx context.Context, userID snowflake.ID, year int) (*CarbonLedger, error)
	GetLedger(ctx context.Context, id snowflake.ID) (*CarbonLedger, error)
	GetLedgerForYear(ctx context.Context, userID snowflake.ID, year int) (*CarbonLedger, error)
	ListLedgers(ctx context.Context, req ListLedgersRequest) (ListLedgersResponse, error)
	// Recompute re-derives totals and status inside the caller's transaction.
	Recompute(ctx context.Context, tx *gorm.DB, ledgerID snowflake.ID) (*RecomputeResult, error)
	// RecomputeYear recomputes every ledger of year, each in its own transaction.
	RecomputeYear(ctx context.Context, year int) ([]RecomputeResult, error)
	// RecomputeYearTx recomputes every ledger of year inside the caller's
	// transaction.
	RecomputeYearTx(ctx context.Context, tx *gorm.DB, year int) ([]RecomputeResult, error)
	ListUsage(ctx context.Context, req ListUsageRequest) (ListUsageResponse, error)
	UsageBreakdown(ctx context.Context, req UsageBreakdownRequest) ([]UsageBreakdownItem, error)
	Stats(ctx context.Context, year *int) (*Stats, error)
	// PublishStatusChange announces a committed status transition.
	PublishStatusChange(ctx context.Context, result RecomputeResult)
}

var (
	ErrLedgerNotFound   = errors.New("ledger_not_found")
	ErrLedgerExists     = errors.New("ledger_already_exists")
	ErrInvalidUser      = errors.New("invalid_user")
	ErrInvalidYear      = errors.New("invalid_year")
	ErrInvalidDate      = errors.New("invalid_date")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidUsageType = errors.New("invalid_usage_type")
	ErrInvalidStatus    = errors.New("invalid_status")
)
