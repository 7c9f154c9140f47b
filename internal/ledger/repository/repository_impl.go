package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertUsage(ctx context.Context, db *gorm.DB, usage *domain.UsageRecord) error {
	return db.WithContext(ctx).Create(usage).Error
}

func (r *repo) InsertLedger(ctx context.Context, db *gorm.DB, ledger *domain.CarbonLedger) error {
	return db.WithContext(ctx).Create(ledger).Error
}

// InsertLedgerIfMissing leaves an existing (user_id, year) row untouched.
func (r *repo) InsertLedgerIfMissing(ctx context.Context, db *gorm.DB, ledger *domain.CarbonLedger) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "year"}},
		DoNothing: true,
	}).Create(ledger).Error
}

func (r *repo) FindLedgerByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CarbonLedger, error) {
	return firstLedger(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindLedgerByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CarbonLedger, error) {
	return firstLedger(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) FindLedgerByUserYear(ctx context.Context, db *gorm.DB, userID snowflake.ID, year int) (*domain.CarbonLedger, error) {
	return firstLedger(db.WithContext(ctx).Where("user_id = ? AND year = ?", userID, year))
}

func (r *repo) ListLedgerIDsByYear(ctx context.Context, db *gorm.DB, year int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.CarbonLedger{}).
		Where("year = ?", year).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

// UsageEmissions returns every co2_emitted value for (user, year). Summing
// happens in decimal arithmetic, not in SQL.
func (r *repo) UsageEmissions(ctx context.Context, db *gorm.DB, userID snowflake.ID, year int) ([]decimal.Decimal, error) {
	var values []decimal.Decimal
	err := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("user_id = ? AND year = ?", userID, year).
		Pluck("co2_emitted", &values).Error
	return values, err
}

func (r *repo) ApprovedUnits(ctx context.Context, db *gorm.DB, ledgerID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0) FROM offset_transactions WHERE ledger_id = ? AND status = ?`,
		ledgerID, "APPROVED",
	).Scan(&total).Error
	return total, err
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, ledger *domain.CarbonLedger) error {
	return db.WithContext(ctx).
		Model(&domain.CarbonLedger{}).
		Where("id = ?", ledger.ID).
		Updates(map[string]any{
			"total_co2_tonnes":      ledger.TotalCO2Tonnes,
			"required_offset_units": ledger.RequiredOffsetUnits,
			"status":                ledger.Status,
			"updated_at":            ledger.UpdatedAt,
		}).Error
}

type breakdownRow struct {
	UsageType string
	Amount    decimal.Decimal
	CO2       decimal.Decimal
}

func (r *repo) UsageBreakdown(ctx context.Context, db *gorm.DB, userID *snowflake.ID, year *int) ([]domain.UsageBreakdownItem, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Select("usage_type, amount, co2_emitted AS co2")
	if userID != nil {
		stmt = stmt.Where("user_id = ?", *userID)
	}
	if year != nil {
		stmt = stmt.Where("year = ?", *year)
	}

	var rows []breakdownRow
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, err
	}

	index := make(map[string]int)
	items := make([]domain.UsageBreakdownItem, 0)
	for _, row := range rows {
		i, ok := index[row.UsageType]
		if !ok {
			i = len(items)
			index[row.UsageType] = i
			items = append(items, domain.UsageBreakdownItem{
				UsageType:   domain.UsageType(row.UsageType),
				TotalAmount: decimal.Zero,
				TotalCO2:    decimal.Zero,
			})
		}
		items[i].Records++
		items[i].TotalAmount = items[i].TotalAmount.Add(row.Amount)
		items[i].TotalCO2 = items[i].TotalCO2.Add(row.CO2)
	}
	return items, nil
}

type statusCount struct {
	Status string
	Total  int64
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, year *int) (*domain.Stats, error) {
	stats := &domain.Stats{
		Year:            year,
		LedgersByStatus: map[domain.LedgerStatus]int64{},
		TotalCO2Tonnes:  decimal.Zero,
	}

	ledgers := db.WithContext(ctx).Model(&domain.CarbonLedger{})
	if year != nil {
		ledgers = ledgers.Where("year = ?", *year)
	}

	var totals []decimal.Decimal
	if err := ledgers.Session(&gorm.Session{}).Pluck("total_co2_tonnes", &totals).Error; err != nil {
		return nil, err
	}
	for _, total := range totals {
		stats.TotalCO2Tonnes = stats.TotalCO2Tonnes.Add(total)
	}

	var required int64
	if err := ledgers.Session(&gorm.Session{}).
		Select("COALESCE(SUM(required_offset_units), 0)").
		Scan(&required).Error; err != nil {
		return nil, err
	}
	stats.RequiredOffsetUnits = required

	var counts []statusCount
	if err := ledgers.Session(&gorm.Session{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.LedgersByStatus[domain.LedgerStatus(c.Status)] = c.Total
		stats.Ledgers += c.Total
	}

	yearFilter := ""
	args := []any{}
	if year != nil {
		yearFilter = " AND ledger_id IN (SELECT id FROM carbon_ledgers WHERE year = ?)"
		args = append(args, *year)
	}

	if err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0) FROM offset_transactions WHERE status = 'APPROVED'`+yearFilter, args...,
	).Scan(&stats.ApprovedOffsetUnits).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM offset_transactions WHERE status = 'PENDING'`+yearFilter, args...,
	).Scan(&stats.PendingTransactions).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM planting_verifications WHERE outcome = 'SUBMITTED'`+
			pendingVerificationFilter(year != nil), args...,
	).Scan(&stats.PendingVerifications).Error; err != nil {
		return nil, err
	}

	return stats, nil
}

func pendingVerificationFilter(byYear bool) string {
	if !byYear {
		return ""
	}
	return ` AND transaction_id IN (SELECT t.id FROM offset_transactions t JOIN carbon_ledgers l ON l.id = t.ledger_id WHERE l.year = ?)`
}

func firstLedger(stmt *gorm.DB) (*domain.CarbonLedger, error) {
	var ledger domain.CarbonLedger
	if err := stmt.First(&ledger).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ledger, nil
}
