package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carbonledger/internal/offset/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.OffsetTransaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.OffsetTransaction, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.OffsetTransaction, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, txn *domain.OffsetTransaction) error {
	return db.WithContext(ctx).
		Model(&domain.OffsetTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"status":     txn.Status,
			"updated_at": txn.UpdatedAt,
		}).Error
}

type verificationRow struct {
	IsVerified bool
}

func (r *repo) VerificationState(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (domain.VerificationState, error) {
	var rows []verificationRow
	err := db.WithContext(ctx).Raw(
		`SELECT is_verified FROM planting_verifications WHERE transaction_id = ?`,
		transactionID,
	).Scan(&rows).Error
	if err != nil {
		return domain.VerificationState{}, err
	}
	if len(rows) == 0 {
		return domain.VerificationState{}, nil
	}
	return domain.VerificationState{Exists: true, IsVerified: rows[0].IsVerified}, nil
}

func first(stmt *gorm.DB) (*domain.OffsetTransaction, error) {
	var txn domain.OffsetTransaction
	if err := stmt.First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}
