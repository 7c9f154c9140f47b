package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carbonledger/internal/verification/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, v *domain.PlantingVerification) error {
	return db.WithContext(ctx).Create(v).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PlantingVerification, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PlantingVerification, error) {
	return first(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (r *repo) FindByTransaction(ctx context.Context, db *gorm.DB, transactionID snowflake.ID) (*domain.PlantingVerification, error) {
	return first(db.WithContext(ctx).Where("transaction_id = ?", transactionID))
}

func (r *repo) UpdateDecision(ctx context.Context, db *gorm.DB, v *domain.PlantingVerification) error {
	return db.WithContext(ctx).
		Model(&domain.PlantingVerification{}).
		Where("id = ?", v.ID).
		Updates(map[string]any{
			"outcome":          v.Outcome,
			"is_verified":      v.IsVerified,
			"approved_by":      v.ApprovedBy,
			"approved_at":      v.ApprovedAt,
			"rejected_by":      v.RejectedBy,
			"rejected_at":      v.RejectedAt,
			"rejection_reason": v.RejectionReason,
			"updated_at":       v.UpdatedAt,
		}).Error
}

func first(stmt *gorm.DB) (*domain.PlantingVerification, error) {
	var v domain.PlantingVerification
	if err := stmt.First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}
