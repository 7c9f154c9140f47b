package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, year int) (*domain.ConversionRate, error) {
	var rate domain.ConversionRate
	err := db.WithContext(ctx).Where("year = ?", year).First(&rate).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rate, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.ConversionRate, error) {
	var rates []domain.ConversionRate
	if err := db.WithContext(ctx).Order("year desc").Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, rate *domain.ConversionRate) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "year"}},
		DoUpdates: clause.AssignmentColumns([]string{"co2_per_tree", "updated_by", "updated_at"}),
	}).Create(rate).Error
}

func (r *repo) InsertIfMissing(ctx context.Context, db *gorm.DB, rate *domain.ConversionRate) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "year"}},
		DoNothing: true,
	}).Create(rate)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
