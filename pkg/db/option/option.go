// Package option holds composable gorm query modifiers.
package option

import (
	"strconv"
	"time"

	"github.com/smallbiznis/carbonledger/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type optionFunc func(db *gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type QuerySortBy struct {
	Desc bool
}

// WithSortBy orders by created_at then id, matching the keyset cursor.
func WithSortBy(sort QuerySortBy) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "created_at"}, Desc: sort.Desc},
			{Column: clause.Column{Name: "id"}, Desc: sort.Desc},
		}})
	})
}

// ApplyPagination applies keyset pagination over (created_at, id) and fetches
// one extra row so callers can detect a following page.
func ApplyPagination(p pagination.Pagination, desc bool) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB {
		size := pagination.NormalizePageSize(p.PageSize)
		cursor, err := pagination.DecodeCursor(p.PageToken)
		if err != nil {
			_ = db.AddError(err)
			return db
		}
		if cursor != nil {
			createdAt, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			if err != nil {
				_ = db.AddError(pagination.ErrInvalidPageToken)
				return db
			}
			id, err := strconv.ParseInt(cursor.ID, 10, 64)
			if err != nil {
				_ = db.AddError(pagination.ErrInvalidPageToken)
				return db
			}
			if desc {
				db = db.Where("((created_at < ?) OR (created_at = ? AND id < ?))", createdAt, createdAt, id)
			} else {
				db = db.Where("((created_at > ?) OR (created_at = ? AND id > ?))", createdAt, createdAt, id)
			}
		}
		return db.Limit(size + 1)
	})
}
