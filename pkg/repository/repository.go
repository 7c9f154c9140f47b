package repository

import (
	"context"

	"github.com/smallbiznis/carbonledger/pkg/db/option"
)

// Repository is a generic gorm-backed store for list queries.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
}
