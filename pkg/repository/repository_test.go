package repository

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/carbonledger/pkg/db/option"
	"github.com/smallbiznis/carbonledger/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type row struct {
	ID        int64 `gorm:"primaryKey"`
	Kind      string
	CreatedAt time.Time
}

func openStore(t *testing.T) (*gorm.DB, Repository[row]) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&row{}))
	return db, ProvideStore[row](db)
}

func TestFindFiltersAndPagesNewestFirst(t *testing.T) {
	db, store := openStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, db.Create(&row{ID: i, Kind: "a", CreatedAt: base.Add(time.Duration(i) * time.Hour)}).Error)
	}
	require.NoError(t, db.Create(&row{ID: 9, Kind: "b", CreatedAt: base}).Error)

	ctx := context.Background()
	page := pagination.Pagination{PageSize: 2}
	first, err := store.Find(ctx, &row{Kind: "a"},
		option.ApplyPagination(page, true),
		option.WithSortBy(option.QuerySortBy{Desc: true}),
	)
	require.NoError(t, err)
	// limit+1 rows so the caller can detect a following page
	require.Len(t, first, 3)
	assert.Equal(t, []int64{4, 3, 2}, []int64{first[0].ID, first[1].ID, first[2].ID})

	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        strconv.FormatInt(first[1].ID, 10),
		CreatedAt: first[1].CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	page.PageToken = token

	second, err := store.Find(ctx, &row{Kind: "a"},
		option.ApplyPagination(page, true),
		option.WithSortBy(option.QuerySortBy{Desc: true}),
	)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, int64(2), second[0].ID)
	assert.Equal(t, int64(1), second[1].ID)
}

func TestFindRejectsBadPageToken(t *testing.T) {
	_, store := openStore(t)
	_, err := store.Find(context.Background(), nil,
		option.ApplyPagination(pagination.Pagination{PageToken: "%%%"}, false),
	)
	assert.ErrorIs(t, err, pagination.ErrInvalidPageToken)
}
