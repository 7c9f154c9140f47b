// Package dbtest opens migrated in-memory databases for service tests.
package dbtest

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"github.com/smallbiznis/carbonledger/internal/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every table the application owns.
func Models() []any {
	return migration.Models()
}

// Open returns a private in-memory database with all tables migrated. One
// connection keeps every statement on the same memory database.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	db := open(t)
	require.NoError(t, db.AutoMigrate(Models()...))
	return db
}

// OpenSQLSchema is Open built from the embedded postgres migrations instead of
// AutoMigrate, so column types and CHECK constraints match production.
func OpenSQLSchema(t *testing.T) *gorm.DB {
	t.Helper()
	db := open(t)
	scripts, err := migration.UpScripts()
	require.NoError(t, err)
	require.NotEmpty(t, scripts)
	for _, script := range scripts {
		require.NoError(t, db.Exec(sqliteDDL.Replace(script)).Error)
	}
	return db
}

// sqliteDDL rewrites the postgres-only bits of the migrations. TIMESTAMPTZ is
// mapped so the driver still decodes those columns as time.Time.
var sqliteDDL = strings.NewReplacer(
	"now()", "CURRENT_TIMESTAMP",
	"TIMESTAMPTZ", "TIMESTAMP",
	"JSONB", "TEXT",
)

func open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func Node(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Authz builds the policy gate over db with the default role table.
func Authz(t *testing.T, db *gorm.DB) authorization.Service {
	t.Helper()
	adapter, err := gormadapter.NewAdapterByDB(db)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcerWithOptions(adapter, authorization.PolicyOptions{AnalyticsCanEditRates: true})
	require.NoError(t, err)
	return authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
}

// SeedRate stores a conversion rate for year.
func SeedRate(t *testing.T, db *gorm.DB, year int, co2PerTree string) {
	t.Helper()
	require.NoError(t, db.Create(&ratedomain.ConversionRate{
		Year:       year,
		CO2PerTree: decimal.RequireFromString(co2PerTree),
		UpdatedBy:  "system",
		UpdatedAt:  time.Now().UTC(),
	}).Error)
}
