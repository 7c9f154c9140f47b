package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carbonledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/carbonledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/carbonledger/internal/audit/service"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/config"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"github.com/smallbiznis/carbonledger/internal/conversionrate/repository"
	"github.com/smallbiznis/carbonledger/internal/dbtest"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	node *snowflake.Node
	svc  ratedomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
	})
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Repo:     repository.Provide(),
		Authz:    dbtest.Authz(t, db),
		AuditSvc: audit,
	})
	return fixture{db: db, node: node, svc: svc}
}

func TestGetMissingRateIsNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), 2024)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, err, ratedomain.ErrConversionRateNotFound)

	_, err = f.svc.Get(context.Background(), 12)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestUpsertWritesRateAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleAdmin}

	rate, err := f.svc.Upsert(ctx, admin, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.RequireFromString("0.5")})
	require.NoError(t, err)
	assert.Equal(t, admin.UserID.String(), rate.UpdatedBy)

	_, err = f.svc.Upsert(ctx, admin, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.RequireFromString("0.25")})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, got.CO2PerTree.Equal(decimal.RequireFromString("0.25")))

	var logs []auditdomain.AuditLog
	require.NoError(t, f.db.Where("action = ?", auditdomain.ActionConversionRateUpdated).Order("id asc").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, "0.5", logs[1].Metadata["previous_co2_per_tree"])
}

func TestUpsertValidatesAndAuthorizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	citizen := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleCitizen}
	operator := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleOperator}

	_, err := f.svc.Upsert(ctx, citizen, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, errs.ErrAuthorization)

	_, err = f.svc.Upsert(ctx, operator, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.Zero})
	assert.ErrorIs(t, err, ratedomain.ErrInvalidCO2PerTree)

	_, err = f.svc.Upsert(ctx, operator, ratedomain.UpsertRequest{Year: 99, CO2PerTree: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ratedomain.ErrInvalidYear)

	_, err = f.svc.Upsert(ctx, operator, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.NewFromInt(1)})
	assert.NoError(t, err)
}

func TestListRequiresViewPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedRate(t, f.db, 2023, "0.5")
	dbtest.SeedRate(t, f.db, 2024, "0.4")

	rates, err := f.svc.List(ctx, authorization.Actor{Role: authorization.RoleAnalytics})
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 2024, rates[0].Year)

	_, err = f.svc.List(ctx, authorization.Actor{Role: authorization.RoleCitizen})
	assert.ErrorIs(t, err, errs.ErrAuthorization)
}

func TestProvisionDefaultsNeverOverwrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dbtest.SeedRate(t, f.db, 2024, "0.8")

	cfg := config.RatesConfig{
		DefaultCO2PerTree: 0.5,
		ConversionRates: []config.ConversionRateEntry{
			{Year: 2023, CO2PerTree: 0.45},
			{Year: 2024, CO2PerTree: 0.5},
		},
	}
	inserted, err := f.svc.ProvisionDefaults(ctx, cfg, 2025, 2024)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	kept, err := f.svc.Get(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, kept.CO2PerTree.Equal(decimal.RequireFromString("0.8")))

	seeded, err := f.svc.Get(ctx, 2025)
	require.NoError(t, err)
	assert.True(t, seeded.CO2PerTree.Equal(decimal.RequireFromString("0.5")))

	again, err := f.svc.ProvisionDefaults(ctx, cfg, 2025)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestProvisionDefaultsRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ProvisionDefaults(context.Background(), config.RatesConfig{DefaultCO2PerTree: 0})
	assert.Error(t, err)
}

func TestUpsertRunsChangeHooksInTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleAdmin}
	dbtest.SeedRate(t, f.db, 2024, "0.5")

	var seen []int
	committed := 0
	f.svc.OnChange(func(ctx context.Context, tx *gorm.DB, year int) (func(), error) {
		var stored ratedomain.ConversionRate
		if err := tx.First(&stored, "year = ?", year).Error; err != nil {
			return nil, err
		}
		assert.True(t, stored.CO2PerTree.Equal(decimal.RequireFromString("0.25")))
		seen = append(seen, year)
		return func() { committed++ }, nil
	})

	_, err := f.svc.Upsert(ctx, admin, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.RequireFromString("0.25")})
	require.NoError(t, err)
	assert.Equal(t, []int{2024}, seen)
	assert.Equal(t, 1, committed)
}

func TestFailingChangeHookRollsBackRate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleAdmin}
	dbtest.SeedRate(t, f.db, 2024, "0.5")

	boom := errors.New("recompute failed")
	afterRan := false
	f.svc.OnChange(func(context.Context, *gorm.DB, int) (func(), error) {
		return func() { afterRan = true }, nil
	})
	f.svc.OnChange(func(context.Context, *gorm.DB, int) (func(), error) {
		return nil, boom
	})

	_, err := f.svc.Upsert(ctx, admin, ratedomain.UpsertRequest{Year: 2024, CO2PerTree: decimal.RequireFromString("0.25")})
	assert.ErrorIs(t, err, boom)
	assert.False(t, afterRan)

	kept, err := f.svc.Get(ctx, 2024)
	require.NoError(t, err)
	assert.True(t, kept.CO2PerTree.Equal(decimal.RequireFromString("0.5")))

	var count int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionConversionRateUpdated).Count(&count).Error)
	assert.Zero(t, count)
}

type failingAudit struct{ auditdomain.Service }

func (failingAudit) AuditLog(context.Context, auditdomain.Entry) error {
	return errors.New("audit store down")
}

func TestProvisionDefaultsWarnsWhenAuditFails(t *testing.T) {
	db := dbtest.Open(t)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewService(Params{
		DB:       db,
		Log:      zap.New(core),
		Repo:     repository.Provide(),
		Authz:    dbtest.Authz(t, db),
		AuditSvc: failingAudit{},
	})

	inserted, err := svc.ProvisionDefaults(context.Background(), config.RatesConfig{DefaultCO2PerTree: 0.5}, 2024)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	warned := logs.FilterMessage("failed to audit rate provisioning").All()
	require.Len(t, warned, 1)
	assert.Equal(t, int64(2024), warned[0].ContextMap()["year"])
	assert.Equal(t, "audit store down", warned[0].ContextMap()["error"])
}
