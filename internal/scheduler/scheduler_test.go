package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	raterepo "github.com/smallbiznis/carbonledger/internal/conversionrate/repository"
	rateservice "github.com/smallbiznis/carbonledger/internal/conversionrate/service"
	"github.com/smallbiznis/carbonledger/internal/dbtest"
	"github.com/smallbiznis/carbonledger/internal/events"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/carbonledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/carbonledger/internal/ledger/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	clock     *clock.FakeClock
	rates     ratedomain.Service
	ledgers   ledgerdomain.Service
	publisher *events.Recorder
	sched     *Scheduler
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	db := dbtest.Open(t)
	node := dbtest.Node(t)
	authz := dbtest.Authz(t, db)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 5, 0, 0, time.UTC))
	publisher := &events.Recorder{}

	rates := rateservice.NewService(rateservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Repo:  raterepo.Provide(),
		Authz: authz,
		Clock: clk,
	})
	ledgers := ledgerservice.NewService(ledgerservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      ledgerrepo.Provide(),
		Authz:     authz,
		RateSvc:   rates,
		Publisher: publisher,
		Clock:     clk,
	})
	sched, err := New(Params{
		Log:       zap.NewNop(),
		RateSvc:   rates,
		LedgerSvc: ledgers,
		Rates:     config.NewStaticRatesConfigHolder(config.DefaultRatesConfig()),
		Clock:     clk,
		Config:    cfg,
	})
	require.NoError(t, err)

	return fixture{db: db, node: node, clock: clk, rates: rates, ledgers: ledgers, publisher: publisher, sched: sched}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestProvisionRatesAtYearRollover(t *testing.T) {
	f := newFixture(t, Config{EnabledJobs: []string{JobProvisionRates}})
	ctx := context.Background()

	_, err := f.rates.Get(ctx, 2025)
	require.Error(t, err)

	require.NoError(t, f.sched.RunOnce(ctx))

	rate, err := f.rates.Get(ctx, 2025)
	require.NoError(t, err)
	assert.True(t, rate.CO2PerTree.Equal(decimal.RequireFromString("0.5")))

	// A second run leaves an edited rate alone.
	require.NoError(t, f.db.Model(&ratedomain.ConversionRate{}).Where("year = ?", 2025).
		Update("co2_per_tree", decimal.RequireFromString("0.8")).Error)
	require.NoError(t, f.sched.RunOnce(ctx))

	rate, err = f.rates.Get(ctx, 2025)
	require.NoError(t, err)
	assert.True(t, rate.CO2PerTree.Equal(decimal.RequireFromString("0.8")))
}

func TestReconcileLedgersPicksUpRateDrift(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.sched.RunOnce(ctx))

	citizen := authorization.Actor{UserID: f.node.Generate(), Role: authorization.RoleCitizen}
	res, err := f.ledgers.RecordUsage(ctx, ledgerdomain.RecordUsageRequest{
		Actor:     citizen,
		UserID:    citizen.UserID,
		Date:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		UsageType: ledgerdomain.UsagePrivateCar,
		Amount:    decimal.RequireFromString("2500"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.Ledger.RequiredOffsetUnits)

	require.NoError(t, f.db.Model(&ratedomain.ConversionRate{}).Where("year = ?", 2025).
		Update("co2_per_tree", decimal.RequireFromString("0.25")).Error)

	require.NoError(t, f.sched.RunOnce(ctx))

	ledger, err := f.ledgers.GetLedgerForYear(ctx, citizen.UserID, 2025)
	require.NoError(t, err)
	assert.Equal(t, int64(4), ledger.RequiredOffsetUnits)
	assert.Equal(t, ledgerdomain.LedgerStatusUnpaid, ledger.Status)
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{cfg: Config{}}
	assert.True(t, s.isJobEnabled(JobReconcileLedgers))

	s.cfg.EnabledJobs = []string{"Provision_Rates"}
	assert.True(t, s.isJobEnabled(JobProvisionRates))
	assert.False(t, s.isJobEnabled(JobReconcileLedgers))
}

func TestRunOnceSkipsOverlappingRuns(t *testing.T) {
	f := newFixture(t, Config{})
	f.sched.running.Store(true)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	_, err := f.rates.Get(context.Background(), 2025)
	assert.Error(t, err)
}
