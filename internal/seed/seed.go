// Package seed loads demo usage so a fresh environment has ledgers to look at.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/authorization"
	"github.com/smallbiznis/carbonledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/carbonledger/internal/ledger/domain"
	"github.com/smallbiznis/carbonledger/pkg/errs"
)

// demoUserBase keeps demo ids well clear of generated snowflakes.
const demoUserBase snowflake.ID = 1_000_000

var ErrInvalidUserCount = errors.New("seed: user count must be between 1 and 100")

type DemoUser struct {
	UserID  snowflake.ID
	Ledger  *ledgerdomain.CarbonLedger
	Created bool
}

type demoUsage struct {
	usageType   ledgerdomain.UsageType
	amount      string
	description string
}

var demoProfile = []demoUsage{
	{ledgerdomain.UsageTransit, "120", "commuter rail"},
	{ledgerdomain.UsageRideHailing, "45", "airport trips"},
	{ledgerdomain.UsagePrivateCar, "800", "weekend driving"},
	{ledgerdomain.UsageUtilityBilling, "250", "home electricity"},
}

// EnsureDemoLedgers records a usage profile for users demo citizens in the
// current year. The i-th user gets the profile scaled by i+1. Users that
// already have a ledger for the year are left untouched.
func EnsureDemoLedgers(ctx context.Context, ledgers ledgerdomain.Service, clk clock.Clock, users int) ([]DemoUser, error) {
	if users < 1 || users > 100 {
		return nil, ErrInvalidUserCount
	}
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now().UTC()
	year := now.Year()
	date := time.Date(year, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	out := make([]DemoUser, 0, users)
	for i := 0; i < users; i++ {
		userID := demoUserBase + snowflake.ID(i+1)

		existing, err := ledgers.GetLedgerForYear(ctx, userID, year)
		if err == nil {
			out = append(out, DemoUser{UserID: userID, Ledger: existing})
			continue
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return out, err
		}

		actor := authorization.Actor{UserID: userID, Role: authorization.RoleCitizen}
		factor := decimal.NewFromInt(int64(i + 1))
		var ledger *ledgerdomain.CarbonLedger
		for _, usage := range demoProfile {
			res, err := ledgers.RecordUsage(ctx, ledgerdomain.RecordUsageRequest{
				Actor:       actor,
				UserID:      userID,
				Date:        date,
				UsageType:   usage.usageType,
				Amount:      decimal.RequireFromString(usage.amount).Mul(factor),
				Description: usage.description,
			})
			if err != nil {
				return out, err
			}
			ledger = res.Ledger
		}
		out = append(out, DemoUser{UserID: userID, Ledger: ledger, Created: true})
	}
	return out, nil
}
