package migration

import (
	"context"
	"time"

	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"go.uber.org/zap"
)

const provisionTimeout = 30 * time.Second

// ProvisionYears lists every configured year plus the current one.
func ProvisionYears(cfg config.RatesConfig, now time.Time) []int {
	years := []int{now.Year()}
	for _, entry := range cfg.ConversionRates {
		if entry.Year != now.Year() {
			years = append(years, entry.Year)
		}
	}
	return years
}

// ProvisionRates seeds missing conversion rates and re-seeds on every rates
// file reload.
func ProvisionRates(ctx context.Context, rates ratedomain.Service, holder *config.RatesConfigHolder, clk clock.Clock, log *zap.Logger) error {
	if clk == nil {
		clk = clock.New()
	}
	log = log.Named("migration.rates")

	provision := func(ctx context.Context, cfg config.RatesConfig) error {
		created, err := rates.ProvisionDefaults(ctx, cfg, ProvisionYears(cfg, clk.Now())...)
		if err != nil {
			return err
		}
		if created > 0 {
			log.Info("conversion rates provisioned", zap.Int("created", created))
		}
		return nil
	}

	if err := provision(ctx, holder.Get()); err != nil {
		return err
	}

	holder.Subscribe(func(cfg config.RatesConfig) {
		ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
		defer cancel()
		if err := provision(ctx, cfg); err != nil {
			log.Warn("conversion rate provisioning failed", zap.Error(err))
		}
	})
	return nil
}
