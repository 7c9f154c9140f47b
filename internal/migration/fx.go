package migration

import (
	"context"

	"github.com/smallbiznis/carbonledger/internal/clock"
	"github.com/smallbiznis/carbonledger/internal/config"
	ratedomain "github.com/smallbiznis/carbonledger/internal/conversionrate/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Rates  ratedomain.Service
	Holder *config.RatesConfigHolder
	Clock  clock.Clock `optional:"true"`
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p Params) error {
		if err := Migrate(p.DB); err != nil {
			return err
		}
		return ProvisionRates(context.Background(), p.Rates, p.Holder, p.Clock, p.Log)
	}),
)
