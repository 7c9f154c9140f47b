package conversionrate

import (
	"github.com/smallbiznis/carbonledger/internal/conversionrate/repository"
	"github.com/smallbiznis/carbonledger/internal/conversionrate/service"
	"go.uber.org/fx"
)

var Module = fx.Module("conversionrate.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
