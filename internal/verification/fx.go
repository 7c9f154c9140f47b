package verification

import (
	"github.com/smallbiznis/carbonledger/internal/verification/repository"
	"github.com/smallbiznis/carbonledger/internal/verification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("verification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
