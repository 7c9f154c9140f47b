package offset

import (
	"github.com/smallbiznis/carbonledger/internal/offset/repository"
	"github.com/smallbiznis/carbonledger/internal/offset/service"
	"go.uber.org/fx"
)

var Module = fx.Module("offset.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
