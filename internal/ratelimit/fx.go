package ratelimit

import (
	"context"

	"github.com/smallbiznis/carbonledger/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(provideUsageLimiter),
)

func provideUsageLimiter(lc fx.Lifecycle, cfg config.Config) (*UsageLimiter, error) {
	limiter, err := NewUsageLimiter(cfg)
	if err != nil || limiter == nil {
		return limiter, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return limiter.Close()
		},
	})
	return limiter, nil
}
