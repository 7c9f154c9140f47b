package events

import (
	"context"

	"github.com/smallbiznis/carbonledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher returns an MQTT publisher when enabled, otherwise Noop.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	log = log.Named("events")
	if !cfg.MQTT.Enabled {
		return Noop{}, nil
	}

	publisher, err := NewMQTTPublisher(cfg.MQTT, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			publisher.Close()
			return nil
		},
	})
	log.Info("mqtt publisher connected",
		zap.String("broker", cfg.MQTT.Broker),
		zap.String("topic_prefix", cfg.MQTT.TopicPrefix),
	)
	return publisher, nil
}
