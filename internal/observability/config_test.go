package observability

import (
	"testing"

	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{AppName: " ", Environment: "production", AppVersion: "1.2.3"})

	assert.Equal(t, "carbonledger", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigReadsApplicationConfig(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:           "ledger-api",
		LogLevel:          "DEBUG",
		OTELEnabled:       true,
		OTLPEndpoint:      " collector:4318 ",
		OTLPProtocol:      "HTTP",
		OTELSamplingRatio: 3,
	})

	assert.Equal(t, "ledger-api", cfg.ServiceName)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.OtelEnabled)
	assert.Equal(t, "collector:4318", cfg.OtelExporterEndpoint)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}

func TestConfigLoadPrefersTracesProtocol(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "http")
	t.Setenv("LOG_LEVEL", "warn")

	cfg := LoadConfig(config.Load())
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestDebugInDevelopment(t *testing.T) {
	assert.True(t, Config{Environment: "development"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "debug"}.Debug())
}
