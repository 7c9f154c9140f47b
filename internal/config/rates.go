package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConversionRateEntry pins the CO2 capacity of one offset unit for a year.
type ConversionRateEntry struct {
	Year       int     `mapstructure:"year"`
	CO2PerTree float64 `mapstructure:"co2PerTree"`
}

// RatesConfig is the provisioning source for conversion_rates.
type RatesConfig struct {
	DefaultCO2PerTree float64               `mapstructure:"defaultCo2PerTree"`
	ConversionRates   []ConversionRateEntry `mapstructure:"conversionRates"`
}

func DefaultRatesConfig() RatesConfig {
	return RatesConfig{
		DefaultCO2PerTree: 0.5,
	}
}

// RateFor returns the configured capacity for year, falling back to the default.
func (c RatesConfig) RateFor(year int) float64 {
	for _, entry := range c.ConversionRates {
		if entry.Year == year {
			return entry.CO2PerTree
		}
	}
	return c.DefaultCO2PerTree
}

type RatesConfigHolder struct {
	current atomic.Value // holds RatesConfig

	mu          sync.Mutex
	subscribers []func(RatesConfig)
}

// NewRatesConfigHolder reads rates.yml and watches it for changes.
func NewRatesConfigHolder(log *zap.Logger) (*RatesConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.rates")

	v := viper.New()

	v.SetConfigName("rates")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/carbonledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CARBONLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultRatesConfig()
	v.SetDefault("carbon.defaultCo2PerTree", defaults.DefaultCO2PerTree)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
	}

	var cfg RatesConfig
	if err := v.UnmarshalKey("carbon", &cfg); err != nil {
		return nil, err
	}
	cfg = withDefaults(cfg)
	if err := ValidateRatesConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticRatesConfigHolder(cfg)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RatesConfig
		if err := v.UnmarshalKey("carbon", &updated); err != nil {
			log.Warn("rates reload failed", zap.Error(err))
			return
		}
		updated = withDefaults(updated)
		if err := ValidateRatesConfig(updated); err != nil {
			log.Warn("invalid rates config ignored", zap.Error(err))
			return
		}
		holder.store(updated)
		log.Info("rates config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// NewStaticRatesConfigHolder wraps a fixed config without file watching.
func NewStaticRatesConfigHolder(cfg RatesConfig) *RatesConfigHolder {
	holder := &RatesConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *RatesConfigHolder) Get() RatesConfig {
	return h.current.Load().(RatesConfig)
}

// Subscribe registers fn to run after every successful reload.
func (h *RatesConfigHolder) Subscribe(fn func(RatesConfig)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.subscribers = append(h.subscribers, fn)
	h.mu.Unlock()
}

func (h *RatesConfigHolder) store(cfg RatesConfig) {
	h.current.Store(cfg)

	h.mu.Lock()
	subscribers := append([]func(RatesConfig){}, h.subscribers...)
	h.mu.Unlock()

	for _, fn := range subscribers {
		fn(cfg)
	}
}

// withDefaults fills the default capacity when a rates file omits it.
func withDefaults(cfg RatesConfig) RatesConfig {
	if cfg.DefaultCO2PerTree == 0 {
		cfg.DefaultCO2PerTree = DefaultRatesConfig().DefaultCO2PerTree
	}
	return cfg
}

func ValidateRatesConfig(cfg RatesConfig) error {
	if cfg.DefaultCO2PerTree <= 0 {
		return errors.New("carbon.defaultCo2PerTree must be positive")
	}
	seen := make(map[int]struct{}, len(cfg.ConversionRates))
	for _, entry := range cfg.ConversionRates {
		if entry.Year < 1900 || entry.Year > 9999 {
			return fmt.Errorf("carbon.conversionRates: invalid year %d", entry.Year)
		}
		if entry.CO2PerTree <= 0 {
			return fmt.Errorf("carbon.conversionRates[%d]: co2PerTree must be positive", entry.Year)
		}
		if _, ok := seen[entry.Year]; ok {
			return fmt.Errorf("carbon.conversionRates: duplicate year %d", entry.Year)
		}
		seen[entry.Year] = struct{}{}
	}
	return nil
}
