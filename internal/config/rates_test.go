package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRatesConfig(t *testing.T) {
	require.NoError(t, ValidateRatesConfig(DefaultRatesConfig()))

	cases := map[string]RatesConfig{
		"zero default": {DefaultCO2PerTree: 0},
		"negative rate": {
			DefaultCO2PerTree: 0.5,
			ConversionRates:   []ConversionRateEntry{{Year: 2024, CO2PerTree: -1}},
		},
		"duplicate year": {
			DefaultCO2PerTree: 0.5,
			ConversionRates: []ConversionRateEntry{
				{Year: 2024, CO2PerTree: 0.5},
				{Year: 2024, CO2PerTree: 0.4},
			},
		},
		"bad year": {
			DefaultCO2PerTree: 0.5,
			ConversionRates:   []ConversionRateEntry{{Year: 12, CO2PerTree: 0.5}},
		},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateRatesConfig(cfg))
		})
	}
}

func TestRateForFallsBackToDefault(t *testing.T) {
	cfg := RatesConfig{
		DefaultCO2PerTree: 0.5,
		ConversionRates:   []ConversionRateEntry{{Year: 2023, CO2PerTree: 0.02}},
	}
	assert.Equal(t, 0.02, cfg.RateFor(2023))
	assert.Equal(t, 0.5, cfg.RateFor(2024))
}

func TestHolderNotifiesSubscribers(t *testing.T) {
	holder := NewStaticRatesConfigHolder(DefaultRatesConfig())

	var got []RatesConfig
	holder.Subscribe(func(cfg RatesConfig) { got = append(got, cfg) })
	holder.Subscribe(nil)

	next := RatesConfig{DefaultCO2PerTree: 0.25}
	holder.store(next)

	require.Len(t, got, 1)
	assert.Equal(t, 0.25, got[0].DefaultCO2PerTree)
	assert.Equal(t, 0.25, holder.Get().DefaultCO2PerTree)
}
