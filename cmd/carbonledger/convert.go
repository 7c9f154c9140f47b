package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/internal/config"
	"github.com/smallbiznis/carbonledger/internal/emission"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	convertTransitKm  float64
	convertRideKm     float64
	convertPrivateKm  float64
	convertElecKwh    float64
	convertHeatingKwh float64
	convertYear       int
	convertCapacity   float64
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Estimate CO2 tonnes and offset units offline",
	Long: `Applies the emission factors to an activity bundle. Unit capacity comes
from --co2-per-tree, or from rates.yml for --year when the flag is not set.`,
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().Float64Var(&convertTransitKm, "public-transport-km", 0, "public transport distance")
	convertCmd.Flags().Float64Var(&convertRideKm, "ride-hailing-km", 0, "ride hailing distance")
	convertCmd.Flags().Float64Var(&convertPrivateKm, "private-vehicle-km", 0, "private vehicle distance")
	convertCmd.Flags().Float64Var(&convertElecKwh, "electricity-kwh", 0, "electricity consumption")
	convertCmd.Flags().Float64Var(&convertHeatingKwh, "heating-kwh", 0, "heating consumption")
	convertCmd.Flags().IntVar(&convertYear, "year", time.Now().Year(), "rate year")
	convertCmd.Flags().Float64Var(&convertCapacity, "co2-per-tree", 0, "tonnes absorbed by one offset unit")
	rootCmd.AddCommand(convertCmd)
}

type convertOutput struct {
	CO2Tonnes           decimal.Decimal `json:"co2_tonnes"`
	Year                int             `json:"year"`
	CO2PerTree          decimal.Decimal `json:"co2_per_tree"`
	RequiredOffsetUnits int64           `json:"required_offset_units"`
}

func runConvert(cmd *cobra.Command, args []string) error {
	tonnes, err := emission.CalculateCO2(emission.Activity{
		PublicTransportKm: decimal.NewFromFloat(convertTransitKm),
		RideHailingKm:     decimal.NewFromFloat(convertRideKm),
		PrivateVehicleKm:  decimal.NewFromFloat(convertPrivateKm),
		ElectricityKwh:    decimal.NewFromFloat(convertElecKwh),
		HeatingKwh:        decimal.NewFromFloat(convertHeatingKwh),
	})
	if err != nil {
		return fmt.Errorf("calculating emissions: %w", err)
	}

	capacity := convertCapacity
	if capacity == 0 {
		holder, err := config.NewRatesConfigHolder(zap.NewNop())
		if err != nil {
			return fmt.Errorf("loading rates: %w", err)
		}
		capacity = holder.Get().RateFor(convertYear)
	}
	unitCapacity := decimal.NewFromFloat(capacity)

	units, err := emission.RequiredOffsetUnits(tonnes, unitCapacity)
	if err != nil {
		return fmt.Errorf("calculating offset units: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(convertOutput{
		CO2Tonnes:           tonnes,
		Year:                convertYear,
		CO2PerTree:          unitCapacity,
		RequiredOffsetUnits: units,
	})
}
