// Package emission converts measured activity into tonnes of CO2 and offset
// units. Every function is pure.
package emission

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/pkg/errs"
)

type UsageType string

const (
	UsageRideHailing    UsageType = "RIDE_HAILING"
	UsageTransit        UsageType = "TRANSIT"
	UsageUtilityBilling UsageType = "UTILITY_BILLING"
	UsagePrivateCar     UsageType = "PRIVATE_CAR"
	UsageOther          UsageType = "OTHER"
)

var (
	ErrNegativeInput    = errors.New("negative_input")
	ErrInvalidCapacity  = errors.New("invalid_offset_unit_capacity")
	ErrInvalidUsageType = errors.New("invalid_usage_type")
)

// Emission factors in tonnes of CO2 per km or per kWh.
var (
	FactorPublicTransport = decimal.RequireFromString("0.0002")
	FactorRideHailing     = decimal.RequireFromString("0.00025")
	FactorPrivateVehicle  = decimal.RequireFromString("0.0004")
	FactorElectricity     = decimal.RequireFromString("0.0000004")
	FactorHeating         = decimal.RequireFromString("0.0000009")
	FactorOther           = decimal.RequireFromString("0.0001")
)

// Stored precision. Amounts keep 6 places and the largest factor has 7, so
// TonnesScale holds any emission of a stored amount exactly.
const (
	AmountScale = 6
	TonnesScale = 13
)

// Activity is a bundle of measured consumption. Zero values mean no activity.
type Activity struct {
	PublicTransportKm decimal.Decimal `json:"public_transport_km"`
	RideHailingKm     decimal.Decimal `json:"ride_hailing_km"`
	PrivateVehicleKm  decimal.Decimal `json:"private_vehicle_km"`
	ElectricityKwh    decimal.Decimal `json:"electricity_kwh"`
	HeatingKwh        decimal.Decimal `json:"heating_kwh"`
}

// CalculateCO2 returns the weighted sum of activity in tonnes.
func CalculateCO2(a Activity) (decimal.Decimal, error) {
	terms := []struct {
		value  decimal.Decimal
		factor decimal.Decimal
	}{
		{a.PublicTransportKm, FactorPublicTransport},
		{a.RideHailingKm, FactorRideHailing},
		{a.PrivateVehicleKm, FactorPrivateVehicle},
		{a.ElectricityKwh, FactorElectricity},
		{a.HeatingKwh, FactorHeating},
	}

	total := decimal.Zero
	for _, term := range terms {
		if term.value.IsNegative() {
			return decimal.Zero, errs.Validation(ErrNegativeInput)
		}
		total = total.Add(term.value.Mul(term.factor))
	}
	return total, nil
}

// RequiredOffsetUnits returns ceil(total / capacity).
func RequiredOffsetUnits(totalTonnes, unitCapacity decimal.Decimal) (int64, error) {
	if !unitCapacity.IsPositive() {
		return 0, ErrInvalidCapacity
	}
	if totalTonnes.IsNegative() {
		return 0, errs.Validation(ErrNegativeInput)
	}
	return totalTonnes.Div(unitCapacity).Ceil().IntPart(), nil
}

// FactorFor maps a usage type onto its per-unit factor.
func FactorFor(t UsageType) (decimal.Decimal, error) {
	switch t {
	case UsageTransit:
		return FactorPublicTransport, nil
	case UsageRideHailing:
		return FactorRideHailing, nil
	case UsagePrivateCar:
		return FactorPrivateVehicle, nil
	case UsageUtilityBilling:
		return FactorElectricity, nil
	case UsageOther:
		return FactorOther, nil
	default:
		return decimal.Zero, errs.Validation(ErrInvalidUsageType)
	}
}

// EmissionFor returns amount × FactorFor(t), rounded to TonnesScale.
func EmissionFor(t UsageType, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, errs.Validation(ErrNegativeInput)
	}
	factor, err := FactorFor(t)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.Mul(factor).Round(TonnesScale), nil
}

// Add sums two activities componentwise.
func Add(a, b Activity) Activity {
	return Activity{
		PublicTransportKm: a.PublicTransportKm.Add(b.PublicTransportKm),
		RideHailingKm:     a.RideHailingKm.Add(b.RideHailingKm),
		PrivateVehicleKm:  a.PrivateVehicleKm.Add(b.PrivateVehicleKm),
		ElectricityKwh:    a.ElectricityKwh.Add(b.ElectricityKwh),
		HeatingKwh:        a.HeatingKwh.Add(b.HeatingKwh),
	}
}

// Scale multiplies every component by k.
func Scale(a Activity, k decimal.Decimal) Activity {
	return Activity{
		PublicTransportKm: a.PublicTransportKm.Mul(k),
		RideHailingKm:     a.RideHailingKm.Mul(k),
		PrivateVehicleKm:  a.PrivateVehicleKm.Mul(k),
		ElectricityKwh:    a.ElectricityKwh.Mul(k),
		HeatingKwh:        a.HeatingKwh.Mul(k),
	}
}

// ValidUsageType reports whether t is a known usage type.
func ValidUsageType(t UsageType) bool {
	_, err := FactorFor(t)
	return err == nil
}
