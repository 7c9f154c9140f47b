package emission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carbonledger/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateCO2WeightedSum(t *testing.T) {
	total, err := CalculateCO2(Activity{
		PublicTransportKm: d("1000"),
		PrivateVehicleKm:  d("1000"),
	})
	require.NoError(t, err)
	assert.True(t, total.Equal(d("0.6")), "got %s", total)

	total, err = CalculateCO2(Activity{
		RideHailingKm:  d("100"),
		ElectricityKwh: d("1000000"),
		HeatingKwh:     d("1000000"),
	})
	require.NoError(t, err)
	// 0.025 + 0.4 + 0.9
	assert.True(t, total.Equal(d("1.325")), "got %s", total)
}

func TestCalculateCO2ZeroActivity(t *testing.T) {
	total, err := CalculateCO2(Activity{})
	require.NoError(t, err)
	assert.True(t, total.IsZero())
}

func TestCalculateCO2RejectsNegative(t *testing.T) {
	_, err := CalculateCO2(Activity{HeatingKwh: d("-1")})
	assert.ErrorIs(t, err, ErrNegativeInput)
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCalculateCO2IsAdditiveAndLinear(t *testing.T) {
	a := Activity{PublicTransportKm: d("12.5"), RideHailingKm: d("3"), ElectricityKwh: d("250")}
	b := Activity{PrivateVehicleKm: d("40.25"), HeatingKwh: d("900"), PublicTransportKm: d("0.75")}

	ca, err := CalculateCO2(a)
	require.NoError(t, err)
	cb, err := CalculateCO2(b)
	require.NoError(t, err)
	sum, err := CalculateCO2(Add(a, b))
	require.NoError(t, err)
	assert.True(t, sum.Equal(ca.Add(cb)), "additivity: %s != %s", sum, ca.Add(cb))

	for _, k := range []string{"0", "1", "2", "7.5"} {
		scaled, err := CalculateCO2(Scale(a, d(k)))
		require.NoError(t, err)
		assert.True(t, scaled.Equal(ca.Mul(d(k))), "linearity k=%s", k)
	}
}

func TestRequiredOffsetUnits(t *testing.T) {
	cases := []struct {
		total string
		cap   string
		want  int64
	}{
		{"0", "0.5", 0},
		{"0.6", "0.5", 2},
		{"0.5", "0.5", 1},
		{"0.500001", "0.5", 2},
		{"10", "0.02", 500},
	}
	for _, tc := range cases {
		got, err := RequiredOffsetUnits(d(tc.total), d(tc.cap))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "total=%s cap=%s", tc.total, tc.cap)
	}
}

func TestRequiredOffsetUnitsProperties(t *testing.T) {
	capacity := d("0.3")
	prev := int64(0)
	for i := 0; i <= 200; i++ {
		total := decimal.NewFromInt(int64(i)).Div(decimal.NewFromInt(37))
		units, err := RequiredOffsetUnits(total, capacity)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, units, prev, "monotone in total")
		assert.True(t, decimal.NewFromInt(units).Mul(capacity).GreaterThanOrEqual(total), "units*cap >= total")
		if units > 0 {
			assert.True(t, decimal.NewFromInt(units-1).Mul(capacity).LessThan(total), "units is minimal")
		}
		prev = units
	}
}

func TestRequiredOffsetUnitsErrors(t *testing.T) {
	_, err := RequiredOffsetUnits(d("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = RequiredOffsetUnits(d("1"), d("-0.5"))
	assert.ErrorIs(t, err, ErrInvalidCapacity)
	_, err = RequiredOffsetUnits(d("-1"), d("0.5"))
	assert.ErrorIs(t, err, ErrNegativeInput)
}

func TestFactorFor(t *testing.T) {
	cases := map[UsageType]decimal.Decimal{
		UsageTransit:        FactorPublicTransport,
		UsageRideHailing:    FactorRideHailing,
		UsagePrivateCar:     FactorPrivateVehicle,
		UsageUtilityBilling: FactorElectricity,
		UsageOther:          FactorOther,
	}
	for usage, want := range cases {
		got, err := FactorFor(usage)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), "%s", usage)
	}

	_, err := FactorFor("TELEPORT")
	assert.ErrorIs(t, err, ErrInvalidUsageType)
	assert.False(t, ValidUsageType("TELEPORT"))
}

func TestEmissionFor(t *testing.T) {
	got, err := EmissionFor(UsageTransit, d("1000"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("0.2")))

	_, err = EmissionFor(UsageTransit, d("-5"))
	assert.ErrorIs(t, err, ErrNegativeInput)
}

func TestEmissionForSmallUtilityBills(t *testing.T) {
	got, err := EmissionFor(UsageUtilityBilling, d("1"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("0.0000004")), got.String())

	got, err = EmissionFor(UsageUtilityBilling, d("1234"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("0.0004936")), got.String())

	// a stored amount never needs more than TonnesScale places
	got, err = EmissionFor(UsageUtilityBilling, d("0.000001"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("0.0000000000004")), got.String())
	assert.LessOrEqual(t, -got.Exponent(), int32(TonnesScale))

	got, err = EmissionFor(UsageTransit, d("0"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
