package quotes

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safmarket/saf-backend/pkg/config"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultRates(), func() time.Time { return fixedNow })
	require.NoError(t, err)
	return engine
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeDefaultAircraft(t *testing.T) {
	q, err := newTestEngine(t).Compute(1000, "")
	require.NoError(t, err)

	// 1000 kg * 3.3 L/kg * 0.25 blend
	assert.True(t, q.SAFVolumeLiters.Equal(dec("825")), q.SAFVolumeLiters.String())
	assert.True(t, q.Breakdown.BaseCost.Equal(dec("2640")), q.Breakdown.BaseCost.String())
	assert.True(t, q.Breakdown.CarbonCredit.Equal(dec("45")), q.Breakdown.CarbonCredit.String())
	assert.True(t, q.Breakdown.ProcessingFee.Equal(dec("25")))
	assert.True(t, q.Breakdown.RegulatoryFee.Equal(dec("12.5")))
	assert.True(t, q.TotalPrice.Equal(dec("2722.5")), q.TotalPrice.String())
	assert.True(t, q.CarbonReductionKg.Equal(dec("800")))
	assert.Equal(t, "usd", q.Currency)
	assert.Equal(t, fixedNow.Add(time.Hour), q.ValidUntil)
}

func TestComputeUsesAircraftFactor(t *testing.T) {
	engine := newTestEngine(t)

	a350, err := engine.Compute(1000, "Airbus A350-900")
	require.NoError(t, err)
	e175, err := engine.Compute(1000, "e175")
	require.NoError(t, err)

	assert.True(t, a350.SAFVolumeLiters.Equal(dec("725")), a350.SAFVolumeLiters.String())
	assert.True(t, e175.SAFVolumeLiters.Equal(dec("950")), e175.SAFVolumeLiters.String())
	assert.True(t, a350.TotalPrice.LessThan(e175.TotalPrice))
}

func TestComputeRoundsVolumeToTenthLiter(t *testing.T) {
	q, err := newTestEngine(t).Compute(123.456, "")
	require.NoError(t, err)

	// 123.456 * 0.825 = 101.8512
	assert.True(t, q.SAFVolumeLiters.Equal(dec("101.9")), q.SAFVolumeLiters.String())
	assert.Equal(t, int32(-2), q.Breakdown.BaseCost.Exponent())
}

func TestTotalAlwaysEqualsBreakdown(t *testing.T) {
	engine := newTestEngine(t)
	for _, e := range []float64{0.5, 1, 17.33, 999.999, 12345.678, 250000} {
		q, err := engine.Compute(e, "737-800")
		require.NoError(t, err)
		assert.True(t, q.TotalPrice.Equal(q.Breakdown.Sum()), "emissions %v", e)
		assert.True(t, q.CarbonReductionKg.IsPositive())
		assert.True(t, q.CarbonReductionKg.LessThanOrEqual(q.FlightEmissionsKg))
		assert.True(t, q.SAFVolumeLiters.IsPositive())
	}
}

func TestComputeIsMonotonicInEmissions(t *testing.T) {
	engine := newTestEngine(t)
	prev := decimal.Zero
	for _, e := range []float64{10, 100, 1000, 10000} {
		q, err := engine.Compute(e, "")
		require.NoError(t, err)
		assert.True(t, q.TotalPrice.GreaterThan(prev))
		prev = q.TotalPrice
	}
}

func TestComputeRejectsInvalidEmissions(t *testing.T) {
	engine := newTestEngine(t)
	for _, e := range []float64{0, -5, math.NaN(), math.Inf(1), 0.0000001} {
		_, err := engine.Compute(e, "")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "emissions %v", e)
	}
}

func TestComputeAcceptsTinyEmissions(t *testing.T) {
	engine := newTestEngine(t)
	for _, e := range []float64{0.01, 0.05, 0.06} {
		q, err := engine.Compute(e, "")
		require.NoError(t, err, "emissions %v", e)
		assert.True(t, q.SAFVolumeLiters.Equal(dec("0.1")), "emissions %v volume %s", e, q.SAFVolumeLiters)
		assert.True(t, q.CarbonReductionKg.IsPositive(), "emissions %v", e)
		assert.True(t, q.CarbonReductionKg.LessThanOrEqual(q.FlightEmissionsKg), "emissions %v", e)
		assert.True(t, q.TotalPrice.Equal(q.Breakdown.Sum()))
	}

	q, err := engine.Compute(0.01, "")
	require.NoError(t, err)
	assert.True(t, q.CarbonReductionKg.Equal(dec("0.008")), q.CarbonReductionKg.String())
}

func TestComputeIsDeterministic(t *testing.T) {
	engine := newTestEngine(t)
	first, err := engine.Compute(4321.987, "A320neo")
	require.NoError(t, err)
	second, err := engine.Compute(4321.987, "A320neo")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestQuoteExpired(t *testing.T) {
	q, err := newTestEngine(t).Compute(500, "")
	require.NoError(t, err)

	assert.False(t, q.Expired(fixedNow.Add(59*time.Minute)))
	assert.False(t, q.Expired(q.ValidUntil))
	assert.True(t, q.Expired(q.ValidUntil.Add(time.Second)))
}

func TestRatesFromConfig(t *testing.T) {
	rates, err := RatesFromConfig(config.PricingConfig{
		PricePerLiter:     "2.50",
		CarbonCreditPerKg: "0.05",
		ProcessingFee:     "10",
		RegulatoryFee:     "0",
		DefaultFuelPerCO2: "3.0",
		BlendRatio:        "0.5",
		ReductionRatio:    "0.9",
		QuoteValidity:     30 * time.Minute,
	}, " USD ")
	require.NoError(t, err)
	assert.True(t, rates.PricePerLiter.Equal(dec("2.5")))
	assert.Equal(t, "usd", rates.Currency)

	_, err = RatesFromConfig(config.PricingConfig{PricePerLiter: "abc"}, "usd")
	require.Error(t, err)

	bad := DefaultRates()
	bad.BlendRatio = dec("1.5")
	require.Error(t, bad.Validate())
}

func TestNormalizeAircraft(t *testing.T) {
	for raw, want := range map[string]string{
		"Boeing 737 MAX 8": "737 MAX 8",
		" a321 ":           "A321",
		"airbus  a350-900": "A350-900",
	} {
		got := normalizeAircraft(raw)
		assert.Equal(t, want, got)
		assert.Contains(t, aircraftFuelPerCO2, got)
	}
	assert.NotContains(t, aircraftFuelPerCO2, normalizeAircraft("Concorde"))
}

func TestPricingListsEveryAirframe(t *testing.T) {
	p := newTestEngine(t).Pricing()
	assert.Len(t, p.FuelFactors, len(aircraftFuelPerCO2))
	assert.Equal(t, "737 MAX 8", p.FuelFactors[0].AircraftType)
	assert.True(t, p.DefaultFuelFactor.Equal(dec("3.3")))
	assert.EqualValues(t, 3600, p.QuoteValidity)
}
