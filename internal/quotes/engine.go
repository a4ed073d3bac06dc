package quotes

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/pkg/config"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

// massScale is the number of decimal places kept for kilogram amounts.
const massScale = 6

// Rates is the pricing table applied by the Engine.
type Rates struct {
	PricePerLiter     decimal.Decimal
	CarbonCreditPerKg decimal.Decimal
	ProcessingFee     decimal.Decimal
	RegulatoryFee     decimal.Decimal
	DefaultFuelPerCO2 decimal.Decimal
	BlendRatio        decimal.Decimal
	ReductionRatio    decimal.Decimal
	Currency          string
	Validity          time.Duration
}

// DefaultRates mirrors the defaults of config.PricingConfig.
func DefaultRates() Rates {
	return Rates{
		PricePerLiter:     decimal.RequireFromString("3.20"),
		CarbonCreditPerKg: decimal.RequireFromString("0.045"),
		ProcessingFee:     decimal.RequireFromString("25.00"),
		RegulatoryFee:     decimal.RequireFromString("12.50"),
		DefaultFuelPerCO2: decimal.RequireFromString("3.3"),
		BlendRatio:        decimal.RequireFromString("0.25"),
		ReductionRatio:    decimal.RequireFromString("0.80"),
		Currency:          "usd",
		Validity:          time.Hour,
	}
}

// RatesFromConfig parses the pricing section of the service config.
func RatesFromConfig(pricing config.PricingConfig, currency string) (Rates, error) {
	rates := Rates{Currency: strings.ToLower(strings.TrimSpace(currency)), Validity: pricing.QuoteValidity}
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"price per liter", pricing.PricePerLiter, &rates.PricePerLiter},
		{"carbon credit per kg", pricing.CarbonCreditPerKg, &rates.CarbonCreditPerKg},
		{"processing fee", pricing.ProcessingFee, &rates.ProcessingFee},
		{"regulatory fee", pricing.RegulatoryFee, &rates.RegulatoryFee},
		{"default fuel per co2", pricing.DefaultFuelPerCO2, &rates.DefaultFuelPerCO2},
		{"blend ratio", pricing.BlendRatio, &rates.BlendRatio},
		{"reduction ratio", pricing.ReductionRatio, &rates.ReductionRatio},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return Rates{}, fmt.Errorf("pricing %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return rates, rates.Validate()
}

// Validate checks that every rate is usable.
func (r Rates) Validate() error {
	switch {
	case !r.PricePerLiter.IsPositive():
		return fmt.Errorf("price per liter must be positive")
	case r.CarbonCreditPerKg.IsNegative():
		return fmt.Errorf("carbon credit per kg must not be negative")
	case r.ProcessingFee.IsNegative(), r.RegulatoryFee.IsNegative():
		return fmt.Errorf("fees must not be negative")
	case !r.DefaultFuelPerCO2.IsPositive():
		return fmt.Errorf("default fuel per co2 must be positive")
	case !r.BlendRatio.IsPositive() || r.BlendRatio.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("blend ratio must be in (0, 1]")
	case !r.ReductionRatio.IsPositive() || r.ReductionRatio.GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("reduction ratio must be in (0, 1]")
	case r.Validity <= 0:
		return fmt.Errorf("quote validity must be positive")
	case r.Currency == "":
		return fmt.Errorf("currency is required")
	}
	return nil
}

// Breakdown itemizes the quoted total.
type Breakdown struct {
	BaseCost      decimal.Decimal `json:"base_cost"`
	CarbonCredit  decimal.Decimal `json:"carbon_credit"`
	ProcessingFee decimal.Decimal `json:"processing_fee"`
	RegulatoryFee decimal.Decimal `json:"regulatory_fee"`
}

// Sum returns the total of all components.
func (b Breakdown) Sum() decimal.Decimal {
	return b.BaseCost.Add(b.CarbonCredit).Add(b.ProcessingFee).Add(b.RegulatoryFee)
}

// Quote is an immutable, time-boxed price for offsetting one flight.
type Quote struct {
	FlightEmissionsKg decimal.Decimal  `json:"flight_emissions_kg"`
	AircraftType      string           `json:"aircraft_type,omitempty"`
	SAFVolumeLiters   decimal.Decimal  `json:"saf_volume_liters"`
	PricePerLiter     decimal.Decimal  `json:"price_per_liter"`
	Breakdown         Breakdown        `json:"breakdown"`
	TotalPrice        decimal.Decimal  `json:"total_price"`
	CarbonReductionKg decimal.Decimal  `json:"carbon_reduction_kg"`
	Currency          string           `json:"currency"`
	ValidUntil        time.Time        `json:"valid_until"`
	Flight            *flights.Details `json:"flight,omitempty"`
}

// Expired reports whether the quote can no longer be redeemed at now.
func (q Quote) Expired(now time.Time) bool {
	return now.After(q.ValidUntil)
}

// Engine computes quotes from flight emissions. It holds no mutable state.
type Engine struct {
	rates Rates
	clock func() time.Time
}

// NewEngine validates rates and returns an engine reading time from clock.
func NewEngine(rates Rates, clock func() time.Time) (*Engine, error) {
	if err := rates.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{rates: rates, clock: clock}, nil
}

// Rates returns the pricing table in effect.
func (e *Engine) Rates() Rates {
	return e.rates
}

// Compute prices the SAF purchase needed to offset flightEmissionsKg.
// Monetary components are rounded to cents before summing so the total
// always equals the breakdown.
func (e *Engine) Compute(flightEmissionsKg float64, aircraftType string) (Quote, error) {
	if math.IsNaN(flightEmissionsKg) || math.IsInf(flightEmissionsKg, 0) || flightEmissionsKg <= 0 {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "flight emissions must be a positive number").
			WithDetails(map[string]string{"flight_emissions_kg": "must be greater than 0"})
	}
	emissions := decimal.NewFromFloat(flightEmissionsKg).Round(massScale)

	// Volume rounds up so any positive emission buys at least 0.1 L.
	volume := emissions.Mul(e.fuelFactor(aircraftType)).Mul(e.rates.BlendRatio).RoundCeil(1)
	reduction := emissions.Mul(e.rates.ReductionRatio).RoundFloor(massScale)
	if !emissions.IsPositive() || !reduction.IsPositive() {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "flight emissions too small to offset").
			WithDetails(map[string]string{"flight_emissions_kg": "too small to offset"})
	}

	breakdown := Breakdown{
		BaseCost:      volume.Mul(e.rates.PricePerLiter).Round(2),
		CarbonCredit:  emissions.Mul(e.rates.CarbonCreditPerKg).Round(2),
		ProcessingFee: e.rates.ProcessingFee.Round(2),
		RegulatoryFee: e.rates.RegulatoryFee.Round(2),
	}

	return Quote{
		FlightEmissionsKg: emissions,
		AircraftType:      strings.TrimSpace(aircraftType),
		SAFVolumeLiters:   volume,
		PricePerLiter:     e.rates.PricePerLiter,
		Breakdown:         breakdown,
		TotalPrice:        breakdown.Sum(),
		CarbonReductionKg: reduction,
		Currency:          e.rates.Currency,
		ValidUntil:        e.clock().UTC().Add(e.rates.Validity).Truncate(time.Second),
	}, nil
}

func (e *Engine) fuelFactor(aircraftType string) decimal.Decimal {
	if factor, ok := aircraftFuelPerCO2[normalizeAircraft(aircraftType)]; ok {
		return factor
	}
	return e.rates.DefaultFuelPerCO2
}
