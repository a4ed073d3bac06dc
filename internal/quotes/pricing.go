package quotes

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Pricing is the public view of the rates quotes are computed with.
type Pricing struct {
	PricePerLiter     decimal.Decimal  `json:"price_per_liter"`
	CarbonCreditPerKg decimal.Decimal  `json:"carbon_credit_per_kg"`
	ProcessingFee     decimal.Decimal  `json:"processing_fee"`
	RegulatoryFee     decimal.Decimal  `json:"regulatory_fee"`
	BlendRatio        decimal.Decimal  `json:"blend_ratio"`
	ReductionRatio    decimal.Decimal  `json:"reduction_ratio"`
	Currency          string           `json:"currency"`
	QuoteValidity     int64            `json:"quote_validity_seconds"`
	FuelFactors       []AircraftFactor `json:"fuel_factors"`
	DefaultFuelFactor decimal.Decimal  `json:"default_fuel_factor"`
}

// AircraftFactor is the liters of fuel per kilogram of CO2 for one airframe.
type AircraftFactor struct {
	AircraftType string          `json:"aircraft_type"`
	LitersPerKg  decimal.Decimal `json:"liters_per_kg"`
}

// Pricing describes the rates in effect, airframes sorted by name.
func (e *Engine) Pricing() Pricing {
	factors := make([]AircraftFactor, 0, len(aircraftFuelPerCO2))
	for name, factor := range aircraftFuelPerCO2 {
		factors = append(factors, AircraftFactor{AircraftType: name, LitersPerKg: factor})
	}
	sort.Slice(factors, func(i, j int) bool { return factors[i].AircraftType < factors[j].AircraftType })

	r := e.rates
	return Pricing{
		PricePerLiter:     r.PricePerLiter,
		CarbonCreditPerKg: r.CarbonCreditPerKg,
		ProcessingFee:     r.ProcessingFee,
		RegulatoryFee:     r.RegulatoryFee,
		BlendRatio:        r.BlendRatio,
		ReductionRatio:    r.ReductionRatio,
		Currency:          r.Currency,
		QuoteValidity:     int64(r.Validity.Seconds()),
		FuelFactors:       factors,
		DefaultFuelFactor: r.DefaultFuelPerCO2,
	}
}
