package controllers

import (
	"context"
	"net/http"

	"github.com/safmarket/saf-backend/api/responses"
	"github.com/safmarket/saf-backend/api/validators"
	"github.com/safmarket/saf-backend/internal/flights"
	"github.com/safmarket/saf-backend/internal/quotes"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
)

type quoteIssuer interface {
	Quote(ctx context.Context, req quotes.Request) (quotes.Issued, error)
}

// FlightRequest is the wire form of one flight leg.
type FlightRequest struct {
	FlightNumber     string `json:"flight_number" validate:"required,flightnumber"`
	DepartureAirport string `json:"departure_airport" validate:"required,iata"`
	ArrivalAirport   string `json:"arrival_airport" validate:"required,iata"`
	FlightDate       string `json:"flight_date" validate:"required,datetime=2006-01-02"`
	AircraftType     string `json:"aircraft_type,omitempty" validate:"max=32"`
}

// Input converts the request into the flight parser's raw input.
func (f FlightRequest) Input() flights.Input {
	return flights.Input{
		FlightNumber:     f.FlightNumber,
		DepartureAirport: f.DepartureAirport,
		ArrivalAirport:   f.ArrivalAirport,
		FlightDate:       f.FlightDate,
		AircraftType:     f.AircraftType,
	}
}

type quoteRequest struct {
	FlightEmissionsKg *float64       `json:"flight_emissions_kg,omitempty" validate:"omitempty,gt=0"`
	AircraftType      string         `json:"aircraft_type,omitempty" validate:"max=32"`
	Flight            *FlightRequest `json:"flight,omitempty"`
}

// Quote prices a SAF purchase. Callers either supply the flight's
// emissions or the flight itself, in which case the oracle is consulted.
func Quote(svc quoteIssuer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote service unavailable"))
			return
		}

		var body quoteRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.FlightEmissionsKg == nil && body.Flight == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "flight emissions or flight details are required").
				WithDetails(map[string]string{"flight_emissions_kg": "required when no flight is given"}))
			return
		}

		req := quotes.Request{
			FlightEmissionsKg: body.FlightEmissionsKg,
			AircraftType:      body.AircraftType,
		}
		if body.Flight != nil {
			details, err := flights.Parse(body.Flight.Input())
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			req.Flight = &details
		}

		issued, err := svc.Quote(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, issued)
	}
}

type pricingReader interface {
	Pricing() quotes.Pricing
}

// PricingConfig publishes the rates quotes are computed with.
func PricingConfig(svc pricingReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "quote service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.Pricing())
	}
}
