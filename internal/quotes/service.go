package quotes

import (
	"context"
	"time"

	"github.com/safmarket/saf-backend/internal/emissions"
	"github.com/safmarket/saf-backend/internal/flights"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
)

// Request asks for a quote. Either the emissions are supplied directly or
// a flight is supplied and the oracle is consulted.
type Request struct {
	FlightEmissionsKg *float64
	AircraftType      string
	Flight            *flights.Details
}

// Issued is a computed quote plus the token that redeems it.
type Issued struct {
	Quote Quote  `json:"quote"`
	Token string `json:"quote_token"`
}

// Service prices flights and signs the quotes it hands out.
type Service struct {
	engine *Engine
	signer *Signer
	oracle emissions.Oracle
	clock  func() time.Time
	logg   *logger.Logger
}

// NewService wires the engine to its signer. oracle may be nil, in which
// case requests must carry their own emissions figure.
func NewService(engine *Engine, signer *Signer, oracle emissions.Oracle, clock func() time.Time, logg *logger.Logger) (*Service, error) {
	if engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "quote engine required")
	}
	if signer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "quote signer required")
	}
	if clock == nil {
		clock = time.Now
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{engine: engine, signer: signer, oracle: oracle, clock: clock, logg: logg}, nil
}

// Pricing returns the rates quotes are currently computed with.
func (s *Service) Pricing() Pricing {
	return s.engine.Pricing()
}

func (s *Service) Quote(ctx context.Context, req Request) (Issued, error) {
	aircraft := req.AircraftType
	if aircraft == "" && req.Flight != nil {
		aircraft = req.Flight.AircraftType
	}

	var emissionsKg float64
	switch {
	case req.FlightEmissionsKg != nil:
		emissionsKg = *req.FlightEmissionsKg
	case req.Flight == nil:
		return Issued{}, pkgerrors.New(pkgerrors.CodeValidation, "flight emissions or flight details are required").
			WithDetails(map[string]string{"flight_emissions_kg": "required when no flight is given"})
	case s.oracle == nil:
		return Issued{}, pkgerrors.New(pkgerrors.CodeDependency, "emissions oracle not configured")
	default:
		value, err := s.oracle.FlightEmissions(ctx, *req.Flight)
		if err != nil {
			s.logg.Error(ctx, "emissions lookup failed", err)
			return Issued{}, err
		}
		emissionsKg = value
	}

	q, err := s.engine.Compute(emissionsKg, aircraft)
	if err != nil {
		return Issued{}, err
	}
	q.Flight = req.Flight

	token, err := s.signer.Sign(q, s.clock())
	if err != nil {
		return Issued{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sign quote")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"total_price": q.TotalPrice.String(),
		"valid_until": q.ValidUntil,
	})
	s.logg.Info(ctx, "quote issued")
	return Issued{Quote: q, Token: token}, nil
}

// Redeem decodes a quote token. Expiry is left to the caller.
func (s *Service) Redeem(token string) (Quote, error) {
	return s.signer.Verify(token)
}
