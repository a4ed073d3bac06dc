package quotes

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/safmarket/saf-backend/internal/flights"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

const quoteTokenAudience = "saf-quote"

var quoteSigningMethod = jwt.SigningMethodHS256

type quoteClaims struct {
	FlightEmissionsKg decimal.Decimal  `json:"emissions_kg"`
	AircraftType      string           `json:"aircraft_type,omitempty"`
	SAFVolumeLiters   decimal.Decimal  `json:"volume_l"`
	PricePerLiter     decimal.Decimal  `json:"price_per_l"`
	Breakdown         Breakdown        `json:"breakdown"`
	TotalPrice        decimal.Decimal  `json:"total"`
	CarbonReductionKg decimal.Decimal  `json:"reduction_kg"`
	Currency          string           `json:"currency"`
	Flight            *flights.Details `json:"flight,omitempty"`
	jwt.RegisteredClaims
}

// Signer turns quotes into tamper-evident tokens so clients can hand them
// back when placing an order.
type Signer struct {
	secret []byte
	issuer string
}

// NewSigner signs quote tokens with secret under issuer.
func NewSigner(secret, issuer string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("quote signing secret is required")
	}
	return &Signer{secret: []byte(secret), issuer: issuer}, nil
}

// Sign encodes q with its validUntil as the token expiry.
func (s *Signer) Sign(q Quote, issuedAt time.Time) (string, error) {
	claims := quoteClaims{
		FlightEmissionsKg: q.FlightEmissionsKg,
		AircraftType:      q.AircraftType,
		SAFVolumeLiters:   q.SAFVolumeLiters,
		PricePerLiter:     q.PricePerLiter,
		Breakdown:         q.Breakdown,
		TotalPrice:        q.TotalPrice,
		CarbonReductionKg: q.CarbonReductionKg,
		Currency:          q.Currency,
		Flight:            q.Flight,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{quoteTokenAudience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(q.ValidUntil),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(quoteSigningMethod, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing quote: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and returns the embedded quote. Expiry is not
// enforced here; callers compare ValidUntil against their own clock.
func (s *Signer) Verify(token string) (Quote, error) {
	if strings.TrimSpace(token) == "" {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "quote token is required").
			WithDetails(map[string]string{"quote_token": "required"})
	}

	claims := &quoteClaims{}
	parser := jwt.NewParser(
		jwt.WithoutClaimsValidation(),
		jwt.WithValidMethods([]string{quoteSigningMethod.Alg()}),
	)
	_, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid quote token").
			WithDetails(map[string]string{"quote_token": "signature or format invalid"})
	}
	if claims.Issuer != s.issuer || !audienceContains(claims.Audience, quoteTokenAudience) || claims.ExpiresAt == nil {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid quote token").
			WithDetails(map[string]string{"quote_token": "not a quote token"})
	}

	q := Quote{
		FlightEmissionsKg: claims.FlightEmissionsKg,
		AircraftType:      claims.AircraftType,
		SAFVolumeLiters:   claims.SAFVolumeLiters,
		PricePerLiter:     claims.PricePerLiter,
		Breakdown:         claims.Breakdown,
		TotalPrice:        claims.TotalPrice,
		CarbonReductionKg: claims.CarbonReductionKg,
		Currency:          claims.Currency,
		ValidUntil:        claims.ExpiresAt.Time.UTC(),
		Flight:            claims.Flight,
	}
	if !q.TotalPrice.Equal(q.Breakdown.Sum()) {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid quote token").
			WithDetails(map[string]string{"quote_token": "inconsistent totals"})
	}
	return q, nil
}

func audienceContains(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
