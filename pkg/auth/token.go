package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/safmarket/saf-backend/pkg/config"
	"github.com/safmarket/saf-backend/pkg/enums"
)

var signingMethod = jwt.SigningMethodHS256

var (
	errNoSecret  = errors.New("jwt secret is required")
	errNoSubject = errors.New("token has no subject")
)

// MintAccessToken signs an HS256 access token for payload that expires
// cfg.AccessTTL after now. A blank JTI gets a random one.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	userID := strings.TrimSpace(payload.UserID)
	var problems []error
	if cfg.Secret == "" {
		problems = append(problems, errNoSecret)
	}
	if cfg.Issuer == "" {
		problems = append(problems, errors.New("jwt issuer is required"))
	}
	if cfg.AccessTTL <= 0 {
		problems = append(problems, errors.New("jwt access ttl must be positive"))
	}
	if userID == "" {
		problems = append(problems, errors.New("user id is required"))
	}
	if !payload.Role.IsValid() {
		problems = append(problems, fmt.Errorf("invalid role %q", payload.Role))
	}
	if err := errors.Join(problems...); err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}

	id := strings.TrimSpace(payload.JTI)
	if id == "" {
		id = uuid.NewString()
	}
	token := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		UserID: userID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.AccessTTL)),
		},
	})
	return token.SignedString([]byte(cfg.Secret))
}

// ParseAccessToken verifies signature, issuer and expiry. Tokens minted by
// the identity provider may carry only a subject and no role; those resolve
// to a customer identified by the subject.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errNoSecret
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	claims := new(AccessTokenClaims)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}

	if claims.UserID = strings.TrimSpace(claims.UserID); claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	switch {
	case claims.UserID == "":
		return nil, errNoSubject
	case claims.Role == "":
		claims.Role = enums.RoleCustomer
	case !claims.Role.IsValid():
		return nil, fmt.Errorf("invalid role %q", claims.Role)
	}
	return claims, nil
}
