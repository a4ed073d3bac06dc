package enums

import "fmt"

// GatewayOutcome is the normalized result reported by the payment gateway.
type GatewayOutcome string

const (
	GatewayOutcomeSucceeded GatewayOutcome = "succeeded"
	GatewayOutcomeFailed    GatewayOutcome = "failed"
	GatewayOutcomeExpired   GatewayOutcome = "expired"
)

var validGatewayOutcomes = []GatewayOutcome{
	GatewayOutcomeSucceeded,
	GatewayOutcomeFailed,
	GatewayOutcomeExpired,
}

// String implements fmt.Stringer.
func (o GatewayOutcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known GatewayOutcome.
func (o GatewayOutcome) IsValid() bool {
	for _, candidate := range validGatewayOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseGatewayOutcome converts raw input into a GatewayOutcome.
func ParseGatewayOutcome(value string) (GatewayOutcome, error) {
	for _, candidate := range validGatewayOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway outcome %q", value)
}
