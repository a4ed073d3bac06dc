package certificates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
)

const upperHex = "0123456789ABCDEF"

var certificateNumberRe = regexp.MustCompile(`^CERT-[0-9A-F]{8}-[0-9A-F]{8}$`)

// numberGenerator builds CERT-{order prefix}-{random} identifiers.
type numberGenerator func(orderID uuid.UUID) string

func newNumberGenerator() (numberGenerator, error) {
	suffix, err := nanoid.CustomASCII(upperHex, 8)
	if err != nil {
		return nil, fmt.Errorf("certificate number generator: %w", err)
	}
	return func(orderID uuid.UUID) string {
		short := strings.ToUpper(strings.ReplaceAll(orderID.String(), "-", "")[:8])
		return fmt.Sprintf("CERT-%s-%s", short, suffix())
	}, nil
}

// NormalizeNumber upper-cases and trims a certificate number and reports
// whether it is well formed.
func NormalizeNumber(raw string) (string, bool) {
	number := strings.ToUpper(strings.TrimSpace(raw))
	return number, certificateNumberRe.MatchString(number)
}
