package flights

import (
	"regexp"
	"strings"
	"time"

	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

// DateLayout is the wire format for flight dates.
const DateLayout = "2006-01-02"

var (
	flightNumberRe = regexp.MustCompile(`^[A-Z]{2,3}[0-9]{1,4}$`)
	airportRe      = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Details identifies one flight leg.
type Details struct {
	FlightNumber     string    `json:"flight_number"`
	DepartureAirport string    `json:"departure_airport"`
	ArrivalAirport   string    `json:"arrival_airport"`
	FlightDate       time.Time `json:"flight_date"`
	AircraftType     string    `json:"aircraft_type,omitempty"`
}

// Input is the raw, unvalidated form of Details.
type Input struct {
	FlightNumber     string
	DepartureAirport string
	ArrivalAirport   string
	FlightDate       string
	AircraftType     string
}

// Parse normalizes casing and whitespace and validates every field. All
// field problems are reported together in the error details.
func Parse(in Input) (Details, error) {
	number := normalizeCode(in.FlightNumber)
	dep := normalizeCode(in.DepartureAirport)
	arr := normalizeCode(in.ArrivalAirport)

	problems := map[string]string{}
	if !flightNumberRe.MatchString(number) {
		problems["flight_number"] = "must be 2-3 letters followed by 1-4 digits"
	}
	if !airportRe.MatchString(dep) {
		problems["departure_airport"] = "must be a 3-letter airport code"
	}
	if !airportRe.MatchString(arr) {
		problems["arrival_airport"] = "must be a 3-letter airport code"
	}
	date, err := time.Parse(DateLayout, strings.TrimSpace(in.FlightDate))
	if err != nil {
		problems["flight_date"] = "must be a valid date (YYYY-MM-DD)"
	}
	if len(problems) == 0 && dep == arr {
		problems["arrival_airport"] = "must differ from departure airport"
	}
	if len(problems) > 0 {
		return Details{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid flight details").WithDetails(problems)
	}

	return Details{
		FlightNumber:     number,
		DepartureAirport: dep,
		ArrivalAirport:   arr,
		FlightDate:       date.UTC(),
		AircraftType:     strings.TrimSpace(in.AircraftType),
	}, nil
}

// DateString renders the flight date in DateLayout.
func (d Details) DateString() string {
	if d.FlightDate.IsZero() {
		return ""
	}
	return d.FlightDate.Format(DateLayout)
}

// SameFlight reports whether both values name the same flight leg.
func (d Details) SameFlight(other Details) bool {
	return d.FlightNumber == other.FlightNumber &&
		d.DepartureAirport == other.DepartureAirport &&
		d.ArrivalAirport == other.ArrivalAirport &&
		d.DateString() == other.DateString()
}

// ValidFlightNumber reports whether raw is an acceptable flight number after normalization.
func ValidFlightNumber(raw string) bool {
	return flightNumberRe.MatchString(normalizeCode(raw))
}

// ValidAirportCode reports whether raw is an acceptable airport code after normalization.
func ValidAirportCode(raw string) bool {
	return airportRe.MatchString(normalizeCode(raw))
}

func normalizeCode(raw string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
}
