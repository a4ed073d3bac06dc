package quotes

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Liters of jet fuel burned per kilogram of CO2 emitted, per airframe.
var aircraftFuelPerCO2 = map[string]decimal.Decimal{
	"A320":      decimal.RequireFromString("3.3"),
	"A321":      decimal.RequireFromString("3.2"),
	"A350-900":  decimal.RequireFromString("2.9"),
	"737-800":   decimal.RequireFromString("3.4"),
	"737 MAX 8": decimal.RequireFromString("3.0"),
	"777-200":   decimal.RequireFromString("3.1"),
	"777-300ER": decimal.RequireFromString("3.5"),
	"E175":      decimal.RequireFromString("3.8"),
	"E190":      decimal.RequireFromString("3.6"),
}

var manufacturerPrefixes = []string{"AIRBUS ", "BOEING ", "EMBRAER "}

func normalizeAircraft(raw string) string {
	name := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	for _, prefix := range manufacturerPrefixes {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}
