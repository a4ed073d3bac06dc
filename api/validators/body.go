package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/safmarket/saf-backend/internal/flights"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("flightnumber", func(fl validator.FieldLevel) bool {
		return flights.ValidFlightNumber(fl.Field().String())
	})
	_ = v.RegisterValidation("iata", func(fl validator.FieldLevel) bool {
		return flights.ValidAirportCode(fl.Field().String())
	})
	return v
}

// DecodeJSONBody reads at most 1 MiB of JSON into dest, rejects unknown
// fields and runs the struct's validate tags. Every failure is a
// CodeValidation error whose details map json field names to messages.
func DecodeJSONBody(r *http.Request, dest any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	}

	err := validate.Struct(dest)
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fieldErrs):
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = describe(fe)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
}

// ruleMessages maps validator tags to messages; %s is the tag parameter.
var ruleMessages = map[string]string{
	"required":     "is required",
	"min":          "must be at least %s",
	"gte":          "must be at least %s",
	"max":          "must be at most %s",
	"gt":           "must be greater than %s",
	"datetime":     "must match %s",
	"flightnumber": "must be 2-3 letters followed by 1-4 digits",
	"iata":         "must be a 3-letter airport code",
}

func describe(fe validator.FieldError) string {
	msg, ok := ruleMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.Contains(msg, "%s") {
		return fmt.Sprintf(msg, fe.Param())
	}
	return msg
}
