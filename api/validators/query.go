package validators

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

// QueryReader pulls typed values out of a query string and collects every
// problem so the caller can report them together.
type QueryReader struct {
	values   url.Values
	problems map[string]string
}

func Query(r *http.Request) *QueryReader {
	return &QueryReader{values: r.URL.Query(), problems: map[string]string{}}
}

// String returns the trimmed value, truncated to maxLen runes.
func (q *QueryReader) String(key string, maxLen int) string {
	value := strings.TrimSpace(q.values.Get(key))
	if maxLen > 0 {
		if runes := []rune(value); len(runes) > maxLen {
			value = string(runes[:maxLen])
		}
	}
	return value
}

// Int returns def when key is absent and records a problem when the value is
// not an integer within [min, max].
func (q *QueryReader) Int(key string, def, min, max int) int {
	raw := strings.TrimSpace(q.values.Get(key))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		q.problems[key] = "must be an integer"
	case value < min || value > max:
		q.problems[key] = "must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)
	default:
		return value
	}
	return def
}

// Err reports the collected problems as one validation error.
func (q *QueryReader) Err() error {
	if len(q.problems) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameters").WithDetails(q.problems)
}
