package emissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/safmarket/saf-backend/internal/flights"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errBaseURLRequired = errors.New("emissions oracle base url is required")

// Oracle resolves the CO2 emitted by one flight leg, in kilograms.
type Oracle interface {
	FlightEmissions(ctx context.Context, flight flights.Details) (float64, error)
}

// Client calls the external flight emissions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the per-request timeout on the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:    trimmed,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type emissionsResponse struct {
	CO2Kg *float64 `json:"co2_kg"`
}

// FlightEmissions looks up the flight. An unknown flight is a validation
// error; anything else going wrong is a dependency error.
func (c *Client) FlightEmissions(ctx context.Context, flight flights.Details) (float64, error) {
	if c == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "emissions oracle not configured")
	}

	query := url.Values{}
	query.Set("flight_number", flight.FlightNumber)
	query.Set("departure", flight.DepartureAirport)
	query.Set("arrival", flight.ArrivalAirport)
	query.Set("date", flight.DateString())
	if flight.AircraftType != "" {
		query.Set("aircraft", flight.AircraftType)
	}
	endpoint := fmt.Sprintf("%s/flights/emissions?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build emissions request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emissions oracle unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "flight not recognised by emissions oracle").
			WithDetails(map[string]string{"flight_number": "unknown flight"})
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "emissions oracle unavailable")
	}

	var body emissionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode emissions response")
	}
	if body.CO2Kg == nil || math.IsNaN(*body.CO2Kg) || math.IsInf(*body.CO2Kg, 0) || *body.CO2Kg <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "emissions oracle returned an unusable value")
	}
	return *body.CO2Kg, nil
}
