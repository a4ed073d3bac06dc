package certificates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	nanoid "github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"

	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

const responseBodyReadLimit int64 = 1024

var errRegistryURLRequired = errors.New("certificate registry base url is required")

// Registry records issued certificates with the external SAF registry.
type Registry interface {
	Register(ctx context.Context, req RegistrationRequest) (RegistryRecord, error)
}

// RegistrationRequest is the payload announced to the registry.
type RegistrationRequest struct {
	CertificateNumber string          `json:"certificate_number"`
	OrderID           uuid.UUID       `json:"order_id"`
	FlightNumber      string          `json:"flight_number"`
	FlightDate        string          `json:"flight_date"`
	DepartureAirport  string          `json:"departure_airport"`
	ArrivalAirport    string          `json:"arrival_airport"`
	SAFVolumeLiters   decimal.Decimal `json:"saf_volume_liters"`
	CarbonReductionKg decimal.Decimal `json:"carbon_reduction_kg"`
	IssuedAt          time.Time       `json:"issued_at"`
}

// RegistryRecord is the registry's acknowledgement.
type RegistryRecord struct {
	RegistryID string `json:"registry_id"`
}

// HTTPRegistry posts registrations to the registry API.
type HTTPRegistry struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPRegistry builds a registry client with a bounded request timeout.
func NewHTTPRegistry(baseURL, apiKey string, timeout time.Duration) (*HTTPRegistry, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errRegistryURLRequired
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRegistry{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    trimmed,
		apiKey:     strings.TrimSpace(apiKey),
	}, nil
}

func (r *HTTPRegistry) Register(ctx context.Context, req RegistrationRequest) (RegistryRecord, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return RegistryRecord{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode registration")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/certificates", bytes.NewReader(body))
	if err != nil {
		return RegistryRecord{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build registry request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.CertificateNumber)
	if r.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return RegistryRecord{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "certificate registry unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return RegistryRecord{}, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "certificate registry rejected registration")
	}

	var record RegistryRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return RegistryRecord{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode registry response")
	}
	if strings.TrimSpace(record.RegistryID) == "" {
		return RegistryRecord{}, pkgerrors.New(pkgerrors.CodeDependency, "certificate registry returned no id")
	}
	return record, nil
}

// LocalRegistry mints registry ids in-process for development setups
// without a registry.
type LocalRegistry struct {
	next func() string
}

// NewLocalRegistry issues registry ids locally for environments without a registry.
func NewLocalRegistry() (*LocalRegistry, error) {
	gen, err := nanoid.CustomASCII(upperHex, 8)
	if err != nil {
		return nil, fmt.Errorf("registry id generator: %w", err)
	}
	return &LocalRegistry{next: gen}, nil
}

func (r *LocalRegistry) Register(_ context.Context, req RegistrationRequest) (RegistryRecord, error) {
	if req.CertificateNumber == "" {
		return RegistryRecord{}, pkgerrors.New(pkgerrors.CodeValidation, "certificate number required")
	}
	return RegistryRecord{RegistryID: "REG-" + r.next()}, nil
}
