package certificates

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

func registration() RegistrationRequest {
	return RegistrationRequest{
		CertificateNumber: "CERT-1A2B3C4D-DEADBEEF",
		OrderID:           uuid.New(),
		FlightNumber:      "AF006",
		FlightDate:        "2026-12-02",
		SAFVolumeLiters:   decimal.RequireFromString("825.0"),
		CarbonReductionKg: decimal.RequireFromString("800.00"),
		IssuedAt:          time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
	}
}

func TestHTTPRegistryRegister(t *testing.T) {
	var got RegistrationRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/certificates", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "CERT-1A2B3C4D-DEADBEEF", r.Header.Get("Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"registry_id":"REG-99887766"}`))
	}))
	defer srv.Close()

	reg, err := NewHTTPRegistry(srv.URL+"/", "key-1", time.Second)
	require.NoError(t, err)

	record, err := reg.Register(context.Background(), registration())
	require.NoError(t, err)
	assert.Equal(t, "REG-99887766", record.RegistryID)
	assert.Equal(t, "AF006", got.FlightNumber)
	assert.True(t, got.SAFVolumeLiters.Equal(decimal.RequireFromString("825")))
}

func TestHTTPRegistryFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		},
		"empty id": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"registry_id":""}`))
		},
		"bad body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			reg, err := NewHTTPRegistry(srv.URL, "", time.Second)
			require.NoError(t, err)
			_, err = reg.Register(context.Background(), registration())
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
		})
	}
}

func TestNewHTTPRegistryRequiresURL(t *testing.T) {
	_, err := NewHTTPRegistry("  ", "", time.Second)
	assert.ErrorIs(t, err, errRegistryURLRequired)
}

func TestLocalRegistryMintsIDs(t *testing.T) {
	reg, err := NewLocalRegistry()
	require.NoError(t, err)

	first, err := reg.Register(context.Background(), registration())
	require.NoError(t, err)
	second, err := reg.Register(context.Background(), registration())
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^REG-[0-9A-F]{8}$`)
	assert.Regexp(t, pattern, first.RegistryID)
	assert.Regexp(t, pattern, second.RegistryID)
	assert.NotEqual(t, first.RegistryID, second.RegistryID)

	_, err = reg.Register(context.Background(), RegistrationRequest{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNumberGenerator(t *testing.T) {
	gen, err := newNumberGenerator()
	require.NoError(t, err)
	id := uuid.MustParse("1a2b3c4d-0000-4000-8000-000000000000")

	number := gen(id)
	normalized, ok := NormalizeNumber(number)
	assert.True(t, ok)
	assert.Equal(t, number, normalized)
	assert.Regexp(t, `^CERT-1A2B3C4D-[0-9A-F]{8}$`, number)
	assert.NotEqual(t, number, gen(id))

	_, ok = NormalizeNumber("CERT-1A2B3C4D")
	assert.False(t, ok)
}
