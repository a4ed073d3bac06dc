package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
)

type replayStore struct {
	entries map[string]string
	getErr  error
}

func newReplayStore() *replayStore {
	return &replayStore{entries: map[string]string{}}
}

func (s *replayStore) Get(_ context.Context, key string) (string, error) {
	if s.getErr != nil {
		return "", s.getErr
	}
	v, ok := s.entries[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *replayStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = value.(string)
	return true, nil
}

func (s *replayStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

func (s *replayStore) IdempotencyKey(scope, id string) string {
	return scope + "#" + id
}

func postAs(user, path, body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	return req.WithContext(WithUserID(req.Context(), user))
}

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func TestReplayTTL(t *testing.T) {
	cases := []struct {
		method string
		path   string
		ttl    time.Duration
		ok     bool
	}{
		{http.MethodPost, "/api/v1/orders", orderReplayTTL, true},
		{http.MethodPost, "/api/v1/orders/", orderReplayTTL, true},
		{http.MethodPost, "/api/v1/orders/ord_1/payments", paymentReplayTTL, true},
		{http.MethodPost, "/api/v1/orders/ord_1/cancel", paymentReplayTTL, true},
		{http.MethodPost, "/api/v1/payments/pay_1/refund", paymentReplayTTL, true},
		{http.MethodPost, "/api/v1/orders/ord_1/extra/cancel", 0, false},
		{http.MethodGet, "/api/v1/orders", 0, false},
		{http.MethodPost, "/api/v1/quotes", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			ttl, ok := replayTTL(tc.method, tc.path)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.ttl, ttl)
		})
	}
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := newReplayStore()
	var calls int
	h := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated, `{"id":"ord_1"}`))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, postAs("u1", "/api/v1/orders", `{"quote_id":"q1"}`, "k1"))
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("Idempotent-Replayed"))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, postAs("u1", "/api/v1/orders", `{"quote_id":"q1"}`, "k1"))
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"id":"ord_1"}`, second.Body.String())
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	store := newReplayStore()
	var calls int
	h := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated, `{}`))

	h.ServeHTTP(httptest.NewRecorder(), postAs("u1", "/api/v1/orders", `{}`, "shared"))
	h.ServeHTTP(httptest.NewRecorder(), postAs("u2", "/api/v1/orders", `{}`, "shared"))
	assert.Equal(t, 2, calls)
	assert.Len(t, store.entries, 2)
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	store := newReplayStore()
	var calls int
	h := Idempotency(store, nil)(countingHandler(&calls, http.StatusOK, `{}`))

	h.ServeHTTP(httptest.NewRecorder(), postAs("u1", "/api/v1/orders", `{"quote_id":"q1"}`, "k"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postAs("u1", "/api/v1/orders", `{"quote_id":"q2"}`, "k"))

	require.Equal(t, http.StatusConflict, rec.Code)
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), envelope.Error.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotencyDoesNotStoreServerErrors(t *testing.T) {
	store := newReplayStore()
	var calls int
	h := Idempotency(store, nil)(countingHandler(&calls, http.StatusServiceUnavailable, `{}`))

	h.ServeHTTP(httptest.NewRecorder(), postAs("u1", "/api/v1/orders/o1/payments", `{}`, "retry"))
	h.ServeHTTP(httptest.NewRecorder(), postAs("u1", "/api/v1/orders/o1/payments", `{}`, "retry"))
	assert.Empty(t, store.entries)
	assert.Equal(t, 2, calls)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	store := newReplayStore()
	var calls int
	h := Idempotency(store, nil)(countingHandler(&calls, http.StatusCreated, `{}`))

	h.ServeHTTP(httptest.NewRecorder(), postAs("u1", "/api/v1/orders", `{}`, ""))
	h.ServeHTTP(httptest.NewRecorder(), postAs("u1", "/api/v1/orders", `{}`, ""))
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.entries)
}

func TestIdempotencyRejectsOversizedKey(t *testing.T) {
	var calls int
	h := Idempotency(newReplayStore(), nil)(countingHandler(&calls, http.StatusOK, `{}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postAs("u1", "/api/v1/orders", `{}`, strings.Repeat("k", maxKeyLength+1)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, calls)
}

func TestIdempotencyStoreOutageIsDependencyError(t *testing.T) {
	store := newReplayStore()
	store.getErr = errors.New("connection refused")
	var calls int
	h := Idempotency(store, nil)(countingHandler(&calls, http.StatusOK, `{}`))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postAs("u1", "/api/v1/orders", `{}`, "k"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, calls)
}
