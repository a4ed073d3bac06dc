package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/safmarket/saf-backend/api/responses"
	pkgerrors "github.com/safmarket/saf-backend/pkg/errors"
	"github.com/safmarket/saf-backend/pkg/logger"
	pkgredis "github.com/safmarket/saf-backend/pkg/redis"
)

// IdempotencyHeader carries the client-chosen retry key.
const IdempotencyHeader = "Idempotency-Key"

const (
	orderReplayTTL   = 24 * time.Hour
	paymentReplayTTL = 7 * 24 * time.Hour
	maxKeyLength     = 255
)

// replayPolicy names a mutating endpoint and how long its responses are
// kept for replay. Segments equal to "*" match any single path segment.
type replayPolicy struct {
	method   string
	segments []string
	ttl      time.Duration
}

var replayPolicies = []replayPolicy{
	newReplayPolicy(http.MethodPost, "/api/v1/orders", orderReplayTTL),
	newReplayPolicy(http.MethodPost, "/api/v1/orders/*/cancel", paymentReplayTTL),
	newReplayPolicy(http.MethodPost, "/api/v1/orders/*/payments", paymentReplayTTL),
	newReplayPolicy(http.MethodPost, "/api/v1/payments/*/refund", paymentReplayTTL),
}

func newReplayPolicy(method, pattern string, ttl time.Duration) replayPolicy {
	return replayPolicy{method: method, segments: splitPath(pattern), ttl: ttl}
}

func (p replayPolicy) matches(method string, segments []string) bool {
	if p.method != method || len(p.segments) != len(segments) {
		return false
	}
	for i, want := range p.segments {
		if want != "*" && want != segments[i] {
			return false
		}
	}
	return true
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func replayTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	for _, policy := range replayPolicies {
		if policy.matches(method, segments) {
			return policy.ttl, true
		}
	}
	return 0, false
}

// storedResponse is the JSON document kept under each idempotency key.
type storedResponse struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

func (s storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// Idempotency replays the stored response when an order or payment mutation
// is retried with the same Idempotency-Key. Requests without the header run
// normally and rely on the order state machine to reject duplicates. 5xx
// responses are never stored.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			ttl, guarded := replayTTL(r.Method, r.URL.Path)
			if !guarded || clientKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(clientKey) > maxKeyLength {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key must be at most 255 characters"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			raw, err := store.Get(ctx, key)
			switch {
			case err == nil:
				var prior storedResponse
				if jsonErr := json.Unmarshal([]byte(raw), &prior); jsonErr != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, jsonErr, "decode stored response"))
					return
				}
				if prior.Fingerprint != fingerprint {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				prior.replay(w)
				return
			case !pkgredis.IsMiss(err):
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up idempotency key"))
				return
			}

			capture := &bodyCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)
			if capture.status >= http.StatusInternalServerError {
				return
			}

			payload, err := json.Marshal(storedResponse{
				Fingerprint: fingerprint,
				Status:      capture.status,
				ContentType: capture.Header().Get("Content-Type"),
				Body:        capture.buf.Bytes(),
			})
			if err == nil {
				_, err = store.SetNX(ctx, key, string(payload), ttl)
			}
			if err != nil && logg != nil {
				logg.Error(ctx, "store idempotent response", err)
			}
		})
	}
}

func fingerprintBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

type bodyCapture struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (c *bodyCapture) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *bodyCapture) Write(b []byte) (int, error) {
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}
