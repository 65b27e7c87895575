package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
)

func newAuthTestHandler() (http.Handler, *string) {
	var user string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = ContextGetUserID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &user
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	inner, user := newAuthTestHandler()
	mw := NewAuthMiddleware(AuthConfig{
		Enabled: true,
		Tokens:  map[string]string{"secret-token": "user-1"},
	}, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	rec := httptest.NewRecorder()
	mw.Handler(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", *user)
}

func TestAuthMiddleware_RejectsMissingAndUnknown(t *testing.T) {
	inner, _ := newAuthTestHandler()
	mw := NewAuthMiddleware(AuthConfig{
		Enabled: true,
		Tokens:  map[string]string{"secret-token": "user-1"},
	}, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	rec := httptest.NewRecorder()
	mw.Handler(inner).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req = httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	mw.Handler(inner).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_SkipPath(t *testing.T) {
	inner, _ := newAuthTestHandler()
	mw := NewAuthMiddleware(AuthConfig{
		Enabled:   true,
		Tokens:    map[string]string{},
		SkipPaths: []string{"/healthz"},
	}, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mw.Handler(inner).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	inner, user := newAuthTestHandler()
	mw := NewAuthMiddleware(AuthConfig{Enabled: false}, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	rec := httptest.NewRecorder()
	mw.Handler(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, *user)
}

func TestRateLimit_Exceeded(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 2, 0)
	defer limiter.Stop()

	cfg := DefaultRateLimitConfig()
	mw := RateLimit(limiter, cfg)
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		mw(inner).ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRateLimit_SkipPath(t *testing.T) {
	limiter := NewTokenBucketLimiter(1, 1, 0)
	defer limiter.Stop()

	mw := RateLimit(limiter, DefaultRateLimitConfig())
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		mw(inner).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
