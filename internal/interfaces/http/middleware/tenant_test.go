package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
)

func tenantEcho(t *testing.T) (http.Handler, *tenant.Info) {
	t.Helper()
	captured := &tenant.Info{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if info, ok := tenant.FromContext(r.Context()); ok {
			*captured = *info
		}
		w.WriteHeader(http.StatusOK)
	})
	return h, captured
}

func TestTenantMiddleware_Header(t *testing.T) {
	inner, captured := tenantEcho(t)
	mw := NewTenantMiddleware(DefaultTenantConfig(), logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	req.Header.Set("X-Tenant-ID", "acme_trials")
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme_trials", captured.ID)
	assert.Equal(t, "acme_trials", rec.Header().Get("X-Tenant-ID"))
}

func TestTenantMiddleware_QueryFallback(t *testing.T) {
	inner, captured := tenantEcho(t)
	mw := NewTenantMiddleware(DefaultTenantConfig(), logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts?tenant_id=acme", nil)
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", captured.ID)
}

func TestTenantMiddleware_MissingRequired(t *testing.T) {
	inner, _ := tenantEcho(t)
	mw := NewTenantMiddleware(DefaultTenantConfig(), logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantMiddleware_InvalidID(t *testing.T) {
	inner, _ := tenantEcho(t)
	mw := NewTenantMiddleware(DefaultTenantConfig(), logging.NewNopLogger())

	tests := []string{"Acme", "1starts-with-digit", "has space", "drop;table"}
	for _, id := range tests {
		req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
		req.Header.Set("X-Tenant-ID", id)
		rec := httptest.NewRecorder()
		mw(inner).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "id %q", id)
	}
}

func TestTenantMiddleware_DefaultTenant(t *testing.T) {
	inner, captured := tenantEcho(t)
	cfg := TenantConfig{Required: false, DefaultTenantID: "shared"}
	mw := NewTenantMiddleware(cfg, logging.NewNopLogger())

	req := httptest.NewRequest(http.MethodGet, "/cohorts", nil)
	rec := httptest.NewRecorder()
	mw(inner).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "shared", captured.ID)
}
