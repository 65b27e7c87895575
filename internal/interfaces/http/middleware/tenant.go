package middleware

import (
	"net/http"

	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

// TenantConfig holds configuration for the tenant middleware.
type TenantConfig struct {
	// HeaderName is the HTTP header carrying the tenant ID.
	// Default: "X-Tenant-ID".
	HeaderName string

	// QueryParam is the query parameter used as a fallback when the header
	// is absent.  Default: "tenant_id".
	QueryParam string

	// DefaultTenantID is used when no tenant ID can be extracted and
	// Required is false.
	DefaultTenantID string

	// Required, when true, rejects requests without a tenant ID with 400.
	Required bool
}

// DefaultTenantConfig returns a TenantConfig with sensible defaults.
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		HeaderName: "X-Tenant-ID",
		QueryParam: "tenant_id",
		Required:   true,
	}
}

// NewTenantMiddleware extracts and validates the tenant ID from each request
// and injects tenant.Info into the request context.  Every repository
// downstream derives its schema from that context, so this middleware is the
// single entry point for tenant isolation.
//
// Extraction order: header, then query parameter, then DefaultTenantID.
func NewTenantMiddleware(cfg TenantConfig, logger logging.Logger) func(http.Handler) http.Handler {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "X-Tenant-ID"
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "tenant_id"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get(cfg.HeaderName)
			if tenantID == "" {
				tenantID = r.URL.Query().Get(cfg.QueryParam)
			}
			if tenantID == "" {
				tenantID = cfg.DefaultTenantID
			}

			if tenantID == "" {
				if cfg.Required {
					writeTenantError(w, http.StatusBadRequest, "tenant ID is required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// The ID becomes part of a schema identifier; reject anything
			// outside the safe character set before it reaches SQL.
			if !tenant.ValidID(tenantID) {
				logger.Warn("Rejected invalid tenant ID", logging.String("tenant_id", tenantID))
				writeTenantError(w, http.StatusUnprocessableEntity, "invalid tenant ID format")
				return
			}

			info := &tenant.Info{ID: tenantID, Active: true}
			ctx := tenant.WithInfo(r.Context(), info)

			// Echo the resolved tenant back for client-side debugging.
			w.Header().Set(cfg.HeaderName, tenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeTenantError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := `{"code":"` + string(errors.ErrCodeValidation) + `","message":"` + msg + `"}`
	_, _ = w.Write([]byte(body))
}
