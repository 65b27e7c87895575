// Package tenant carries the tenant identity resolved for a request.  The
// platform is schema-per-tenant: every repository qualifies its tables with
// the schema derived from the tenant ID stored in the request context.
package tenant

import (
	"context"
	"regexp"
)

// contextKey is the unexported key type for storing tenant info in context.
type contextKey struct{}

// Info holds the resolved tenant identity injected into the request context
// by the tenant middleware.
type Info struct {
	// ID is the unique tenant identifier extracted from the request.
	ID string `json:"id"`
	// Name is the human-readable tenant name, when known.
	Name string `json:"name,omitempty"`
	// Active indicates whether the tenant account is currently active.
	Active bool `json:"active"`
}

// idPattern restricts tenant IDs to lowercase alphanumerics and underscores
// so the derived schema name is always a valid, injection-safe PostgreSQL
// identifier.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidID reports whether id is an acceptable tenant identifier.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// SchemaName returns the PostgreSQL schema holding the tenant's tables.
func SchemaName(id string) string {
	return "tenant_" + id
}

// WithInfo returns a child context carrying the tenant info.
func WithInfo(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// FromContext retrieves the tenant info from ctx.  The second return value
// is false when no tenant has been resolved.
func FromContext(ctx context.Context) (*Info, bool) {
	info, ok := ctx.Value(contextKey{}).(*Info)
	return info, ok
}

// MustFromContext retrieves the tenant info or panics.  Use only on code
// paths guaranteed to run behind the tenant middleware.
func MustFromContext(ctx context.Context) *Info {
	info, ok := FromContext(ctx)
	if !ok || info == nil {
		panic("tenant: Info not found in context; ensure tenant middleware is applied")
	}
	return info
}

// SchemaFromContext returns the schema name for the tenant in ctx, or
// "public" when no tenant is present (single-tenant deployments).
func SchemaFromContext(ctx context.Context) string {
	info, ok := FromContext(ctx)
	if !ok || info == nil {
		return "public"
	}
	return SchemaName(info.ID)
}
