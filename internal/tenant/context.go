// Package tenant carries request-scoped tenant state (tenant id, data root, per-request
// overrides) through context.Context.
package tenant

import (
	"context"
	"errors"
	"path/filepath"
)

// Tenant isolation errors. Lookups fail closed: a missing tenant is an error, never a default.
var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when the tenant id or data root is unusable.
	ErrInvalidTenant = errors.New("invalid tenant")
)

type contextKey struct{}

// Context is the ambient state of one request. It is immutable once installed;
// handlers that need different values install a new Context.
type Context struct {
	// TenantID identifies the account (required).
	TenantID string

	// DataRoot is the tenant's data directory (required). It holds knowledge_bases/,
	// current_kb.json and dialogues.json.
	DataRoot string

	// KBOverride pins the knowledge base for this request (public widget endpoints).
	KBOverride string

	// Persona overrides the knowledge base's stored style for this request.
	Persona Persona

	// Model overrides the tenant's configured generation model for this request.
	Model Model
}

// Validate checks required fields.
func (c *Context) Validate() error {
	if c.TenantID == "" || c.DataRoot == "" {
		return ErrInvalidTenant
	}
	if !filepath.IsAbs(c.DataRoot) {
		return ErrInvalidTenant
	}
	return nil
}

// WithContext returns a copy of ctx carrying tc.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant Context. Returns ErrMissingTenant if absent.
func FromContext(ctx context.Context) (*Context, error) {
	tc, ok := ctx.Value(contextKey{}).(*Context)
	if !ok || tc == nil {
		return nil, ErrMissingTenant
	}
	return tc, nil
}

// MustFromContext extracts the tenant Context or panics.
// Use only when tenant presence is guaranteed by middleware.
func MustFromContext(ctx context.Context) *Context {
	tc, err := FromContext(ctx)
	if err != nil {
		panic("tenant context required but missing")
	}
	return tc
}

// DataRoot returns the data root of the tenant in ctx.
func DataRoot(ctx context.Context) (string, error) {
	tc, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return tc.DataRoot, nil
}

// ID returns the tenant id in ctx, or "" if absent.
func ID(ctx context.Context) string {
	tc, err := FromContext(ctx)
	if err != nil {
		return ""
	}
	return tc.TenantID
}
