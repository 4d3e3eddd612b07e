package tenant

import "context"

// scopeContextKey is the context key for the resolved Scope.
type scopeContextKey struct{}

// NewContext returns a context carrying the resolved tenant scope.
func NewContext(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, scope)
}

// FromContext extracts the tenant scope from a context.
// Returns ErrUnresolvedTenant if absent - fail closed.
func FromContext(ctx context.Context) (Scope, error) {
	val := ctx.Value(scopeContextKey{})
	if val == nil {
		return Scope{}, ErrUnresolvedTenant
	}
	scope, ok := val.(Scope)
	if !ok || scope.TenantID == "" {
		return Scope{}, ErrUnresolvedTenant
	}
	return scope, nil
}

// HasScope checks whether a scope is present in the context.
func HasScope(ctx context.Context) bool {
	_, err := FromContext(ctx)
	return err == nil
}
