package tenant

import (
	"context"
	"fmt"
	"sync"
)

// Resolver resolves an inbound request's tenant identifier to exactly one
// Scope, or fails closed with ErrUnresolvedTenant. Resolution is a pure
// lookup with no side effects.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (Scope, error)
}

// DirectoryResolver resolves scopes against a registry of known tenants.
//
// The directory is the source of truth for which tenants exist; an unknown
// or malformed identifier never falls back to a default scope. The Global
// scope is not resolvable through a resolver - it is only reachable as the
// implicit union member of storage queries.
type DirectoryResolver struct {
	mu      sync.RWMutex
	tenants map[string]struct{}
}

// NewDirectoryResolver creates a resolver seeded with known tenant IDs.
func NewDirectoryResolver(tenantIDs ...string) (*DirectoryResolver, error) {
	r := &DirectoryResolver{tenants: make(map[string]struct{}, len(tenantIDs))}
	for _, id := range tenantIDs {
		if err := r.Register(id); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tenant to the directory.
func (r *DirectoryResolver) Register(tenantID string) error {
	scope, err := NewScope(tenantID)
	if err != nil {
		return err
	}
	if scope.IsGlobal() {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTenantID, GlobalID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[tenantID] = struct{}{}
	return nil
}

// Resolve returns the scope for a known tenant ID, or ErrUnresolvedTenant.
func (r *DirectoryResolver) Resolve(ctx context.Context, tenantID string) (Scope, error) {
	scope, err := NewScope(tenantID)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrUnresolvedTenant, err)
	}
	if scope.IsGlobal() {
		return Scope{}, fmt.Errorf("%w: global scope is not addressable", ErrUnresolvedTenant)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tenants[tenantID]; !ok {
		return Scope{}, fmt.Errorf("%w: unknown tenant %q", ErrUnresolvedTenant, tenantID)
	}
	return scope, nil
}

var _ Resolver = (*DirectoryResolver)(nil)
