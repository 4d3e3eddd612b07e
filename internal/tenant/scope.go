// Package tenant defines the tenant scope type and fail-closed scope
// resolution. Every store query and orchestrator turn in the system is
// bound to exactly one Scope; no component ever assumes a default.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
)

// Common errors.
var (
	// ErrUnresolvedTenant is returned when no tenant scope can be resolved
	// for a request. Fatal for the request - there is no default scope.
	ErrUnresolvedTenant = errors.New("tenant scope could not be resolved")

	// ErrInvalidTenantID is returned for malformed tenant identifiers.
	ErrInvalidTenantID = errors.New("invalid tenant ID")
)

// GlobalID is the reserved identifier for the shared cross-tenant scope.
const GlobalID = "global"

// identifierPattern restricts tenant IDs to lowercase alphanumerics,
// underscores and hyphens. Keeps IDs safe for use in storage metadata
// and collection names.
var identifierPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Scope identifies the isolation boundary a record or query belongs to.
//
// A Scope is either a single tenant or the shared Global scope. Global
// content is visible to every tenant; queries scoped to a tenant treat
// Global as an implicit union member at the storage layer, never as a
// separate code path in callers.
type Scope struct {
	TenantID string
}

// Global is the shared, cross-tenant scope.
var Global = Scope{TenantID: GlobalID}

// NewScope creates a validated tenant scope.
func NewScope(tenantID string) (Scope, error) {
	s := Scope{TenantID: tenantID}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate checks the scope carries a well-formed tenant identifier.
func (s Scope) Validate() error {
	if s.TenantID == "" {
		return ErrInvalidTenantID
	}
	if !identifierPattern.MatchString(s.TenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, s.TenantID)
	}
	return nil
}

// IsGlobal reports whether this is the shared scope.
func (s Scope) IsGlobal() bool {
	return s.TenantID == GlobalID
}

// String returns the tenant identifier.
func (s Scope) String() string {
	return s.TenantID
}
