// Package vectorstore provides scope-isolated vector storage.
//
// Backends (embedded chromem-go or external Qdrant) implement the narrow
// Store interface; ScopedStore wraps a backend and enforces tenant isolation
// on every call. Callers never talk to a backend directly.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates the backend is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrIsolationViolation indicates a result crossed a tenant boundary.
	// This is an internal invariant failure, never caused by caller input.
	ErrIsolationViolation = errors.New("tenant isolation violation")

	// ErrReservedFilterKey indicates caller filters tried to set a
	// tenant field. The isolation layer owns those keys.
	ErrReservedFilterKey = errors.New("filters cannot contain tenant fields")
)

// ScopeKey is the metadata key carrying the owning tenant of a document.
const ScopeKey = "tenant_id"

// Document is a unit of storage: text content plus string metadata.
type Document struct {
	// ID is the unique identifier within a collection.
	ID string

	// Content is the text content.
	Content string

	// Metadata holds filterable key-value pairs. The isolation layer
	// stamps ScopeKey here; callers must not.
	Metadata map[string]string
}

// SearchResult is a similarity search hit.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Store is the backend interface for vector storage.
//
// Backends embed document content at write time and the query at search
// time. They apply the filters they are given verbatim and know nothing
// about tenants; isolation lives in ScopedStore.
type Store interface {
	// Add upserts documents into a collection, creating it on first use.
	// Re-adding an existing ID overwrites the stored document.
	Add(ctx context.Context, collection string, docs []Document) ([]string, error)

	// Search returns up to k documents similar to the query, restricted to
	// documents matching all filter entries. A collection that does not
	// exist yet yields no results, not an error.
	Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]SearchResult, error)

	// Delete removes documents by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// Close releases backend resources.
	Close() error
}

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}
