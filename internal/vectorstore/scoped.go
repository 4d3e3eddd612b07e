package vectorstore

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/tenant"
)

var scopedTracer = otel.Tracer("sicc.vectorstore.scoped")

// ScopedStore enforces tenant isolation over a backend Store.
//
// Every operation requires a tenant scope in the context and fails closed
// without one. Writes stamp the scope into document metadata, overwriting
// whatever the caller set. Reads filter by scope and, for tenant scopes,
// additionally include global-scope documents: the global scope is an
// implicit member of every tenant's search universe, but never writable
// through a tenant scope.
//
// Results are verified after the backend returns: a document whose stamped
// scope is neither the caller's nor global aborts the whole read with
// ErrIsolationViolation rather than silently dropping it.
type ScopedStore struct {
	backend Store
	logger  *zap.Logger
}

// NewScopedStore wraps a backend with tenant isolation.
func NewScopedStore(backend Store, logger *zap.Logger) *ScopedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScopedStore{backend: backend, logger: logger}
}

// Add stamps the context scope into each document and upserts them.
func (s *ScopedStore) Add(ctx context.Context, collection string, docs []Document) ([]string, error) {
	ctx, span := scopedTracer.Start(ctx, "ScopedStore.Add")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("tenant", scope.TenantID),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]string, 1)
		}
		// Overwrite unconditionally. The caller's value, if any, is not
		// trusted.
		docs[i].Metadata[ScopeKey] = scope.TenantID
	}

	ids, err := s.backend.Add(ctx, collection, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return ids, nil
}

// Search runs a scope-filtered similarity search. For a tenant scope the
// search universe is the tenant's documents plus global documents, merged
// by score. Caller filters must not touch tenant fields.
func (s *ScopedStore) Search(ctx context.Context, collection, query string, k int, filter map[string]string) ([]SearchResult, error) {
	ctx, span := scopedTracer.Start(ctx, "ScopedStore.Search")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.String("tenant", scope.TenantID),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if _, ok := filter[ScopeKey]; ok {
		return nil, ErrReservedFilterKey
	}

	results, err := s.backend.Search(ctx, collection, query, k, withScope(filter, scope.TenantID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !scope.IsGlobal() {
		globalResults, err := s.backend.Search(ctx, collection, query, k, withScope(filter, tenant.GlobalID))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		results = mergeByScore(results, globalResults, k)
	}

	if err := s.verify(scope, results); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Delete removes documents by ID. The scope requirement is kept even though
// IDs are unambiguous, so an unresolved tenant can never mutate the store.
func (s *ScopedStore) Delete(ctx context.Context, collection string, ids []string) error {
	ctx, span := scopedTracer.Start(ctx, "ScopedStore.Delete")
	defer span.End()

	if _, err := tenant.FromContext(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("id_count", len(ids)),
	)

	if err := s.backend.Delete(ctx, collection, ids); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close closes the backend.
func (s *ScopedStore) Close() error {
	return s.backend.Close()
}

// verify checks every result belongs to the caller's scope or global.
func (s *ScopedStore) verify(scope tenant.Scope, results []SearchResult) error {
	for _, r := range results {
		owner := r.Metadata[ScopeKey]
		if owner == scope.TenantID || owner == tenant.GlobalID {
			continue
		}
		s.logger.Error("cross-tenant document in search results",
			zap.String("tenant", scope.TenantID),
			zap.String("owner", owner),
			zap.String("document_id", r.ID),
		)
		return fmt.Errorf("%w: document %s owned by %q surfaced for %q",
			ErrIsolationViolation, r.ID, owner, scope.TenantID)
	}
	return nil
}

// withScope copies the filter and pins the scope key.
func withScope(filter map[string]string, tenantID string) map[string]string {
	out := make(map[string]string, len(filter)+1)
	for k, v := range filter {
		out[k] = v
	}
	out[ScopeKey] = tenantID
	return out
}

// mergeByScore combines two result sets, highest score first, capped at k.
func mergeByScore(a, b []SearchResult, k int) []SearchResult {
	merged := make([]SearchResult, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}
