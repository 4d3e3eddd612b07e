// Package memory implements the tenant-scoped semantic memory.
//
// Chunks live in two places: the vector store holds embeddings for
// similarity search, SQLite holds the authoritative chunk state (content,
// relevance, access tracking). Retrieval is hybrid: semantic similarity
// blended with lexical term overlap. When the embedding capability is down,
// search degrades to lexical-only over SQLite and reports itself degraded
// instead of failing the turn.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
	"github.com/brisaai/sicc/internal/vectorstore"
)

var tracer = otel.Tracer("sicc.memory")

// Collection is the vector store collection holding memory chunks.
const Collection = "memory_chunks"

// ErrChunkNotFound is returned when a chunk ID does not exist.
var ErrChunkNotFound = errors.New("memory chunk not found")

// Chunk is a unit of tenant memory.
type Chunk struct {
	ID             string
	TenantID       string
	Content        string
	Source         string
	Relevance      float64
	AccessCount    int
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Hit is a retrieval result with its score breakdown.
type Hit struct {
	Chunk    Chunk
	Score    float64
	Semantic float64
	Lexical  float64
}

// SearchResult carries retrieval hits and the degradation flag.
type SearchResult struct {
	Hits []Hit

	// Degraded is true when the embedding capability was unavailable and
	// only lexical matching was used.
	Degraded bool
}

// Store is the memory store.
type Store struct {
	vectors *vectorstore.ScopedStore
	db      *storage.DB
	cfg     config.MemoryConfig
	logger  *zap.Logger
}

// NewStore creates a memory store over the given vector and state stores.
func NewStore(vectors *vectorstore.ScopedStore, db *storage.DB, cfg config.MemoryConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{vectors: vectors, db: db, cfg: cfg, logger: logger}
}

// Insert stores a new chunk under the context scope.
func (s *Store) Insert(ctx context.Context, content, source string) (Chunk, error) {
	ctx, span := tracer.Start(ctx, "memory.Insert")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return Chunk{}, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return Chunk{}, fmt.Errorf("chunk content cannot be empty")
	}

	now := time.Now().UTC()
	chunk := Chunk{
		ID:             uuid.New().String(),
		TenantID:       scope.TenantID,
		Content:        content,
		Source:         source,
		Relevance:      1.0,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	span.SetAttributes(
		attribute.String("tenant", scope.TenantID),
		attribute.String("chunk_id", chunk.ID),
	)

	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO memory_chunks (id, tenant_id, content, source, relevance, access_count, created_at, last_accessed_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		chunk.ID, chunk.TenantID, chunk.Content, chunk.Source, chunk.Relevance,
		storage.FormatTime(chunk.CreatedAt), storage.FormatTime(chunk.LastAccessedAt))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Chunk{}, fmt.Errorf("inserting chunk state: %w", err)
	}

	_, err = s.vectors.Add(ctx, Collection, []vectorstore.Document{{
		ID:      chunk.ID,
		Content: chunk.Content,
		Metadata: map[string]string{
			"source": source,
		},
	}})
	if err != nil {
		// Keep the SQLite row out too; a chunk must exist in both or
		// neither.
		if _, delErr := s.db.SQL().ExecContext(ctx, `DELETE FROM memory_chunks WHERE id = ?`, chunk.ID); delErr != nil {
			s.logger.Error("rolling back chunk state after vector failure",
				zap.String("chunk_id", chunk.ID), zap.Error(delErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Chunk{}, fmt.Errorf("indexing chunk: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("inserted memory chunk",
		zap.String("tenant", scope.TenantID),
		zap.String("chunk_id", chunk.ID),
		zap.String("source", source),
	)
	return chunk, nil
}

// Search retrieves up to k chunks for the query using hybrid scoring.
// Returned chunks are boosted: their relevance rises by the configured
// increment and access tracking is updated.
func (s *Store) Search(ctx context.Context, query string, k int) (SearchResult, error) {
	ctx, span := tracer.Start(ctx, "memory.Search")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return SearchResult{}, err
	}

	if k <= 0 {
		k = s.cfg.SearchLimit
	}

	span.SetAttributes(
		attribute.String("tenant", scope.TenantID),
		attribute.Int("k", k),
	)

	hits, err := s.hybridSearch(ctx, scope, query, k)
	if err != nil {
		if !errors.Is(err, capability.ErrEmbeddingUnavailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SearchResult{}, err
		}

		s.logger.Warn("embedding capability unavailable, degrading to lexical search",
			zap.String("tenant", scope.TenantID), zap.Error(err))
		span.SetAttributes(attribute.Bool("degraded", true))

		hits, err = s.lexicalSearch(ctx, scope, query, k)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return SearchResult{}, err
		}

		if err := s.boost(ctx, hits); err != nil {
			return SearchResult{}, err
		}
		span.SetStatus(codes.Ok, "degraded")
		return SearchResult{Hits: hits, Degraded: true}, nil
	}

	if err := s.boost(ctx, hits); err != nil {
		return SearchResult{}, err
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return SearchResult{Hits: hits}, nil
}

// hybridSearch blends vector similarity with lexical term overlap.
func (s *Store) hybridSearch(ctx context.Context, scope tenant.Scope, query string, k int) ([]Hit, error) {
	// Over-fetch so the lexical component can reorder beyond the cut.
	fetchK := k * 3
	results, err := s.vectors.Search(ctx, Collection, query, fetchK, nil)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	chunks, err := s.chunksByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	wSem, wLex := normalizedWeights(s.cfg.SemanticWeight, s.cfg.LexicalWeight)
	queryTokens := tokenize(query)

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		chunk, ok := chunks[r.ID]
		if !ok {
			// Vector hit without a state row: stale index entry. Skip it
			// rather than serve content SQLite no longer vouches for.
			s.logger.Warn("vector hit without chunk state", zap.String("chunk_id", r.ID))
			continue
		}
		lexical := termOverlap(queryTokens, tokenize(chunk.Content))
		semantic := float64(r.Score)
		hits = append(hits, Hit{
			Chunk:    chunk,
			Semantic: semantic,
			Lexical:  lexical,
			Score:    wSem*semantic + wLex*lexical,
		})
	}

	rankHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// lexicalSearch scans the tenant's chunks (plus global) in SQLite and ranks
// by term overlap alone.
func (s *Store) lexicalSearch(ctx context.Context, scope tenant.Scope, query string, k int) ([]Hit, error) {
	chunks, err := s.chunksForScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(query)
	hits := make([]Hit, 0, len(chunks))
	for _, chunk := range chunks {
		overlap := termOverlap(queryTokens, tokenize(chunk.Content))
		if overlap == 0 {
			continue
		}
		hits = append(hits, Hit{Chunk: chunk, Lexical: overlap, Score: overlap})
	}

	rankHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// rankHits orders by score, breaking ties by relevance then recency of use.
func rankHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Chunk.Relevance != hits[j].Chunk.Relevance {
			return hits[i].Chunk.Relevance > hits[j].Chunk.Relevance
		}
		return hits[i].Chunk.LastAccessedAt.After(hits[j].Chunk.LastAccessedAt)
	})
}

// boost raises relevance of read-hit chunks and refreshes access tracking.
func (s *Store) boost(ctx context.Context, hits []Hit) error {
	if len(hits) == 0 {
		return nil
	}

	now := storage.FormatTime(time.Now().UTC())
	for i := range hits {
		_, err := s.db.SQL().ExecContext(ctx,
			`UPDATE memory_chunks
			 SET relevance = relevance + ?, access_count = access_count + 1, last_accessed_at = ?
			 WHERE id = ?`,
			s.cfg.BoostIncrement, now, hits[i].Chunk.ID)
		if err != nil {
			return fmt.Errorf("boosting chunk %s: %w", hits[i].Chunk.ID, err)
		}
		hits[i].Chunk.Relevance += s.cfg.BoostIncrement
		hits[i].Chunk.AccessCount++
	}
	return nil
}

// DecayAndCleanup ages chunk relevance across all tenants. Chunks older
// than the age threshold lose relevance by the decay factor; aged chunks
// below the relevance floor are removed from both stores.
func (s *Store) DecayAndCleanup(ctx context.Context) (decayed, removed int, err error) {
	ctx, span := tracer.Start(ctx, "memory.DecayAndCleanup")
	defer span.End()

	cutoff := time.Now().UTC().Add(-s.cfg.AgeThreshold)
	aged, err := s.agedChunks(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		return 0, 0, err
	}

	doomed := make(map[string][]string) // tenant -> chunk IDs
	for _, chunk := range aged {
		newRelevance := chunk.Relevance * s.cfg.DecayFactor
		if newRelevance < s.cfg.RelevanceFloor {
			doomed[chunk.TenantID] = append(doomed[chunk.TenantID], chunk.ID)
			continue
		}
		_, err := s.db.SQL().ExecContext(ctx,
			`UPDATE memory_chunks SET relevance = ? WHERE id = ?`, newRelevance, chunk.ID)
		if err != nil {
			span.RecordError(err)
			return decayed, removed, fmt.Errorf("decaying chunk %s: %w", chunk.ID, err)
		}
		decayed++
	}

	for tenantID, ids := range doomed {
		scopeCtx := tenant.NewContext(ctx, tenant.Scope{TenantID: tenantID})
		if err := s.vectors.Delete(scopeCtx, Collection, ids); err != nil {
			span.RecordError(err)
			return decayed, removed, fmt.Errorf("removing vectors for tenant %s: %w", tenantID, err)
		}
		for _, id := range ids {
			if _, err := s.db.SQL().ExecContext(ctx, `DELETE FROM memory_chunks WHERE id = ?`, id); err != nil {
				span.RecordError(err)
				return decayed, removed, fmt.Errorf("removing chunk %s: %w", id, err)
			}
			removed++
		}
	}

	span.SetAttributes(
		attribute.Int("decayed", decayed),
		attribute.Int("removed", removed),
	)
	span.SetStatus(codes.Ok, "success")

	if decayed > 0 || removed > 0 {
		s.logger.Info("memory decay sweep finished",
			zap.Int("decayed", decayed),
			zap.Int("removed", removed),
		)
	}
	return decayed, removed, nil
}

// Get loads a chunk by ID.
func (s *Store) Get(ctx context.Context, id string) (Chunk, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT id, tenant_id, content, source, relevance, access_count, created_at, last_accessed_at
		 FROM memory_chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, id)
	}
	return chunk, err
}

func (s *Store) chunksByID(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if len(ids) == 0 {
		return map[string]Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, tenant_id, content, source, relevance, access_count, created_at, last_accessed_at
		 FROM memory_chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := make(map[string]Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks[chunk.ID] = chunk
	}
	return chunks, rows.Err()
}

func (s *Store) chunksForScope(ctx context.Context, scope tenant.Scope) ([]Chunk, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, tenant_id, content, source, relevance, access_count, created_at, last_accessed_at
		 FROM memory_chunks WHERE tenant_id = ? OR tenant_id = ?`,
		scope.TenantID, tenant.GlobalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (s *Store) agedChunks(ctx context.Context, cutoff time.Time) ([]Chunk, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, tenant_id, content, source, relevance, access_count, created_at, last_accessed_at
		 FROM memory_chunks WHERE created_at < ?`, storage.FormatTime(cutoff))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (Chunk, error) {
	var c Chunk
	var createdAt, lastAccessedAt string
	err := row.Scan(&c.ID, &c.TenantID, &c.Content, &c.Source, &c.Relevance,
		&c.AccessCount, &createdAt, &lastAccessedAt)
	if err != nil {
		return c, err
	}
	if c.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return c, err
	}
	if c.LastAccessedAt, err = storage.ParseTime(lastAccessedAt); err != nil {
		return c, err
	}
	return c, nil
}

// normalizedWeights scales the two weights to sum to 1.
func normalizedWeights(semantic, lexical float64) (float64, float64) {
	total := semantic + lexical
	if total <= 0 {
		return 0.5, 0.5
	}
	return semantic / total, lexical / total
}
