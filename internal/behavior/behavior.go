// Package behavior stores learned behavior patterns and matches incoming
// messages against them.
//
// A pattern pairs a trigger (a recurring customer message shape) with the
// response that worked for it. Matching is semantic over the trigger text:
// a very close match hands back the response for verbatim use, a moderate
// match only contributes few-shot guidance to the generation prompt.
package behavior

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
	"github.com/brisaai/sicc/internal/vectorstore"
)

var tracer = otel.Tracer("sicc.behavior")

// Collection is the vector store collection holding pattern triggers.
const Collection = "behavior_patterns"

// ErrPatternNotFound is returned when a pattern ID does not exist.
var ErrPatternNotFound = errors.New("behavior pattern not found")

// Pattern origins.
const (
	// OriginLearned marks patterns promoted by the learning pipeline.
	OriginLearned = "learned"
	// OriginCurated marks patterns entered by an operator.
	OriginCurated = "curated"
)

// Pattern is an approved trigger/response pair.
type Pattern struct {
	ID         string
	TenantID   string
	Trigger    string
	Response   string
	Confidence float64
	Origin     string
	UsageCount int
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Store persists patterns in SQLite and indexes triggers in the vector
// store.
type Store struct {
	vectors *vectorstore.ScopedStore
	db      *storage.DB
	logger  *zap.Logger
}

// NewStore creates a pattern store.
func NewStore(vectors *vectorstore.ScopedStore, db *storage.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{vectors: vectors, db: db, logger: logger}
}

// Add stores an approved pattern under the context scope.
func (s *Store) Add(ctx context.Context, trigger, response string, confidence float64, origin string) (Pattern, error) {
	ctx, span := tracer.Start(ctx, "behavior.Add")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return Pattern{}, err
	}

	trigger = strings.TrimSpace(trigger)
	response = strings.TrimSpace(response)
	if trigger == "" || response == "" {
		return Pattern{}, fmt.Errorf("pattern trigger and response cannot be empty")
	}
	if origin == "" {
		origin = OriginLearned
	}

	now := time.Now().UTC()
	pattern := Pattern{
		ID:         uuid.New().String(),
		TenantID:   scope.TenantID,
		Trigger:    trigger,
		Response:   response,
		Confidence: confidence,
		Origin:     origin,
		CreatedAt:  now,
	}

	span.SetAttributes(
		attribute.String("tenant", scope.TenantID),
		attribute.String("pattern_id", pattern.ID),
		attribute.String("origin", origin),
	)

	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO behavior_patterns (id, tenant_id, trigger_text, response, confidence, origin, usage_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		pattern.ID, pattern.TenantID, pattern.Trigger, pattern.Response,
		pattern.Confidence, pattern.Origin, storage.FormatTime(now))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Pattern{}, fmt.Errorf("inserting pattern: %w", err)
	}

	_, err = s.vectors.Add(ctx, Collection, []vectorstore.Document{{
		ID:      pattern.ID,
		Content: pattern.Trigger,
		Metadata: map[string]string{
			"origin": origin,
		},
	}})
	if err != nil {
		if _, delErr := s.db.SQL().ExecContext(ctx, `DELETE FROM behavior_patterns WHERE id = ?`, pattern.ID); delErr != nil {
			s.logger.Error("rolling back pattern after vector failure",
				zap.String("pattern_id", pattern.ID), zap.Error(delErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Pattern{}, fmt.Errorf("indexing pattern trigger: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("behavior pattern added",
		zap.String("tenant", scope.TenantID),
		zap.String("pattern_id", pattern.ID),
		zap.String("origin", origin),
		zap.Float64("confidence", confidence),
	)
	return pattern, nil
}

// Get loads a pattern by ID.
func (s *Store) Get(ctx context.Context, id string) (Pattern, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT id, tenant_id, trigger_text, response, confidence, origin, usage_count, created_at, last_used_at
		 FROM behavior_patterns WHERE id = ?`, id)
	pattern, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Pattern{}, fmt.Errorf("%w: %s", ErrPatternNotFound, id)
	}
	return pattern, err
}

// MarkUsed records that a pattern shaped a reply.
func (s *Store) MarkUsed(ctx context.Context, id string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`UPDATE behavior_patterns SET usage_count = usage_count + 1, last_used_at = ? WHERE id = ?`,
		storage.FormatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("marking pattern %s used: %w", id, err)
	}
	return nil
}

// Delete removes a pattern from both stores.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.vectors.Delete(ctx, Collection, []string{id}); err != nil {
		return err
	}
	_, err := s.db.SQL().ExecContext(ctx, `DELETE FROM behavior_patterns WHERE id = ?`, id)
	return err
}

func (s *Store) patternsByID(ctx context.Context, ids []string) (map[string]Pattern, error) {
	if len(ids) == 0 {
		return map[string]Pattern{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, tenant_id, trigger_text, response, confidence, origin, usage_count, created_at, last_used_at
		 FROM behavior_patterns WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	patterns := make(map[string]Pattern, len(ids))
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns[pattern.ID] = pattern
	}
	return patterns, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (Pattern, error) {
	var p Pattern
	var createdAt string
	var lastUsedAt sql.NullString
	err := row.Scan(&p.ID, &p.TenantID, &p.Trigger, &p.Response, &p.Confidence,
		&p.Origin, &p.UsageCount, &createdAt, &lastUsedAt)
	if err != nil {
		return p, err
	}
	if p.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return p, err
	}
	if lastUsedAt.Valid {
		t, err := storage.ParseTime(lastUsedAt.String)
		if err != nil {
			return p, err
		}
		p.LastUsedAt = &t
	}
	return p, nil
}
