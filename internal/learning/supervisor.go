package learning

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

// PatternSupervisor decides the fate of learning candidates.
type PatternSupervisor struct {
	db       *storage.DB
	patterns *behavior.Store
	cfg      config.LearningConfig
	logger   *zap.Logger
}

// NewPatternSupervisor creates a supervisor that promotes approved
// candidates into the behavior pattern store.
func NewPatternSupervisor(db *storage.DB, patterns *behavior.Store, cfg config.LearningConfig, logger *zap.Logger) *PatternSupervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternSupervisor{db: db, patterns: patterns, cfg: cfg, logger: logger}
}

// ReviewPending reviews every reviewable candidate in the context scope
// and returns how many were promoted. Candidates below the evidence
// minimum or the auto-approval threshold stay pending for manual review.
func (s *PatternSupervisor) ReviewPending(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "learning.ReviewPending")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	minEvidence := s.cfg.MinEvidence
	if minEvidence <= 0 {
		minEvidence = 3
	}

	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, tenant_id, trigger_text, response, dedup_hash, evidence_count, confidence, status, created_at, decided_at
		 FROM learning_candidates
		 WHERE tenant_id = ? AND status = ? AND evidence_count >= ?`,
		scope.TenantID, StatusPending, minEvidence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return 0, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	promoted := 0
	for _, c := range candidates {
		approved, err := s.review(ctx, c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return promoted, err
		}
		if approved {
			promoted++
		}
	}

	span.SetAttributes(
		attribute.Int("reviewed", len(candidates)),
		attribute.Int("promoted", promoted),
	)
	span.SetStatus(codes.Ok, "success")
	return promoted, nil
}

// review approves one candidate when its confidence clears the threshold.
func (s *PatternSupervisor) review(ctx context.Context, c Candidate) (bool, error) {
	threshold := s.cfg.AutoApproveThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	if c.Confidence < threshold {
		s.logger.Debug("candidate left pending for manual review",
			zap.String("candidate_id", c.ID),
			zap.Float64("confidence", c.Confidence),
		)
		return false, nil
	}

	pattern, err := s.patterns.Add(ctx, c.Trigger, c.Response, c.Confidence, behavior.OriginLearned)
	if err != nil {
		return false, fmt.Errorf("promoting candidate %s: %w", c.ID, err)
	}

	if err := s.decide(ctx, c.ID, StatusApproved); err != nil {
		return false, err
	}

	s.logger.Info("candidate promoted to behavior pattern",
		zap.String("tenant", c.TenantID),
		zap.String("candidate_id", c.ID),
		zap.String("pattern_id", pattern.ID),
		zap.Float64("confidence", c.Confidence),
	)
	return true, nil
}

// Reject marks a candidate rejected. The row is retained for audit and is
// never retried automatically.
func (s *PatternSupervisor) Reject(ctx context.Context, candidateID, note string) error {
	c, err := Get(ctx, s.db, candidateID)
	if err != nil {
		return err
	}
	if c.Status != StatusPending {
		return fmt.Errorf("candidate %s already decided: %s", candidateID, c.Status)
	}
	if err := s.decide(ctx, candidateID, StatusRejected); err != nil {
		return err
	}
	s.logger.Info("candidate rejected",
		zap.String("tenant", c.TenantID),
		zap.String("candidate_id", candidateID),
		zap.String("note", note),
	)
	return nil
}

func (s *PatternSupervisor) decide(ctx context.Context, candidateID, status string) error {
	_, err := s.db.SQL().ExecContext(ctx,
		`UPDATE learning_candidates SET status = ?, decided_at = ? WHERE id = ?`,
		status, storage.FormatTime(time.Now().UTC()), candidateID)
	if err != nil {
		return fmt.Errorf("deciding candidate %s: %w", candidateID, err)
	}
	return nil
}
