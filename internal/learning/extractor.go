package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
)

var tracer = otel.Tracer("sicc.learning")

// Extractor mines closed conversations for candidate patterns.
type Extractor struct {
	db     *storage.DB
	log    *conversation.Log
	cfg    config.LearningConfig
	logger *zap.Logger
}

// NewExtractor creates an extractor over the conversation log.
func NewExtractor(db *storage.DB, log *conversation.Log, cfg config.LearningConfig, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{db: db, log: log, cfg: cfg, logger: logger}
}

// OnConversationClosed processes one closed conversation exactly once.
// Duplicate deliveries of the same close event are absorbed: the first
// caller claims the conversation, later ones find nothing to claim.
func (e *Extractor) OnConversationClosed(ctx context.Context, conversationID string) error {
	ctx, span := tracer.Start(ctx, "learning.OnConversationClosed")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(
		attribute.String("tenant", scope.TenantID),
		attribute.String("conversation_id", conversationID),
	)

	claimed, err := e.log.ClaimForLearning(ctx, conversationID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !claimed {
		e.logger.Debug("conversation already processed, skipping",
			zap.String("conversation_id", conversationID))
		span.SetStatus(codes.Ok, "duplicate")
		return nil
	}

	turns, err := e.log.History(ctx, conversationID, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	observed := 0
	for _, pair := range exchangePairs(turns) {
		if err := e.observe(ctx, scope.TenantID, pair.trigger, pair.response); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		observed++
	}

	span.SetAttributes(attribute.Int("exchanges", observed))
	span.SetStatus(codes.Ok, "success")
	e.logger.Info("conversation mined for patterns",
		zap.String("tenant", scope.TenantID),
		zap.String("conversation_id", conversationID),
		zap.Int("exchanges", observed),
	)
	return nil
}

type exchange struct {
	trigger  string
	response string
}

// exchangePairs pairs each user turn with the assistant turn that answered
// it. Unanswered trailing user turns contribute nothing.
func exchangePairs(turns []conversation.Turn) []exchange {
	var pairs []exchange
	for i := 0; i < len(turns)-1; i++ {
		if turns[i].Role == conversation.RoleUser && turns[i+1].Role == conversation.RoleAssistant {
			pairs = append(pairs, exchange{
				trigger:  turns[i].Content,
				response: turns[i+1].Content,
			})
		}
	}
	return pairs
}

// observe records one trigger/response occurrence, creating or updating
// the candidate for its shape.
func (e *Extractor) observe(ctx context.Context, tenantID, trigger, response string) error {
	normalized := normalizeTrigger(trigger)
	if normalized == "" {
		return nil
	}
	hash := dedupHash(normalized)
	now := time.Now().UTC()

	existing, err := candidateByHash(ctx, e.db, tenantID, hash)
	if errors.Is(err, sql.ErrNoRows) {
		confidence := e.confidence(1, 1.0, 0)
		_, err = e.db.SQL().ExecContext(ctx,
			`INSERT INTO learning_candidates
			 (id, tenant_id, trigger_text, response, dedup_hash, evidence_count, confidence, status, created_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
			 ON CONFLICT(tenant_id, dedup_hash) DO NOTHING`,
			newCandidateID(), tenantID, trigger, response, hash,
			confidence, StatusPending, storage.FormatTime(now))
		if err != nil {
			return fmt.Errorf("inserting candidate: %w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	// Decided candidates are terminal: approved ones already became
	// patterns, rejected ones are never retried automatically.
	if existing.Status != StatusPending {
		return nil
	}

	consistency := responseSimilarity(existing.Response, response)
	confidence := e.confidence(existing.EvidenceCount+1, consistency, now.Sub(existing.CreatedAt))
	_, err = e.db.SQL().ExecContext(ctx,
		`UPDATE learning_candidates
		 SET evidence_count = evidence_count + 1, confidence = ?
		 WHERE id = ?`,
		confidence, existing.ID)
	if err != nil {
		return fmt.Errorf("updating candidate evidence: %w", err)
	}
	return nil
}

// confidence scores a candidate from evidence frequency, response
// consistency and recency of the evidence window.
func (e *Extractor) confidence(evidence int, consistency float64, age time.Duration) float64 {
	minEvidence := e.cfg.MinEvidence
	if minEvidence <= 0 {
		minEvidence = 3
	}
	freq := float64(evidence) / float64(minEvidence)
	if freq > 1 {
		freq = 1
	}

	halfLife := e.cfg.RecencyHalfLife
	if halfLife <= 0 {
		halfLife = 30 * 24 * time.Hour
	}
	recency := math.Exp2(-age.Hours() / halfLife.Hours())

	wf, wc, wr := e.cfg.FrequencyWeight, e.cfg.ConsistencyWeight, e.cfg.RecencyWeight
	if wf+wc+wr <= 0 {
		wf, wc, wr = 0.5, 0.3, 0.2
	}
	total := wf + wc + wr
	return (wf*freq + wc*consistency + wr*recency) / total
}

// responseSimilarity is the Jaccard similarity of the response token sets,
// a cheap proxy for "did this trigger keep getting the same answer".
func responseSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(normalizeTrigger(text)) {
		set[token] = true
	}
	return set
}
