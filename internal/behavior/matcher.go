package behavior

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
)

// MatchKind classifies how strongly a message matched a pattern.
type MatchKind string

const (
	// MatchNone: no pattern cleared the guidance floor.
	MatchNone MatchKind = "none"
	// MatchGuidance: patterns cleared the floor but not the template
	// threshold; they contribute few-shot examples only.
	MatchGuidance MatchKind = "guidance"
	// MatchTemplate: the best pattern cleared the template threshold;
	// its response can be used verbatim.
	MatchTemplate MatchKind = "template"
)

// Match is the outcome of matching a message against stored patterns.
type Match struct {
	Kind MatchKind

	// Template is the verbatim-usable pattern. Set only for MatchTemplate.
	Template *Pattern

	// Guidance holds patterns for few-shot prompting, best first. Set for
	// MatchGuidance and MatchTemplate (the template included).
	Guidance []Pattern

	// Degraded is true when matching was skipped because the embedding
	// capability was unavailable.
	Degraded bool
}

// Matcher matches incoming messages against the pattern store.
type Matcher struct {
	store  *Store
	cfg    config.BehaviorConfig
	logger *zap.Logger
}

// NewMatcher creates a matcher with the configured thresholds.
func NewMatcher(store *Store, cfg config.BehaviorConfig, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{store: store, cfg: cfg, logger: logger}
}

// Match finds patterns similar to the message. An embedding outage yields
// MatchNone with Degraded set rather than an error: behavior matching is an
// enhancement, never a turn blocker.
func (m *Matcher) Match(ctx context.Context, message string, k int) (Match, error) {
	ctx, span := tracer.Start(ctx, "behavior.Match")
	defer span.End()

	if k <= 0 {
		k = 3
	}

	results, err := m.store.vectors.Search(ctx, Collection, message, k, nil)
	if err != nil {
		if errors.Is(err, capability.ErrEmbeddingUnavailable) {
			m.logger.Warn("pattern matching skipped, embeddings unavailable", zap.Error(err))
			span.SetAttributes(attribute.Bool("degraded", true))
			span.SetStatus(codes.Ok, "degraded")
			return Match{Kind: MatchNone, Degraded: true}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		if float64(r.Score) >= m.cfg.GuidanceFloor {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		span.SetStatus(codes.Ok, "no match")
		return Match{Kind: MatchNone}, nil
	}

	patterns, err := m.store.patternsByID(ctx, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Match{}, err
	}

	match := Match{Kind: MatchGuidance}
	for _, r := range results {
		pattern, ok := patterns[r.ID]
		if !ok {
			m.logger.Warn("pattern trigger without state row", zap.String("pattern_id", r.ID))
			continue
		}
		score := float64(r.Score)
		if score < m.cfg.GuidanceFloor {
			continue
		}
		match.Guidance = append(match.Guidance, pattern)
		if match.Template == nil && score >= m.cfg.TemplateThreshold {
			p := pattern
			match.Template = &p
			match.Kind = MatchTemplate
		}
	}
	if len(match.Guidance) == 0 {
		span.SetStatus(codes.Ok, "no match")
		return Match{Kind: MatchNone}, nil
	}

	span.SetAttributes(
		attribute.String("kind", string(match.Kind)),
		attribute.Int("guidance_count", len(match.Guidance)),
	)
	span.SetStatus(codes.Ok, "success")
	return match, nil
}

// FewShotBlock renders guidance patterns as prompt examples.
func FewShotBlock(patterns []Pattern) string {
	if len(patterns) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Exemplos de atendimentos anteriores que funcionaram bem:\n")
	for _, p := range patterns {
		fmt.Fprintf(&b, "\nCliente: %s\nAtendente: %s\n", p.Trigger, p.Response)
	}
	return b.String()
}
