package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/memory"
	"github.com/brisaai/sicc/internal/redact"
	"github.com/brisaai/sicc/internal/reflection"
	"github.com/brisaai/sicc/internal/skill"
	"github.com/brisaai/sicc/internal/supervisor"
	"github.com/brisaai/sicc/internal/tenant"
)

var tracer = otel.Tracer("sicc.orchestrator")

// Orchestrator drives one conversation turn end to end.
type Orchestrator struct {
	memory    *memory.Store
	matcher   *behavior.Matcher
	patterns  *behavior.Store
	registry  *skill.Registry
	generator capability.Generator
	validator *supervisor.Validator
	critic    *reflection.Critic
	scrubber  *redact.Scrubber
	log       *conversation.Log
	cfg       config.TurnConfig
	logger    *zap.Logger

	// One mutex per conversation: two turns of the same conversation
	// never run concurrently, different conversations always may.
	locks sync.Map
}

// New creates an orchestrator. The critic and scrubber are optional; a
// nil critic skips the REFLECT state and a nil scrubber stores memory
// verbatim.
func New(
	mem *memory.Store,
	matcher *behavior.Matcher,
	patterns *behavior.Store,
	registry *skill.Registry,
	generator capability.Generator,
	validator *supervisor.Validator,
	critic *reflection.Critic,
	scrubber *redact.Scrubber,
	log *conversation.Log,
	cfg config.TurnConfig,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Orchestrator{
		memory:    mem,
		matcher:   matcher,
		patterns:  patterns,
		registry:  registry,
		generator: generator,
		validator: validator,
		critic:    critic,
		scrubber:  scrubber,
		log:       log,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessTurn handles one inbound message and returns the outbound
// response with the handoff decision. Persistent writes happen only after
// the supervisor approves; a cancelled context abandons the turn with no
// partial state.
func (o *Orchestrator) ProcessTurn(ctx context.Context, conversationID, inbound string) (TurnResult, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.ProcessTurn")
	defer span.End()

	scope, err := tenant.FromContext(ctx)
	if err != nil {
		span.RecordError(err)
		return TurnResult{}, err
	}
	span.SetAttributes(
		attribute.String("tenant", scope.TenantID),
		attribute.String("conversation_id", conversationID),
	)

	mu, _ := o.locks.LoadOrStore(conversationID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	st := &turnState{conversationID: conversationID, inbound: inbound}

	if err := o.loadContext(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}
	if err := o.retrieve(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}
	if err := o.route(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}
	if err := o.superviseLoop(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}
	o.reflect(ctx, st)

	// HANDOFF_CHECK runs regardless of how the draft was produced.
	if wantsHandoff(st.inbound) {
		st.handoff = true
	}

	if err := o.commit(ctx, st); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return TurnResult{}, err
	}

	result := TurnResult{
		FinalResponse:    st.draft,
		HandoffRequested: st.handoff,
		Degraded:         st.degraded,
		Skill:            st.skill,
		Retries:          st.retryCount,
	}
	span.SetAttributes(
		attribute.Bool("handoff", result.HandoffRequested),
		attribute.Bool("degraded", result.Degraded),
		attribute.Int("retries", result.Retries),
	)
	span.SetStatus(codes.Ok, "success")

	o.logger.Info("turn completed",
		zap.String("tenant", scope.TenantID),
		zap.String("conversation_id", conversationID),
		zap.String("skill", st.skill),
		zap.Int("retries", st.retryCount),
		zap.Bool("handoff", st.handoff),
		zap.Bool("degraded", st.degraded),
	)
	return result, nil
}

// loadContext hydrates the turn from prior conversation turns.
func (o *Orchestrator) loadContext(ctx context.Context, st *turnState) error {
	o.logger.Debug("state transition", zap.String("state", string(StateLoadContext)))
	if err := o.log.Ensure(ctx, st.conversationID); err != nil {
		return err
	}
	history, err := o.log.History(ctx, st.conversationID, o.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	st.history = history
	return nil
}

// retrieve runs memory search and pattern matching concurrently. Both
// degrade rather than fail when the embedding capability is down.
func (o *Orchestrator) retrieve(ctx context.Context, st *turnState) error {
	o.logger.Debug("state transition", zap.String("state", string(StateRetrieve)))

	g, gctx := errgroup.WithContext(ctx)
	var searchResult memory.SearchResult
	var match behavior.Match

	g.Go(func() error {
		result, err := o.memory.Search(gctx, st.inbound, 0)
		if err != nil {
			return fmt.Errorf("memory retrieval: %w", err)
		}
		searchResult = result
		return nil
	})
	g.Go(func() error {
		m, err := o.matcher.Match(gctx, st.inbound, 0)
		if err != nil {
			return fmt.Errorf("pattern matching: %w", err)
		}
		match = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	st.hits = searchResult.Hits
	st.match = match
	st.degraded = searchResult.Degraded || match.Degraded
	return nil
}

// route picks the response-producing path and resolves skill context.
func (o *Orchestrator) route(ctx context.Context, st *turnState) error {
	o.logger.Debug("state transition", zap.String("state", string(StateRoute)))

	st.skill = skill.GeneralSlug
	if o.registry == nil {
		return nil
	}

	slug := o.registry.Route(st.inbound, nil)
	if slug == skill.GeneralSlug {
		return nil
	}

	s, err := o.registry.Get(slug)
	if err != nil {
		return err
	}
	out, err := s.Execute(ctx, st.inbound)
	if err != nil {
		// A broken skill downgrades to the general path, it does not
		// kill the turn.
		o.logger.Warn("skill execution failed, using general path",
			zap.String("skill", slug), zap.Error(err))
		return nil
	}
	st.skill = slug
	st.context = out.PromptContext
	return nil
}

// superviseLoop produces a draft and validates it, regenerating with the
// supervisor's feedback up to the retry budget. On exhaustion or
// generation failure the turn falls back to the safe response and forces
// handoff.
func (o *Orchestrator) superviseLoop(ctx context.Context, st *turnState) error {
	hint := ""

	// A high-confidence template is the first draft. It still passes
	// through validation: the catalog may have moved since the pattern
	// was learned.
	usedTemplate := st.match.Kind == behavior.MatchTemplate
	if usedTemplate {
		st.draft = st.match.Template.Response
	} else {
		if err := o.generate(ctx, st, hint); err != nil {
			return err
		}
		if st.fallback {
			return nil
		}
	}

	for {
		o.logger.Debug("state transition", zap.String("state", string(StateSupervise)))
		verdict, err := o.validator.Validate(ctx, st.draft)
		if err != nil {
			return fmt.Errorf("validating draft: %w", err)
		}
		st.verdict = verdict
		if verdict.Approved {
			if usedTemplate && st.retryCount == 0 {
				o.markTemplateUsed(ctx, st)
			}
			return nil
		}

		st.retryCount++
		if st.retryCount > o.cfg.MaxRetries {
			o.logger.Warn("turn fell back after exhausting regenerations",
				zap.String("conversation_id", st.conversationID),
				zap.Int("retries", st.retryCount-1),
				zap.Error(ErrRetryBudgetExceeded),
			)
			st.retryCount--
			o.fallback(st)
			return nil
		}

		usedTemplate = false
		hint = verdict.CorrectionHint()
		if err := o.generate(ctx, st, hint); err != nil {
			return err
		}
		if st.fallback {
			return nil
		}
	}
}

// generate produces a draft via the generation capability. Unavailability
// and timeouts are absorbed into the fallback path.
func (o *Orchestrator) generate(ctx context.Context, st *turnState, hint string) error {
	o.logger.Debug("state transition", zap.String("state", string(StateGenerate)))

	draft, err := o.generator.Generate(ctx, systemPrompt(st, hint), userPrompt(st.history, st.inbound))
	if err != nil {
		if errors.Is(err, capability.ErrGenerationUnavailable) || errors.Is(err, capability.ErrGenerationTimeout) {
			o.logger.Warn("generation capability failed, using fallback",
				zap.String("conversation_id", st.conversationID), zap.Error(err))
			o.fallback(st)
			return nil
		}
		return fmt.Errorf("generating draft: %w", err)
	}
	st.draft = draft
	return nil
}

// fallback replaces the draft with the safe response and forces handoff.
func (o *Orchestrator) fallback(st *turnState) {
	st.draft = o.cfg.FallbackResponse
	st.fallback = true
	st.handoff = true
}

// reflect lets the critic adjust presentation of the approved draft. It
// never runs on the fallback response and never re-enters SUPERVISE.
func (o *Orchestrator) reflect(ctx context.Context, st *turnState) {
	if o.critic == nil || st.fallback {
		return
	}
	o.logger.Debug("state transition", zap.String("state", string(StateReflect)))
	st.draft = o.critic.Refine(ctx, st.draft, st.match.Guidance)
}

// commit is the turn's only write point. It runs after approval and is
// skipped entirely when the context was cancelled mid-turn.
func (o *Orchestrator) commit(ctx context.Context, st *turnState) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("turn abandoned before commit: %w", err)
	}

	if _, err := o.log.Append(ctx, st.conversationID, conversation.RoleUser, st.inbound); err != nil {
		return err
	}
	if _, err := o.log.Append(ctx, st.conversationID, conversation.RoleAssistant, st.draft); err != nil {
		return err
	}

	// The fallback carries no reusable knowledge.
	if st.fallback {
		return nil
	}

	content := fmt.Sprintf("Cliente: %s\nAtendente: %s", st.inbound, st.draft)
	if o.scrubber != nil {
		scrubbed := o.scrubber.Scrub(content)
		if !scrubbed.Clean() {
			o.logger.Debug("memory chunk redacted",
				zap.String("conversation_id", st.conversationID),
				zap.Int("findings", len(scrubbed.Findings)))
		}
		content = scrubbed.Scrubbed
	}
	if _, err := o.memory.Insert(ctx, content, st.conversationID); err != nil {
		if errors.Is(err, capability.ErrEmbeddingUnavailable) {
			o.logger.Warn("memory write skipped, embeddings unavailable",
				zap.String("conversation_id", st.conversationID))
			return nil
		}
		return fmt.Errorf("recording turn memory: %w", err)
	}
	return nil
}

func (o *Orchestrator) markTemplateUsed(ctx context.Context, st *turnState) {
	if err := o.patterns.MarkUsed(ctx, st.match.Template.ID); err != nil {
		o.logger.Warn("marking pattern used",
			zap.String("pattern_id", st.match.Template.ID), zap.Error(err))
	}
}
