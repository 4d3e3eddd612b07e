package learning

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
	"github.com/brisaai/sicc/internal/vectorstore"
)

// hashEmbedder is a deterministic bag-of-words embedding double.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	const dim = 32
	vec := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		vec[h.Sum32()%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func (e hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (hashEmbedder) Dimension() int { return 32 }

type fixture struct {
	db         *storage.DB
	log        *conversation.Log
	patterns   *behavior.Store
	extractor  *Extractor
	supervisor *PatternSupervisor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.Open(t.TempDir()+"/sicc.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: hashEmbedder{}.Dimension(),
	}, hashEmbedder{}, nil)
	require.NoError(t, err)

	log := conversation.NewLog(db, nil)
	patterns := behavior.NewStore(vectorstore.NewScopedStore(backend, nil), db, nil)

	cfg := config.LearningConfig{
		MinEvidence:          3,
		AutoApproveThreshold: 0.7,
	}
	return &fixture{
		db:         db,
		log:        log,
		patterns:   patterns,
		extractor:  NewExtractor(db, log, cfg, nil),
		supervisor: NewPatternSupervisor(db, patterns, cfg, nil),
	}
}

func learningCtx(t *testing.T, tenantID string) context.Context {
	t.Helper()
	scope, err := tenant.NewScope(tenantID)
	require.NoError(t, err)
	return tenant.NewContext(context.Background(), scope)
}

// closeConversation records one user/assistant exchange and closes it.
func (f *fixture) closeConversation(t *testing.T, ctx context.Context, id, trigger, response string) {
	t.Helper()
	require.NoError(t, f.log.Ensure(ctx, id))
	_, err := f.log.Append(ctx, id, conversation.RoleUser, trigger)
	require.NoError(t, err)
	_, err = f.log.Append(ctx, id, conversation.RoleAssistant, response)
	require.NoError(t, err)
	require.NoError(t, f.log.Close(ctx, id))
}

func TestNormalizeTrigger(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Qual o horário?", "qual o horário"},
		{"  qual   o horário!!! ", "qual o horário"},
		{"QUAL O HORÁRIO", "qual o horário"},
		{"...", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTrigger(tt.in), tt.in)
	}

	// Same shape, same hash.
	assert.Equal(t,
		dedupHash(normalizeTrigger("Qual o horário?")),
		dedupHash(normalizeTrigger("qual o horário")))
}

func TestExchangePairs(t *testing.T) {
	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "oi"},
		{Role: conversation.RoleAssistant, Content: "olá"},
		{Role: conversation.RoleUser, Content: "qual o horário?"},
		{Role: conversation.RoleAssistant, Content: "das 9h às 18h"},
		{Role: conversation.RoleUser, Content: "obrigado"},
	}
	pairs := exchangePairs(turns)
	require.Len(t, pairs, 2)
	assert.Equal(t, "oi", pairs[0].trigger)
	assert.Equal(t, "qual o horário?", pairs[1].trigger)
	assert.Equal(t, "das 9h às 18h", pairs[1].response)
}

func TestEvidenceAccumulatesAcrossConversations(t *testing.T) {
	f := newFixture(t)
	ctx := learningCtx(t, "acme")

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("conv-%d", i)
		f.closeConversation(t, ctx, id, "Qual o horário de funcionamento?", "Funcionamos das 9h às 18h.")
		require.NoError(t, f.extractor.OnConversationClosed(ctx, id))
	}

	hash := dedupHash(normalizeTrigger("Qual o horário de funcionamento?"))
	c, err := candidateByHash(ctx, f.db, "acme", hash)
	require.NoError(t, err)
	assert.Equal(t, 3, c.EvidenceCount)
	assert.Equal(t, StatusPending, c.Status)
	assert.GreaterOrEqual(t, c.Confidence, 0.7)
}

func TestDuplicateCloseEventIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := learningCtx(t, "acme")

	f.closeConversation(t, ctx, "conv-1", "Qual o horário?", "Das 9h às 18h.")
	require.NoError(t, f.extractor.OnConversationClosed(ctx, "conv-1"))
	require.NoError(t, f.extractor.OnConversationClosed(ctx, "conv-1"))

	hash := dedupHash(normalizeTrigger("Qual o horário?"))
	c, err := candidateByHash(ctx, f.db, "acme", hash)
	require.NoError(t, err)
	assert.Equal(t, 1, c.EvidenceCount)
}

func TestReviewPromotesHighConfidenceCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := learningCtx(t, "acme")

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("conv-%d", i)
		f.closeConversation(t, ctx, id, "Qual o horário de funcionamento?", "Funcionamos das 9h às 18h.")
		require.NoError(t, f.extractor.OnConversationClosed(ctx, id))
	}

	promoted, err := f.supervisor.ReviewPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	hash := dedupHash(normalizeTrigger("Qual o horário de funcionamento?"))
	c, err := candidateByHash(ctx, f.db, "acme", hash)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, c.Status)
	assert.NotNil(t, c.DecidedAt)

	// Promotion made the pattern matchable.
	matcher := behavior.NewMatcher(f.patterns, config.BehaviorConfig{
		TemplateThreshold: 0.85,
		GuidanceFloor:     0.55,
	}, nil)
	match, err := matcher.Match(ctx, "Qual o horário de funcionamento?", 3)
	require.NoError(t, err)
	assert.Equal(t, behavior.MatchTemplate, match.Kind)

	// Re-review finds nothing left to promote.
	promoted, err = f.supervisor.ReviewPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestLowEvidenceStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := learningCtx(t, "acme")

	f.closeConversation(t, ctx, "conv-1", "Vocês entregam no sábado?", "Sim, até meio-dia.")
	require.NoError(t, f.extractor.OnConversationClosed(ctx, "conv-1"))

	promoted, err := f.supervisor.ReviewPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := learningCtx(t, "acme")

	f.closeConversation(t, ctx, "conv-1", "Tem desconto?", "Não trabalhamos com descontos.")
	require.NoError(t, f.extractor.OnConversationClosed(ctx, "conv-1"))

	hash := dedupHash(normalizeTrigger("Tem desconto?"))
	c, err := candidateByHash(ctx, f.db, "acme", hash)
	require.NoError(t, err)

	require.NoError(t, f.supervisor.Reject(ctx, c.ID, "tone too blunt"))

	got, err := Get(ctx, f.db, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.NotNil(t, got.DecidedAt)

	// New evidence does not resurrect a rejected candidate.
	f.closeConversation(t, ctx, "conv-2", "Tem desconto?", "Não trabalhamos com descontos.")
	require.NoError(t, f.extractor.OnConversationClosed(ctx, "conv-2"))
	got, err = Get(ctx, f.db, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.EvidenceCount)
	assert.Equal(t, StatusRejected, got.Status)

	// Deciding twice is an error.
	assert.Error(t, f.supervisor.Reject(ctx, c.ID, "again"))
}

func TestCandidatesIsolatedPerTenant(t *testing.T) {
	f := newFixture(t)
	acme := learningCtx(t, "acme")
	rival := learningCtx(t, "rival")

	f.closeConversation(t, acme, "conv-1", "Qual o horário?", "Das 9h às 18h.")
	require.NoError(t, f.extractor.OnConversationClosed(acme, "conv-1"))

	hash := dedupHash(normalizeTrigger("Qual o horário?"))
	_, err := candidateByHash(rival, f.db, "rival", hash)
	assert.Error(t, err)

	promoted, err := f.supervisor.ReviewPending(rival)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}

func TestConfidenceWeights(t *testing.T) {
	e := NewExtractor(nil, nil, config.LearningConfig{
		MinEvidence:       3,
		FrequencyWeight:   0.5,
		ConsistencyWeight: 0.3,
		RecencyWeight:     0.2,
		RecencyHalfLife:   30 * 24 * time.Hour,
	}, nil)

	// Full evidence, perfectly consistent, fresh.
	assert.InDelta(t, 1.0, e.confidence(3, 1.0, 0), 0.001)

	// One observation out of three, consistent, fresh.
	assert.InDelta(t, 0.5/3+0.3+0.2, e.confidence(1, 1.0, 0), 0.001)

	// Old evidence scores lower than fresh evidence.
	assert.Less(t, e.confidence(3, 1.0, 60*24*time.Hour), e.confidence(3, 1.0, 0))
}
