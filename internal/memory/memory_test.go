package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/tenant"
	"github.com/brisaai/sicc/internal/vectorstore"
)

// bagEmbedder is a deterministic bag-of-words embedder for tests. It can be
// switched into a failing state to exercise degradation.
type bagEmbedder struct {
	failing bool
}

func (e *bagEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failing {
		return nil, fmt.Errorf("%w: test outage", capability.ErrEmbeddingUnavailable)
	}
	const dim = 32
	vec := make([]float32, dim)
	for _, token := range tokenize(text) {
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

func (e *bagEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *bagEmbedder) Dimension() int { return 32 }

func newTestStore(t *testing.T) (*Store, *bagEmbedder) {
	t.Helper()

	embedder := &bagEmbedder{}
	backend, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 32,
	}, embedder, nil)
	require.NoError(t, err)

	db, err := storage.Open(t.TempDir()+"/sicc.db", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.MemoryConfig{
		SemanticWeight: 0.7,
		LexicalWeight:  0.3,
		BoostIncrement: 0.05,
		DecayFactor:    0.9,
		AgeThreshold:   30 * 24 * time.Hour,
		RelevanceFloor: 0.2,
		SearchLimit:    5,
	}
	return NewStore(vectorstore.NewScopedStore(backend, nil), db, cfg, nil), embedder
}

func tenantCtx(t *testing.T, id string) context.Context {
	t.Helper()
	scope, err := tenant.NewScope(id)
	require.NoError(t, err)
	return tenant.NewContext(context.Background(), scope)
}

func TestInsertAndSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := tenantCtx(t, "acme")

	_, err := store.Insert(ctx, "o plano premium custa 150 reais por mês", "onboarding")
	require.NoError(t, err)
	_, err = store.Insert(ctx, "horário de atendimento é das 9h às 18h", "onboarding")
	require.NoError(t, err)

	result, err := store.Search(ctx, "qual o preço do plano premium", 5)
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	require.NotEmpty(t, result.Hits)
	assert.Contains(t, result.Hits[0].Chunk.Content, "premium")
}

func TestSearchRequiresScope(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Search(context.Background(), "qualquer coisa", 5)
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)

	_, err = store.Insert(context.Background(), "conteúdo", "test")
	assert.ErrorIs(t, err, tenant.ErrUnresolvedTenant)
}

func TestTenantsDoNotSeeEachOther(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Insert(tenantCtx(t, "acme"), "desconto exclusivo do tenant acme", "note")
	require.NoError(t, err)

	result, err := store.Search(tenantCtx(t, "rival"), "desconto exclusivo acme", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Hits)
}

func TestGlobalChunksVisibleToAllTenants(t *testing.T) {
	store, _ := newTestStore(t)

	globalCtx := tenant.NewContext(context.Background(), tenant.Global)
	_, err := store.Insert(globalCtx, "política de reembolso padrão em até 7 dias", "policy")
	require.NoError(t, err)

	result, err := store.Search(tenantCtx(t, "acme"), "como funciona reembolso", 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.Equal(t, tenant.GlobalID, result.Hits[0].Chunk.TenantID)
}

func TestBoostOnReadHit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := tenantCtx(t, "acme")

	chunk, err := store.Insert(ctx, "entrega grátis acima de 200 reais", "faq")
	require.NoError(t, err)

	result, err := store.Search(ctx, "entrega grátis", 5)
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)

	got, err := store.Get(ctx, chunk.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.05, got.Relevance, 1e-9)
	assert.Equal(t, 1, got.AccessCount)

	// A second hit boosts again.
	_, err = store.Search(ctx, "entrega grátis", 5)
	require.NoError(t, err)
	got, err = store.Get(ctx, chunk.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.10, got.Relevance, 1e-9)
	assert.Equal(t, 2, got.AccessCount)
}

func TestLexicalDegradationWhenEmbeddingsDown(t *testing.T) {
	store, embedder := newTestStore(t)
	ctx := tenantCtx(t, "acme")

	_, err := store.Insert(ctx, "o plano básico custa 50 reais", "faq")
	require.NoError(t, err)

	embedder.failing = true

	result, err := store.Search(ctx, "quanto custa o plano básico", 5)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	require.NotEmpty(t, result.Hits)
	assert.Zero(t, result.Hits[0].Semantic)
	assert.Greater(t, result.Hits[0].Lexical, 0.0)
}

func TestDecayAndCleanup(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := tenantCtx(t, "acme")

	fresh, err := store.Insert(ctx, "informação recente sobre frete", "faq")
	require.NoError(t, err)
	aged, err := store.Insert(ctx, "informação antiga ainda útil", "faq")
	require.NoError(t, err)
	doomed, err := store.Insert(ctx, "informação antiga e irrelevante", "faq")
	require.NoError(t, err)

	// Age two chunks past the threshold, one of them already near the
	// relevance floor.
	old := storage.FormatTime(time.Now().UTC().Add(-60 * 24 * time.Hour))
	_, err = store.db.SQL().Exec(`UPDATE memory_chunks SET created_at = ? WHERE id IN (?, ?)`, old, aged.ID, doomed.ID)
	require.NoError(t, err)
	_, err = store.db.SQL().Exec(`UPDATE memory_chunks SET relevance = 0.21 WHERE id = ?`, doomed.ID)
	require.NoError(t, err)

	decayed, removed, err := store.DecayAndCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, decayed)
	assert.Equal(t, 1, removed)

	got, err := store.Get(ctx, aged.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Relevance, 1e-9)

	_, err = store.Get(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrChunkNotFound)

	got, err = store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got.Relevance, 1e-9)
}

func TestTokenizeFiltersStopwords(t *testing.T) {
	tokens := tokenize("Qual é o preço do plano premium?")
	assert.Contains(t, tokens, "preço")
	assert.Contains(t, tokens, "plano")
	assert.Contains(t, tokens, "premium")
	assert.NotContains(t, tokens, "do")
	assert.NotContains(t, tokens, "é")
}

func TestTermOverlap(t *testing.T) {
	q := tokenize("preço plano premium")
	assert.InDelta(t, 1.0, termOverlap(q, tokenize("preço do plano premium é 150")), 1e-9)
	assert.InDelta(t, 0.0, termOverlap(q, tokenize("horário de atendimento")), 1e-9)
	third := termOverlap(q, tokenize("o plano básico"))
	assert.InDelta(t, 1.0/3.0, third, 1e-9)
}

func TestDegradationReportedForFreshTenant(t *testing.T) {
	store, embedder := newTestStore(t)
	embedder.failing = true

	// No chunks stored yet: the outage must still be detected so the
	// caller sees the degraded flag, not a silent empty result.
	result, err := store.Search(tenantCtx(t, "acme"), "qualquer pergunta", 5)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.Hits)
}
