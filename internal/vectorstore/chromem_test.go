package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisaai/sicc/internal/capability"
)

// flakyEmbedder serves a fixed vector until failing is flipped.
type flakyEmbedder struct {
	failing bool
}

func (e *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failing {
		return nil, fmt.Errorf("%w: test outage", capability.ErrEmbeddingUnavailable)
	}
	vec := make([]float32, 8)
	vec[int(text[0])%8] = 1
	return vec, nil
}

func (e *flakyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (e *flakyEmbedder) Dimension() int { return 8 }

func newChromemStore(t *testing.T, embedder capability.Embedder) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 8,
	}, embedder, nil)
	require.NoError(t, err)
	return store
}

func TestChromemSearchRoundTrip(t *testing.T) {
	embedder := &flakyEmbedder{}
	store := newChromemStore(t, embedder)
	ctx := context.Background()

	_, err := store.Add(ctx, "memories", []Document{
		{ID: "a", Content: "alpha", Metadata: map[string]string{ScopeKey: "acme"}},
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, "memories", "alpha", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

// An embedding outage must surface even when the collection does not
// exist or holds no documents, so retrieval can degrade to lexical.
func TestChromemSearchSurfacesEmbeddingOutageOnEmptyCollection(t *testing.T) {
	embedder := &flakyEmbedder{failing: true}
	store := newChromemStore(t, embedder)
	ctx := context.Background()

	// Collection never created.
	_, err := store.Search(ctx, "memories", "alpha", 5, nil)
	assert.ErrorIs(t, err, capability.ErrEmbeddingUnavailable)

	// Collection exists but is empty.
	embedder.failing = false
	_, err = store.Add(ctx, "memories", []Document{{ID: "a", Content: "alpha"}})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "memories", []string{"a"}))

	embedder.failing = true
	_, err = store.Search(ctx, "memories", "alpha", 5, nil)
	assert.ErrorIs(t, err, capability.ErrEmbeddingUnavailable)
}

func TestChromemSearchEmptyCollectionReturnsNoResults(t *testing.T) {
	store := newChromemStore(t, &flakyEmbedder{})

	results, err := store.Search(context.Background(), "memories", "alpha", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
