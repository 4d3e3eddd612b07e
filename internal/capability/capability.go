// Package capability defines the external AI capabilities the core
// consumes: embedding generation and text generation. Both are black boxes
// behind interfaces; implementations translate transport failures into the
// typed errors below at this boundary, so no raw transport error ever
// reaches the orchestrator's caller.
package capability

import (
	"context"
	"errors"
)

// Typed capability errors.
var (
	// ErrEmbeddingUnavailable indicates the embedding capability is
	// unreachable. Recoverable: memory search degrades to lexical-only.
	ErrEmbeddingUnavailable = errors.New("embedding capability unavailable")

	// ErrGenerationUnavailable indicates the generation capability is
	// unreachable after bounded retries.
	ErrGenerationUnavailable = errors.New("generation capability unavailable")

	// ErrGenerationTimeout indicates a generation call exceeded its
	// deadline. Treated identically to unavailability by callers.
	ErrGenerationTimeout = errors.New("generation call timed out")
)

// Embedder generates fixed-dimension vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimensionality. Fixed system-wide.
	Dimension() int
}

// Generator produces text from a prompt plus conversation context.
type Generator interface {
	// Generate produces a completion for the given system prompt and user
	// input. Implementations bound the call with a timeout and bounded
	// retries; on exhaustion they return ErrGenerationUnavailable or
	// ErrGenerationTimeout.
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
