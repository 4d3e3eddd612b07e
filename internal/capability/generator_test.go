package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// fakeModel fails a fixed number of times before succeeding.
type fakeModel struct {
	failures int
	calls    int
	response string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("upstream 503")
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestGenerator(model llms.Model, maxRetries int) *LLMGenerator {
	return &LLMGenerator{
		model:       model,
		timeout:     time.Second,
		maxRetries:  maxRetries,
		baseBackoff: time.Millisecond,
		limiter:     rate.NewLimiter(rate.Inf, 1),
		logger:      zap.NewNop(),
	}
}

func TestGenerateSucceedsAfterRetries(t *testing.T) {
	model := &fakeModel{failures: 2, response: "olá"}
	g := newTestGenerator(model, 3)

	got, err := g.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "olá", got)
	assert.Equal(t, 3, model.calls)
}

func TestGenerateExhaustsRetryBudget(t *testing.T) {
	model := &fakeModel{failures: 10, response: "never"}
	g := newTestGenerator(model, 2)

	_, err := g.Generate(context.Background(), "system", "user")
	assert.ErrorIs(t, err, ErrGenerationUnavailable)
	// Initial attempt plus two retries, never more.
	assert.Equal(t, 3, model.calls)
}

func TestGenerateHonorsCancellation(t *testing.T) {
	model := &fakeModel{failures: 10}
	g := newTestGenerator(model, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Generate(ctx, "system", "user")
	assert.Error(t, err)
	assert.LessOrEqual(t, model.calls, 1)
}

func TestNewLLMGeneratorValidation(t *testing.T) {
	_, err := NewLLMGenerator(GeneratorConfig{Provider: "openai"}, nil)
	assert.Error(t, err) // missing API key

	_, err = NewLLMGenerator(GeneratorConfig{Provider: "carrier-pigeon"}, nil)
	assert.Error(t, err)
}
