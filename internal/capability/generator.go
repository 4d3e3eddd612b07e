package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GeneratorConfig configures the LLM generation client.
type GeneratorConfig struct {
	// Provider is "openai", "anthropic" or "ollama".
	Provider string
	// Model is the provider-specific model name.
	Model string
	// APIKey authenticates against hosted providers.
	APIKey string
	// OllamaHost is the Ollama server URL (ollama only).
	OllamaHost string
	// Timeout bounds each individual call.
	Timeout time.Duration
	// MaxRetries bounds retry attempts per Generate call.
	MaxRetries int
	// BaseBackoff is the initial backoff, doubled per attempt.
	BaseBackoff time.Duration
	// RequestsPerMinute rate-limits outbound calls.
	RequestsPerMinute float64
}

const generatorBurst = 5

// LLMGenerator implements Generator on top of a langchaingo model.
//
// Each call is rate-limited, bounded by a per-call timeout and retried
// with exponential backoff up to MaxRetries. Exhausted retries surface as
// ErrGenerationUnavailable (or ErrGenerationTimeout when the deadline was
// the cause), never as raw transport errors.
type LLMGenerator struct {
	model       llms.Model
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewLLMGenerator creates a generation client for the configured provider.
func NewLLMGenerator(cfg GeneratorConfig, logger *zap.Logger) (*LLMGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var model llms.Model
	var err error
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai API key required")
		}
		model, err = openai.New(openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model))
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key required")
		}
		model, err = anthropic.New(anthropic.WithToken(cfg.APIKey), anthropic.WithModel(cfg.Model))
	case "ollama":
		model, err = ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.OllamaHost))
	default:
		return nil, fmt.Errorf("unsupported generation provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Provider, err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff == 0 {
		baseBackoff = time.Second
	}
	rpm := cfg.RequestsPerMinute
	if rpm == 0 {
		rpm = 50
	}

	return &LLMGenerator{
		model:       model,
		timeout:     timeout,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		limiter:     rate.NewLimiter(rate.Limit(rpm/60.0), generatorBurst),
		logger:      logger,
	}, nil
}

// Generate produces a completion with retry and backoff.
func (g *LLMGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	var lastErr error
	backoff := g.baseBackoff

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", g.translate(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			g.logger.Debug("retrying generation call", zap.Int("attempt", attempt))
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return "", g.translate(err)
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.model.GenerateContent(callCtx, messages)
		cancel()
		if err != nil {
			lastErr = err
			// A cancelled parent context is not retryable.
			if ctx.Err() != nil {
				return "", g.translate(ctx.Err())
			}
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty response from model")
			continue
		}
		return resp.Choices[0].Content, nil
	}

	return "", g.translate(lastErr)
}

// translate maps transport errors into the capability taxonomy.
func (g *LLMGenerator) translate(err error) error {
	if err == nil {
		return ErrGenerationUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
}

var _ Generator = (*LLMGenerator)(nil)
