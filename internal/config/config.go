// Package config provides configuration loading for siccd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. Scoring weights and decision thresholds are deliberately
// configuration, not constants: the source material fixes only the 0.7
// auto-approval threshold, everything else is tunable and meant to be
// validated empirically.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete siccd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Generation GenerationConfig `koanf:"generation"`
	Store      StoreConfig      `koanf:"store"`
	Memory     MemoryConfig     `koanf:"memory"`
	Behavior   BehaviorConfig   `koanf:"behavior"`
	Learning   LearningConfig   `koanf:"learning"`
	Turn       TurnConfig       `koanf:"turn"`
	NATS       NATSConfig       `koanf:"nats"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Redaction  RedactionConfig  `koanf:"redaction"`

	// Tenants seeds the tenant directory. Requests for identifiers not in
	// this list fail closed.
	Tenants []string `koanf:"tenants"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is "fastembed" (local ONNX) or "tei" (HTTP service).
	Provider string `koanf:"provider"`
	// Model is the embedding model name.
	Model string `koanf:"model"`
	// BaseURL is the TEI endpoint (tei provider only).
	BaseURL string `koanf:"base_url"`
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string `koanf:"cache_dir"`
	// Dimension is the fixed system-wide embedding dimensionality.
	Dimension int `koanf:"dimension"`
	// Timeout bounds a single embedding call.
	Timeout time.Duration `koanf:"timeout"`
}

// GenerationConfig holds text-generation capability configuration.
type GenerationConfig struct {
	// Provider is "openai", "anthropic" or "ollama".
	Provider string `koanf:"provider"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
	// OllamaHost is the Ollama server URL (ollama provider only).
	OllamaHost string `koanf:"ollama_host"`
	// Timeout bounds a single generation call.
	Timeout time.Duration `koanf:"timeout"`
	// MaxRetries bounds transport-level retries at the capability boundary.
	MaxRetries int `koanf:"max_retries"`
	// BaseBackoff is the initial retry backoff (doubled per attempt).
	BaseBackoff time.Duration `koanf:"base_backoff"`
	// RequestsPerMinute rate-limits outbound calls.
	RequestsPerMinute float64 `koanf:"requests_per_minute"`
}

// StoreConfig holds vector and relational store configuration.
type StoreConfig struct {
	// Backend is "chromem" (embedded) or "qdrant" (external gRPC).
	Backend string `koanf:"backend"`
	// Path is the chromem persistence directory.
	Path string `koanf:"path"`
	// DatabasePath is the SQLite file holding chunk state, patterns,
	// learning candidates and conversation logs.
	DatabasePath string `koanf:"database_path"`
	// Compress enables gzip compression of chromem persistence.
	Compress bool `koanf:"compress"`
	// QdrantAddr is the Qdrant gRPC host:port (qdrant backend only).
	QdrantAddr string `koanf:"qdrant_addr"`
	// QdrantAPIKey authenticates against Qdrant Cloud (optional).
	QdrantAPIKey string `koanf:"qdrant_api_key"`
}

// MemoryConfig holds memory store tuning.
type MemoryConfig struct {
	// SemanticWeight and LexicalWeight blend vector similarity with
	// term-overlap relevance in hybrid search. Normalized before use.
	SemanticWeight float64 `koanf:"semantic_weight"`
	LexicalWeight  float64 `koanf:"lexical_weight"`
	// BoostIncrement is added to a chunk's relevance on every read-hit.
	BoostIncrement float64 `koanf:"boost_increment"`
	// DecayFactor multiplies relevance of chunks past the age threshold
	// on each cleanup sweep.
	DecayFactor float64 `koanf:"decay_factor"`
	// AgeThreshold is how old a chunk must be before decay applies.
	AgeThreshold time.Duration `koanf:"age_threshold"`
	// RelevanceFloor is the score below which aged chunks are removed.
	RelevanceFloor float64 `koanf:"relevance_floor"`
	// SweepInterval is how often the background cleanup runs.
	SweepInterval time.Duration `koanf:"sweep_interval"`
	// SearchLimit is the default k for memory retrieval.
	SearchLimit int `koanf:"search_limit"`
}

// BehaviorConfig holds pattern matcher tuning.
type BehaviorConfig struct {
	// TemplateThreshold: similarity at or above this returns the pattern's
	// response template for verbatim use.
	TemplateThreshold float64 `koanf:"template_threshold"`
	// GuidanceFloor: similarity at or above this (but below the template
	// threshold) surfaces the pattern as few-shot guidance only.
	GuidanceFloor float64 `koanf:"guidance_floor"`
}

// LearningConfig holds the learning pipeline tuning.
type LearningConfig struct {
	// MinEvidence is the minimum occurrences of a normalized trigger shape
	// across the tenant's history before a candidate is emitted.
	MinEvidence int `koanf:"min_evidence"`
	// AutoApproveThreshold promotes candidates at or above this confidence.
	AutoApproveThreshold float64 `koanf:"auto_approve_threshold"`
	// FrequencyWeight, ConsistencyWeight and RecencyWeight combine into the
	// candidate confidence score. Normalized before use.
	FrequencyWeight   float64 `koanf:"frequency_weight"`
	ConsistencyWeight float64 `koanf:"consistency_weight"`
	RecencyWeight     float64 `koanf:"recency_weight"`
	// RecencyHalfLife controls how fast old evidence stops counting as recent.
	RecencyHalfLife time.Duration `koanf:"recency_half_life"`
	// Subject is the NATS subject carrying conversation-close events.
	Subject string `koanf:"subject"`
}

// TurnConfig holds orchestrator tuning.
type TurnConfig struct {
	// MaxRetries caps SUPERVISE -> GENERATE regeneration cycles per turn.
	MaxRetries int `koanf:"max_retries"`
	// FallbackResponse is sent when the retry budget is exhausted or the
	// generation capability is unavailable. Always paired with handoff.
	FallbackResponse string `koanf:"fallback_response"`
	// HistoryLimit caps how many prior turns are loaded into context.
	HistoryLimit int `koanf:"history_limit"`
}

// NATSConfig holds messaging configuration.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// TelemetryConfig holds trace export configuration. Disabled by default;
// spans stay no-op until an endpoint is configured.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// RedactionConfig controls scrubbing of customer identifiers before
// memory writes. On unless explicitly disabled.
type RedactionConfig struct {
	Disabled    bool   `koanf:"disabled"`
	Replacement string `koanf:"replacement"`
}

// applyDefaults fills unset fields with production defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 384
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 15 * time.Second
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
	if cfg.Generation.MaxRetries == 0 {
		cfg.Generation.MaxRetries = 3
	}
	if cfg.Generation.BaseBackoff == 0 {
		cfg.Generation.BaseBackoff = time.Second
	}
	if cfg.Generation.RequestsPerMinute == 0 {
		cfg.Generation.RequestsPerMinute = 50
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "chromem"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.local/share/siccd/store"
	}
	if cfg.Store.DatabasePath == "" {
		cfg.Store.DatabasePath = "~/.local/share/siccd/sicc.db"
	}
	if cfg.Memory.SemanticWeight == 0 && cfg.Memory.LexicalWeight == 0 {
		cfg.Memory.SemanticWeight = 0.7
		cfg.Memory.LexicalWeight = 0.3
	}
	if cfg.Memory.BoostIncrement == 0 {
		cfg.Memory.BoostIncrement = 0.05
	}
	if cfg.Memory.DecayFactor == 0 {
		cfg.Memory.DecayFactor = 0.9
	}
	if cfg.Memory.AgeThreshold == 0 {
		cfg.Memory.AgeThreshold = 30 * 24 * time.Hour
	}
	if cfg.Memory.RelevanceFloor == 0 {
		cfg.Memory.RelevanceFloor = 0.2
	}
	if cfg.Memory.SweepInterval == 0 {
		cfg.Memory.SweepInterval = 24 * time.Hour
	}
	if cfg.Memory.SearchLimit == 0 {
		cfg.Memory.SearchLimit = 5
	}
	if cfg.Behavior.TemplateThreshold == 0 {
		cfg.Behavior.TemplateThreshold = 0.85
	}
	if cfg.Behavior.GuidanceFloor == 0 {
		cfg.Behavior.GuidanceFloor = 0.55
	}
	if cfg.Learning.MinEvidence == 0 {
		cfg.Learning.MinEvidence = 3
	}
	if cfg.Learning.AutoApproveThreshold == 0 {
		cfg.Learning.AutoApproveThreshold = 0.7
	}
	if cfg.Learning.FrequencyWeight == 0 && cfg.Learning.ConsistencyWeight == 0 && cfg.Learning.RecencyWeight == 0 {
		cfg.Learning.FrequencyWeight = 0.5
		cfg.Learning.ConsistencyWeight = 0.3
		cfg.Learning.RecencyWeight = 0.2
	}
	if cfg.Learning.RecencyHalfLife == 0 {
		cfg.Learning.RecencyHalfLife = 14 * 24 * time.Hour
	}
	if cfg.Learning.Subject == "" {
		cfg.Learning.Subject = "sicc.conversation.closed"
	}
	if cfg.Turn.MaxRetries == 0 {
		cfg.Turn.MaxRetries = 2
	}
	if cfg.Turn.FallbackResponse == "" {
		cfg.Turn.FallbackResponse = "Vou transferir você para um de nossos atendentes para ajudar melhor. Um momento, por favor."
	}
	if cfg.Turn.HistoryLimit == 0 {
		cfg.Turn.HistoryLimit = 20
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 5
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = time.Second
	}
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings.dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Memory.SemanticWeight < 0 || c.Memory.LexicalWeight < 0 {
		return fmt.Errorf("memory weights must be non-negative")
	}
	if c.Memory.SemanticWeight+c.Memory.LexicalWeight == 0 {
		return fmt.Errorf("memory weights must not both be zero")
	}
	if c.Behavior.GuidanceFloor > c.Behavior.TemplateThreshold {
		return fmt.Errorf("behavior.guidance_floor (%v) must not exceed behavior.template_threshold (%v)",
			c.Behavior.GuidanceFloor, c.Behavior.TemplateThreshold)
	}
	if c.Learning.AutoApproveThreshold < 0 || c.Learning.AutoApproveThreshold > 1 {
		return fmt.Errorf("learning.auto_approve_threshold must be in [0,1], got %v", c.Learning.AutoApproveThreshold)
	}
	if c.Turn.MaxRetries < 0 {
		return fmt.Errorf("turn.max_retries must not be negative, got %d", c.Turn.MaxRetries)
	}
	switch c.Store.Backend {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("store.backend must be chromem or qdrant, got %q", c.Store.Backend)
	}
	return nil
}
