package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/behavior"
	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
	"github.com/brisaai/sicc/internal/conversation"
	"github.com/brisaai/sicc/internal/embeddings"
	"github.com/brisaai/sicc/internal/grounding"
	"github.com/brisaai/sicc/internal/httpapi"
	"github.com/brisaai/sicc/internal/learning"
	"github.com/brisaai/sicc/internal/memory"
	"github.com/brisaai/sicc/internal/orchestrator"
	"github.com/brisaai/sicc/internal/redact"
	"github.com/brisaai/sicc/internal/reflection"
	"github.com/brisaai/sicc/internal/skill"
	"github.com/brisaai/sicc/internal/storage"
	"github.com/brisaai/sicc/internal/supervisor"
	"github.com/brisaai/sicc/internal/tenant"
	"github.com/brisaai/sicc/internal/vectorstore"
)

// dependencies holds everything run needs to start and stop cleanly.
type dependencies struct {
	embedder embeddings.Provider
	vectors  *vectorstore.ScopedStore
	db       *storage.DB
	nc       *nats.Conn
	sweeper  *memory.Sweeper
	consumer *learning.Consumer
	server   *httpapi.Server
	logger   *zap.Logger
}

// initDependencies builds the full service graph from configuration.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	vectors, err := vectorstore.New(cfg.Store, embedder.Dimension(), embedder, logger)
	if err != nil {
		embedder.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	db, err := storage.Open(cfg.Store.DatabasePath, logger)
	if err != nil {
		vectors.Close()
		embedder.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	generator, err := capability.NewLLMGenerator(capability.GeneratorConfig{
		Provider:          cfg.Generation.Provider,
		Model:             cfg.Generation.Model,
		APIKey:            cfg.Generation.APIKey,
		OllamaHost:        cfg.Generation.OllamaHost,
		Timeout:           cfg.Generation.Timeout,
		MaxRetries:        cfg.Generation.MaxRetries,
		BaseBackoff:       cfg.Generation.BaseBackoff,
		RequestsPerMinute: cfg.Generation.RequestsPerMinute,
	}, logger)
	if err != nil {
		db.Close()
		vectors.Close()
		embedder.Close()
		return nil, fmt.Errorf("creating generation client: %w", err)
	}

	nc, err := learning.Connect(cfg.NATS)
	if err != nil {
		db.Close()
		vectors.Close()
		embedder.Close()
		return nil, err
	}

	resolver, err := tenant.NewDirectoryResolver(cfg.Tenants...)
	if err != nil {
		nc.Close()
		db.Close()
		vectors.Close()
		embedder.Close()
		return nil, fmt.Errorf("seeding tenant directory: %w", err)
	}

	memStore := memory.NewStore(vectors, db, cfg.Memory, logger)
	patterns := behavior.NewStore(vectors, db, logger)
	matcher := behavior.NewMatcher(patterns, cfg.Behavior, logger)
	catalog := grounding.NewCatalog(db, logger)
	convLog := conversation.NewLog(db, logger)

	registry := skill.NewRegistry(logger)
	registry.Register(skill.NewSalesSkill(catalog, logger))

	var scrubber *redact.Scrubber
	if !cfg.Redaction.Disabled {
		scrubber, err = redact.New(nil, cfg.Redaction.Replacement)
		if err != nil {
			nc.Close()
			db.Close()
			vectors.Close()
			embedder.Close()
			return nil, fmt.Errorf("compiling redaction rules: %w", err)
		}
	}

	orch := orchestrator.New(
		memStore,
		matcher,
		patterns,
		registry,
		generator,
		supervisor.NewValidator(catalog, logger),
		reflection.NewCritic(generator, logger),
		scrubber,
		convLog,
		cfg.Turn,
		logger,
	)

	extractor := learning.NewExtractor(db, convLog, cfg.Learning, logger)
	patternSupervisor := learning.NewPatternSupervisor(db, patterns, cfg.Learning, logger)
	consumer := learning.NewConsumer(nc, extractor, patternSupervisor, cfg.Learning.Subject, logger)

	publish := func(tenantID, conversationID string) error {
		return learning.Publish(nc, cfg.Learning.Subject, learning.CloseEvent{
			TenantID:       tenantID,
			ConversationID: conversationID,
		})
	}

	server, err := httpapi.NewServer(orch, convLog, resolver, publish, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		nc.Close()
		db.Close()
		vectors.Close()
		embedder.Close()
		return nil, fmt.Errorf("creating http server: %w", err)
	}

	sweepInterval := cfg.Memory.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	return &dependencies{
		embedder: embedder,
		vectors:  vectors,
		db:       db,
		nc:       nc,
		sweeper:  memory.NewSweeper(memStore, sweepInterval, logger),
		consumer: consumer,
		server:   server,
		logger:   logger,
	}, nil
}

// Close releases all dependencies in reverse initialization order.
func (d *dependencies) Close() {
	if d.consumer != nil {
		if err := d.consumer.Stop(); err != nil {
			d.logger.Warn("stopping learning consumer", zap.Error(err))
		}
	}
	if d.nc != nil {
		d.nc.Close()
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Warn("closing database", zap.Error(err))
		}
	}
	if d.vectors != nil {
		if err := d.vectors.Close(); err != nil {
			d.logger.Warn("closing vector store", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn("closing embedding provider", zap.Error(err))
		}
	}
}
