package vectorstore

import (
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/brisaai/sicc/internal/capability"
	"github.com/brisaai/sicc/internal/config"
)

// New builds the configured backend and wraps it with tenant isolation.
func New(cfg config.StoreConfig, dimension int, embedder capability.Embedder, logger *zap.Logger) (*ScopedStore, error) {
	var backend Store

	switch cfg.Backend {
	case "chromem", "":
		store, err := NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			VectorSize: dimension,
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("creating chromem store: %w", err)
		}
		backend = store

	case "qdrant":
		host, port, err := splitQdrantAddr(cfg.QdrantAddr)
		if err != nil {
			return nil, err
		}
		store, err := NewQdrantStore(QdrantConfig{
			Host:       host,
			Port:       port,
			APIKey:     cfg.QdrantAPIKey,
			VectorSize: uint64(dimension),
		}, embedder, logger)
		if err != nil {
			return nil, fmt.Errorf("creating qdrant store: %w", err)
		}
		backend = store

	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}

	return NewScopedStore(backend, logger), nil
}

// splitQdrantAddr parses host:port, defaulting to localhost:6334.
func splitQdrantAddr(addr string) (string, int, error) {
	if addr == "" {
		return "localhost", 6334, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: qdrant address %q must be host:port", ErrInvalidConfig, addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: qdrant port %q is not a number", ErrInvalidConfig, portStr)
	}
	return host, port, nil
}
