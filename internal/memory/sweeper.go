package memory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically runs decay and cleanup over the whole store.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a sweeper with the given interval.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run blocks until the context is canceled, sweeping on each tick.
// Sweep failures are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("memory sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("memory sweeper stopped")
			return
		case <-ticker.C:
			if _, _, err := s.store.DecayAndCleanup(ctx); err != nil {
				s.logger.Error("memory decay sweep failed", zap.Error(err))
			}
		}
	}
}
