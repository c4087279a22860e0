// Package stats serves the remote worker's aggregate statistics and health.
package stats

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/askmaven/internal/core"
)

// Source is the slice of the remote client the Service needs.
type Source interface {
	Stats(ctx context.Context) (map[string]any, error)
	HealthCheck(ctx context.Context) bool
}

// Service passes the worker's /stats payload through, optionally cached.
type Service struct {
	source Source
	cache  core.StatsCache
	logger *zap.Logger
}

// New wires a Service. cache may be nil.
func New(source Source, cache core.StatsCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, cache: cache, logger: logger}
}

// Get returns the aggregate stats map. Cache failures are logged and
// bypassed; remote failures propagate.
func (s *Service) Get(ctx context.Context) (map[string]any, error) {
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		switch {
		case err != nil:
			s.logger.Warn("stats cache read failed", zap.Error(err))
		case ok:
			return cached, nil
		}
	}

	out, err := s.source.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, out); err != nil {
			s.logger.Warn("stats cache write failed", zap.Error(err))
		}
	}
	return out, nil
}

// Health reports whether the remote worker is healthy. It never fails.
func (s *Service) Health(ctx context.Context) bool {
	return s.source.HealthCheck(ctx)
}
