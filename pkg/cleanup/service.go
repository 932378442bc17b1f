// Package cleanup enforces retention on episodic memory.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes episodes older than a cutoff. Implemented by both
// episode stores in the retrieval package.
type Pruner interface {
	DeleteEpisodesBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Config bounds the retention loop.
type Config struct {
	// RetentionDays is how long episodes are kept. Zero disables pruning.
	RetentionDays int
	// Interval is how often the loop runs.
	Interval time.Duration
}

// Service periodically prunes episodes past their retention window.
// Pruning is idempotent and safe to run from multiple replicas. The
// in-process recall index keeps serving pruned episodes until the next
// restart rehydrates it.
type Service struct {
	cfg    Config
	pruner Pruner

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new retention service.
func NewService(cfg Config, pruner Pruner) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &Service{cfg: cfg, pruner: pruner}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil || s.cfg.RetentionDays <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"retention_days", s.cfg.RetentionDays,
		"interval", s.cfg.Interval)
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.pruneOldEpisodes(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneOldEpisodes(ctx)
		}
	}
}

func (s *Service) pruneOldEpisodes(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	count, err := s.pruner.DeleteEpisodesBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: episode pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned old episodes", "count", count)
	}
}
