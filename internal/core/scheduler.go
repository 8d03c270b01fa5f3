package core

// scheduler.go runs backup retention in the background.
//
// Retention also runs after every capture, but age eviction must happen even
// when no uploads arrive, so a long-running server sweeps on a timer. Sweep
// failures are logged and never stop the loop.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the retention sweep runs.
const DefaultSweepInterval = time.Hour

// StartRetentionSweeper enforces backup retention immediately and then every
// interval until ctx is cancelled. It blocks; run it in a goroutine.
func (s *Service) StartRetentionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	policy := s.backups.Policy()
	slog.Info("retention sweeper started",
		"interval", interval,
		"max_snapshots", policy.MaxSnapshots,
		"max_age", policy.MaxAge,
		"max_bytes", policy.MaxBytes,
	)

	s.runSweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep performs one retention pass. It skips the pass while an upload or
// undo holds the gate so it never evicts a snapshot mid-restore.
func (s *Service) runSweep(ctx context.Context) {
	if err := s.gate.TryEnter("retention"); err != nil {
		slog.Debug("retention sweep skipped, operation in progress")
		return
	}
	defer s.gate.Leave()

	start := time.Now()
	if err := s.backups.Enforce(ctx); err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}
	slog.Debug("retention sweep completed", "duration_ms", time.Since(start).Milliseconds())
}
