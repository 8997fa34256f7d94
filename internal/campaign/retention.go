package campaign

import (
	"context"
	"time"

	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/store"
)

const (
	activityRetention = 90 * 24 * time.Hour
	sweepEvery        = 24 * time.Hour
)

// RetentionSweeper prunes the activity trail nightly. The email event
// log is exempt: it is the source of truth for engagement state and is
// never deleted.
type RetentionSweeper struct {
	store *store.Postgres
	log   *logger.Logger
}

func NewRetentionSweeper(st *store.Postgres) *RetentionSweeper {
	return &RetentionSweeper{store: st, log: logger.With("retention")}
}

// Run sweeps once immediately, then daily until ctx is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-activityRetention)
	n, err := s.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("activity sweep", "error", err)
		return
	}
	s.log.Info("activity sweep complete", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
}
