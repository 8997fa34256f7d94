package warmup

import (
	"context"
	"time"

	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/store"
)

const tickEvery = time.Hour

// Scheduler fans the hourly warmup tick out to every enrolled account.
// The per-account work happens in queue jobs so one slow account cannot
// stall the rest.
type Scheduler struct {
	store *store.Postgres
	queue *queue.Queue
	log   *logger.Logger
}

func NewScheduler(st *store.Postgres, q *queue.Queue) *Scheduler {
	return &Scheduler{store: st, queue: q, log: logger.With("warmup-scheduler")}
}

// Run ticks once immediately, then hourly until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	accounts, err := s.store.ListWarmupAccounts(ctx)
	if err != nil {
		s.log.Error("list warmup accounts", "error", err)
		return
	}
	for _, account := range accounts {
		err := s.queue.Enqueue(ctx, queue.TypeWarmupAccount,
			queue.WarmupAccountPayload{AccountID: account.ID}, 0)
		if err != nil {
			s.log.Error("enqueue warmup tick", "account_id", account.ID, "error", err)
		}
	}
	s.log.Info("warmup tick fanned out", "accounts", len(accounts))
}
