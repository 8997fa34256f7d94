package warmup

import (
	"context"
	"time"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/store"
)

const (
	rampStartLimit = 5
	rampIncrement  = 5
	rampMaxLimit   = 100
	rampEvery      = 24 * time.Hour
)

// Ramp adjusts per-account daily limits nightly. A healthy prior day
// (traffic went out, nothing hit spam) earns a volume bump; spam
// sightings halve the limit so the account backs off before providers
// start throttling it.
type Ramp struct {
	store *store.Postgres
	log   *logger.Logger
}

func NewRamp(st *store.Postgres) *Ramp {
	return &Ramp{store: st, log: logger.With("warmup-ramp")}
}

// Run adjusts once immediately, then nightly until ctx is cancelled.
func (r *Ramp) Run(ctx context.Context) {
	r.adjustAll(ctx)
	ticker := time.NewTicker(rampEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.adjustAll(ctx)
		}
	}
}

func (r *Ramp) adjustAll(ctx context.Context) {
	accounts, err := r.store.ListWarmupAccounts(ctx)
	if err != nil {
		r.log.Error("list warmup accounts", "error", err)
		return
	}
	for _, account := range accounts {
		if err := r.adjust(ctx, &account); err != nil {
			r.log.Warn("adjust warmup limit", "account_id", account.ID, "error", err)
		}
	}
}

func (r *Ramp) adjust(ctx context.Context, account *model.EmailAccount) error {
	stat, err := r.store.PriorDayWarmupStat(ctx, account.ID)
	if err != nil {
		return err
	}

	limit := account.WarmupDailyLimit
	if limit <= 0 {
		limit = rampStartLimit
	}
	switch {
	case stat.SpamCount > 0:
		limit = max(rampStartLimit, limit/2)
	case stat.SentCount > 0:
		limit = min(rampMaxLimit, limit+rampIncrement)
	default:
		// No traffic yesterday, hold steady.
		return nil
	}
	if limit == account.WarmupDailyLimit {
		return nil
	}

	if err := r.store.SetAccountDailyLimit(ctx, account.ID, limit); err != nil {
		return err
	}
	r.log.Info("warmup limit adjusted",
		"account_id", account.ID, "from", account.WarmupDailyLimit, "to", limit,
		"sent", stat.SentCount, "spam", stat.SpamCount)
	return nil
}
