package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

// EnsureTodayWarmupStat lazily creates the per-account stat row for today.
// Safe to call on every tick; the conflict target makes it idempotent.
func (s *Postgres) EnsureTodayWarmupStat(ctx context.Context, accountID, orgID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warmup_stats (id, account_id, org_id, date)
		VALUES (gen_random_uuid(), $1, $2, CURRENT_DATE)
		ON CONFLICT (account_id, date) DO NOTHING
	`, accountID, orgID)
	return err
}

var warmupCounters = map[string]bool{
	"sent_count":    true,
	"inbox_count":   true,
	"spam_count":    true,
	"replies_count": true,
}

// IncrementWarmupStat atomically bumps one counter on today's row.
// Counters only ever go up.
func (s *Postgres) IncrementWarmupStat(ctx context.Context, accountID uuid.UUID, column string) error {
	if !warmupCounters[column] {
		return fmt.Errorf("unknown warmup counter %q", column)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE warmup_stats SET %s = %s + 1 WHERE account_id = $1 AND date = CURRENT_DATE`,
			column, column), accountID)
	return err
}

// TodayWarmupStat returns today's counters for an account. A missing row
// reads as all zeroes.
func (s *Postgres) TodayWarmupStat(ctx context.Context, accountID uuid.UUID) (*model.WarmupStat, error) {
	return s.warmupStatOn(ctx, accountID, "CURRENT_DATE")
}

// PriorDayWarmupStat returns yesterday's counters, used by the nightly
// ramp-up to judge account health.
func (s *Postgres) PriorDayWarmupStat(ctx context.Context, accountID uuid.UUID) (*model.WarmupStat, error) {
	return s.warmupStatOn(ctx, accountID, "CURRENT_DATE - 1")
}

func (s *Postgres) warmupStatOn(ctx context.Context, accountID uuid.UUID, dateExpr string) (*model.WarmupStat, error) {
	stat := &model.WarmupStat{AccountID: accountID, Date: time.Now().UTC()}
	err := s.db.QueryRowContext(ctx, `
		SELECT sent_count, inbox_count, spam_count, replies_count
		FROM warmup_stats WHERE account_id = $1 AND date = `+dateExpr,
		accountID).Scan(&stat.SentCount, &stat.InboxCount, &stat.SpamCount, &stat.RepliesCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stat, nil
		}
		return nil, err
	}
	return stat, nil
}
