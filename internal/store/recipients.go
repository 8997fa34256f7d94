package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadflow/outreach/internal/model"
)

const recipientColumns = `id, org_id, campaign_id, lead_id, status, engagement,
	current_step, next_send_at, last_sent_at, replied_at, opens, clicks`

func scanRecipient(row interface{ Scan(...any) error }) (*model.CampaignRecipient, error) {
	var r model.CampaignRecipient
	err := row.Scan(&r.ID, &r.OrgID, &r.CampaignID, &r.LeadID, &r.Status, &r.Engagement,
		&r.CurrentStep, &r.NextSendAt, &r.LastSentAt, &r.RepliedAt, &r.Opens, &r.Clicks)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRecipients enrolls leads into a campaign. The (campaign_id, lead_id)
// conflict target makes re-running a launch a no-op for pairs that already
// exist, so already-advanced recipients are never reset.
func (s *Postgres) UpsertRecipients(ctx context.Context, orgID, campaignID uuid.UUID, leadIDs []uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_recipients (id, org_id, campaign_id, lead_id, status, engagement, current_step, next_send_at)
		SELECT gen_random_uuid(), $1, $2, lead_id, 'active', 'pending', 0, NOW()
		FROM unnest($3::uuid[]) AS lead_id
		ON CONFLICT (campaign_id, lead_id) DO NOTHING
	`, orgID, campaignID, pq.Array(leadIDs))
	return err
}

// GetRecipient loads the state row for one (campaign, lead) pair.
func (s *Postgres) GetRecipient(ctx context.Context, campaignID, leadID uuid.UUID) (*model.CampaignRecipient, error) {
	return scanRecipient(s.db.QueryRowContext(ctx,
		`SELECT `+recipientColumns+` FROM campaign_recipients WHERE campaign_id = $1 AND lead_id = $2`,
		campaignID, leadID))
}

// AdvanceRecipient records a successful send of stepIdx, moving the pair
// to stepIdx+1. The conditional WHERE clause is the race guard: it only
// fires while the pair is still active and has not advanced past this
// step, so a concurrent duplicate delivery becomes a no-op. Returns false
// when the guard rejected the update.
func (s *Postgres) AdvanceRecipient(ctx context.Context, campaignID, leadID uuid.UUID, stepIdx int, nextSendAt sql.NullTime) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients
		SET current_step = $3 + 1, last_sent_at = NOW(), next_send_at = $4
		WHERE campaign_id = $1 AND lead_id = $2
		  AND status = 'active' AND current_step <= $3
	`, campaignID, leadID, stepIdx, nextSendAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteRecipient marks a pair completed once the sequence is exhausted.
func (s *Postgres) CompleteRecipient(ctx context.Context, campaignID, leadID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'completed', next_send_at = NULL
		WHERE campaign_id = $1 AND lead_id = $2 AND status = 'active'
	`, campaignID, leadID)
	return err
}

// MarkRecipientReplied flips one pair to replied. Only active pairs
// transition; terminal states are never overwritten.
func (s *Postgres) MarkRecipientReplied(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'replied', replied_at = $2, next_send_at = NULL
		WHERE id = $1 AND status = 'active'
	`, id, at)
	return err
}

// MarkRecipientUnsubscribed flips one pair to unsubscribed.
func (s *Postgres) MarkRecipientUnsubscribed(ctx context.Context, campaignID, leadID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = 'unsubscribed', next_send_at = NULL
		WHERE campaign_id = $1 AND lead_id = $2 AND status IN ('active', 'paused')
	`, campaignID, leadID)
	return err
}

// TransitionRecipients bulk-moves all pairs of a campaign from one status
// to another (pause/resume/stop). Already-enqueued delayed jobs are not
// retracted; they no-op at the runtime status gate.
func (s *Postgres) TransitionRecipients(ctx context.Context, campaignID uuid.UUID, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaign_recipients SET status = $3
		WHERE campaign_id = $1 AND status = $2
	`, campaignID, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ActiveRecipientsByLeadEmail finds every active pair whose lead owns the
// given address. The reply watcher uses it to stop sequences on reply.
func (s *Postgres) ActiveRecipientsByLeadEmail(ctx context.Context, email string) ([]model.CampaignRecipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.org_id, r.campaign_id, r.lead_id, r.status, r.engagement,
		       r.current_step, r.next_send_at, r.last_sent_at, r.replied_at, r.opens, r.clicks
		FROM campaign_recipients r
		JOIN leads l ON l.id = r.lead_id
		WHERE LOWER(l.email) = LOWER($1) AND r.status = 'active'
	`, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []model.CampaignRecipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *r)
	}
	return recipients, rows.Err()
}

var recipientCounters = map[string]bool{
	"opens":  true,
	"clicks": true,
}

// IncrementRecipientCounter bumps opens or clicks for one pair.
func (s *Postgres) IncrementRecipientCounter(ctx context.Context, campaignID, leadID uuid.UUID, column string) error {
	if !recipientCounters[column] {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaign_recipients SET `+column+` = `+column+` + 1 WHERE campaign_id = $1 AND lead_id = $2`,
		campaignID, leadID)
	return err
}
