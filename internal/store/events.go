package store

import (
	"context"
	"time"

	"github.com/leadflow/outreach/internal/model"
)

// InsertEvent appends one immutable row to the email event log. The log is
// never updated or deleted by this engine.
func (s *Postgres) InsertEvent(ctx context.Context, e *model.EmailEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_events (id, campaign_id, lead_id, step_number, event_type,
			message_id, url, user_agent, ip_address, metadata, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, e.CampaignID, e.LeadID, e.StepNumber, e.Type, e.MessageID, e.URL,
		e.UserAgent, e.IPAddress, marshalMeta(e.Metadata))
	return err
}

// HasEvent reports whether an event of the given type was already logged
// for a (campaign, lead) pair. Used for the synthetic delivery-on-open.
func (s *Postgres) HasEvent(ctx context.Context, e *model.EmailEvent) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_events
			WHERE campaign_id = $1 AND lead_id = $2 AND event_type = $3
		)
	`, e.CampaignID, e.LeadID, e.Type).Scan(&exists)
	return exists, err
}

// ProjectEngagement folds one event onto the recipient pair's engagement
// column. Opens never regress a later state: they only apply over
// sent/delivered.
func (s *Postgres) ProjectEngagement(ctx context.Context, e *model.EmailEvent) error {
	var (
		query string
		args  = []any{e.CampaignID, e.LeadID}
	)
	switch e.Type {
	case model.EventSent:
		query = `UPDATE campaign_recipients SET engagement = 'sent'
			WHERE campaign_id = $1 AND lead_id = $2 AND engagement = 'pending'`
	case model.EventDelivery:
		query = `UPDATE campaign_recipients SET engagement = 'delivered'
			WHERE campaign_id = $1 AND lead_id = $2 AND engagement IN ('pending', 'sent')`
	case model.EventOpen:
		query = `UPDATE campaign_recipients SET engagement = 'opened', opened_at = NOW()
			WHERE campaign_id = $1 AND lead_id = $2 AND engagement IN ('sent', 'delivered')`
	case model.EventClick:
		query = `UPDATE campaign_recipients SET engagement = 'clicked', clicked_at = NOW()
			WHERE campaign_id = $1 AND lead_id = $2`
	case model.EventBounce:
		query = `UPDATE campaign_recipients SET engagement = 'bounced', bounced_at = NOW()
			WHERE campaign_id = $1 AND lead_id = $2`
	case model.EventComplaint:
		query = `UPDATE campaign_recipients SET engagement = 'complained'
			WHERE campaign_id = $1 AND lead_id = $2`
	case model.EventUnsubscribe:
		query = `UPDATE campaign_recipients SET engagement = 'unsubscribed', unsubscribed_at = NOW()
			WHERE campaign_id = $1 AND lead_id = $2`
	default:
		return nil
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// InsertActivity appends one human-readable activity trail entry.
func (s *Postgres) InsertActivity(ctx context.Context, a *model.Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, org_id, lead_id, action_type, description, metadata, created_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NOW())
	`, a.OrgID, a.LeadID, a.ActionType, a.Description, marshalMeta(a.Metadata))
	return err
}

// DeleteActivityBefore prunes activity entries older than the cutoff
// (nightly retention sweep). The email event log is not touched.
func (s *Postgres) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
