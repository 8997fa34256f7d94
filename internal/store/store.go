// Package store is the Postgres persistence layer. It is handed to job
// handlers as an explicit constructor dependency; nothing in this module
// reaches for a package-level database handle.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadflow/outreach/internal/model"
)

// Postgres implements all persistence surfaces (campaigns, leads,
// recipients, accounts, warmup stats, events, activity, notifications).
type Postgres struct {
	db *sql.DB
}

// New wraps an opened database handle.
func New(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to Postgres with the pool settings the workers expect.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// DB exposes the underlying handle for advisory locks.
func (s *Postgres) DB() *sql.DB { return s.db }

func marshalMeta(meta map[string]any) []byte {
	if len(meta) == 0 {
		return []byte("{}")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// =============================================================================
// CAMPAIGNS
// =============================================================================

// GetCampaign loads one campaign including its decoded step list.
func (s *Postgres) GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	var (
		c        model.Campaign
		rawSteps []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, name, steps, sender_id, use_rotation, smart_sending_enabled,
		       status, total_leads, sent_count, reply_count, click_count, created_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.OrgID, &c.Name, &rawSteps, &c.SenderID, &c.UseRotation,
		&c.SmartSendingEnabled, &c.Status, &c.TotalLeads, &c.SentCount,
		&c.ReplyCount, &c.ClickCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Steps, err = model.DecodeSteps(rawSteps)
	if err != nil {
		return nil, fmt.Errorf("campaign %s has malformed steps: %w", id, err)
	}
	return &c, nil
}

var campaignCounters = map[string]bool{
	"sent_count":  true,
	"reply_count": true,
	"click_count": true,
}

// IncrementCampaignCounter bumps one aggregate counter column.
func (s *Postgres) IncrementCampaignCounter(ctx context.Context, id uuid.UUID, column string) error {
	if !campaignCounters[column] {
		return fmt.Errorf("unknown campaign counter %q", column)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, column, column), id)
	return err
}

// RefreshCampaignTotalLeads sets total_leads from the actual enrollment
// count. Relaunching with a subset of leads must never shrink the total.
func (s *Postgres) RefreshCampaignTotalLeads(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET total_leads = (SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id = $1),
		    updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

// SetCampaignStatus moves a campaign between lifecycle states.
func (s *Postgres) SetCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// =============================================================================
// LEADS
// =============================================================================

const leadColumns = `id, org_id, email, first_name, last_name, company, job_title, timezone, status`

func scanLead(row interface{ Scan(...any) error }) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(&l.ID, &l.OrgID, &l.Email, &l.FirstName, &l.LastName,
		&l.Company, &l.JobTitle, &l.Timezone, &l.Status)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLead loads one lead.
func (s *Postgres) GetLead(ctx context.Context, id uuid.UUID) (*model.Lead, error) {
	return scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

// ListLeadsByIDs loads the given leads; missing ids are silently absent.
func (s *Postgres) ListLeadsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows)
}

// ListNewLeads returns all not-yet-contacted leads in an org. Legacy launch
// fallback when no explicit lead list is given.
func (s *Postgres) ListNewLeads(ctx context.Context, orgID uuid.UUID) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE org_id = $1 AND status = 'new'`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLeads(rows)
}

func collectLeads(rows *sql.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *l)
	}
	return leads, rows.Err()
}

// MarkLeadReplied records the inbound message on the lead itself, separate
// from the per-campaign recipient status.
func (s *Postgres) MarkLeadReplied(ctx context.Context, id uuid.UUID, receivedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = 'replied', last_message_received_at = $2 WHERE id = $1
	`, id, receivedAt)
	return err
}
