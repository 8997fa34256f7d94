package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
)

const accountColumns = `id, org_id, email, from_name, provider, config, status,
	warmup_enabled, warmup_status, warmup_daily_limit, warmup_started_at`

func scanAccount(row interface{ Scan(...any) error }) (*model.EmailAccount, error) {
	var (
		a         model.EmailAccount
		rawConfig []byte
	)
	err := row.Scan(&a.ID, &a.OrgID, &a.Email, &a.FromName, &a.Provider, &rawConfig,
		&a.Status, &a.WarmupEnabled, &a.WarmupStatus, &a.WarmupDailyLimit, &a.WarmupStartedAt)
	if err != nil {
		return nil, err
	}
	if len(rawConfig) > 0 {
		if err := json.Unmarshal(rawConfig, &a.Config); err != nil {
			return nil, fmt.Errorf("account %s has malformed config: %w", a.ID, err)
		}
	}
	return &a, nil
}

// GetAccount loads one sending account.
func (s *Postgres) GetAccount(ctx context.Context, id uuid.UUID) (*model.EmailAccount, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM email_accounts WHERE id = $1`, id))
}

// FirstActiveAccount returns the org's oldest active sending account, the
// last-resort fallback of the sender selection policy.
func (s *Postgres) FirstActiveAccount(ctx context.Context, orgID uuid.UUID) (*model.EmailAccount, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT `+accountColumns+` FROM email_accounts
		WHERE org_id = $1 AND status = 'active'
		ORDER BY created_at ASC LIMIT 1
	`, orgID))
}

// ListActiveAccounts returns every active account across orgs, for the
// mailbox sync fan-out.
func (s *Postgres) ListActiveAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM email_accounts WHERE status IN ('active', 'warming_up')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListWarmupAccounts returns accounts enrolled in warmup.
func (s *Postgres) ListWarmupAccounts(ctx context.Context) ([]model.EmailAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM email_accounts WHERE warmup_enabled = true`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]model.EmailAccount, error) {
	var accounts []model.EmailAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// SetAccountDailyLimit updates the warmup pacing limit (nightly ramp-up).
func (s *Postgres) SetAccountDailyLimit(ctx context.Context, id uuid.UUID, limit int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE email_accounts SET warmup_daily_limit = $2 WHERE id = $1`, id, limit)
	return err
}

// =============================================================================
// ORGANIZATIONS
// =============================================================================

// GetOrganization loads the billing gate fields for an org.
func (s *Postgres) GetOrganization(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	var o model.Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, plan_id, subscription_status, smart_sends_used
		FROM organizations WHERE id = $1
	`, id).Scan(&o.ID, &o.Name, &o.PlanID, &o.SubscriptionStatus, &o.SmartSendsUsed)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// IncrementSmartSends bumps the monthly smart-send usage counter.
func (s *Postgres) IncrementSmartSends(ctx context.Context, orgID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET smart_sends_used = smart_sends_used + 1 WHERE id = $1`, orgID)
	return err
}

// ListOrgAdminIDs returns the user ids notifications fan out to.
func (s *Postgres) ListOrgAdminIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM users WHERE org_id = $1 AND role = 'admin'`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertNotifications writes dashboard notification rows.
func (s *Postgres) InsertNotifications(ctx context.Context, notifications []model.Notification) error {
	for _, n := range notifications {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO notifications (id, user_id, org_id, title, description, type, category, link)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		`, n.UserID, n.OrgID, n.Title, n.Description, n.Type, n.Category, n.Link)
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ROTATION POOL
// =============================================================================

// ListRotationNodes returns the active pooled-reputation sending nodes in a
// stable order so the round-robin cursor is meaningful.
func (s *Postgres) ListRotationNodes(ctx context.Context) ([]model.RotationNode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, host, port, username, password, from_email, from_name, active
		FROM rotation_nodes WHERE active = true ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []model.RotationNode
	for rows.Next() {
		var n model.RotationNode
		if err := rows.Scan(&n.ID, &n.Host, &n.Port, &n.Username, &n.Password,
			&n.FromEmail, &n.FromName, &n.Active); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
