package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/notify"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/store"
)

// Launcher enrolls leads into a campaign and seeds the first sequence
// step for each of them. Launching is idempotent: re-running it only
// enrolls pairs that do not exist yet and the step processor's own
// guards make duplicate step-0 jobs no-ops.
type Launcher struct {
	store    *store.Postgres
	queue    *queue.Queue
	events   *Events
	notifier *notify.Notifier
	log      *logger.Logger
}

func NewLauncher(st *store.Postgres, q *queue.Queue, ev *Events, n *notify.Notifier) *Launcher {
	return &Launcher{
		store:    st,
		queue:    q,
		events:   ev,
		notifier: n,
		log:      logger.With("launcher"),
	}
}

// Handle processes one campaign.launch job.
func (l *Launcher) Handle(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[queue.CampaignLaunchPayload](job)
	if err != nil {
		return queue.Permanent(err)
	}

	c, err := l.store.GetCampaign(ctx, p.CampaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return queue.Permanent(fmt.Errorf("campaign %s not found", p.CampaignID))
	}
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if c.Status == "cancelled" || c.Status == "archived" {
		l.log.Info("skipping launch of inactive campaign", "campaign_id", c.ID, "status", c.Status)
		return nil
	}
	if len(c.Steps) == 0 {
		return queue.Permanent(fmt.Errorf("campaign %s has no steps", c.ID))
	}

	leads, err := l.resolveLeads(ctx, p)
	if err != nil {
		return fmt.Errorf("resolve leads: %w", err)
	}
	if len(leads) == 0 {
		l.log.Warn("campaign launched with no leads", "campaign_id", c.ID)
		return l.store.SetCampaignStatus(ctx, c.ID, "active")
	}

	leadIDs := make([]uuid.UUID, len(leads))
	for i, lead := range leads {
		leadIDs[i] = lead.ID
	}
	if err := l.store.UpsertRecipients(ctx, p.OrgID, c.ID, leadIDs); err != nil {
		return fmt.Errorf("enroll recipients: %w", err)
	}
	if err := l.store.RefreshCampaignTotalLeads(ctx, c.ID); err != nil {
		return fmt.Errorf("refresh total leads: %w", err)
	}
	if err := l.store.SetCampaignStatus(ctx, c.ID, "active"); err != nil {
		return fmt.Errorf("activate campaign: %w", err)
	}

	enqueued := 0
	for _, id := range leadIDs {
		err := l.queue.Enqueue(ctx, queue.TypeEmailProcess, queue.EmailProcessPayload{
			CampaignID: c.ID,
			LeadID:     id,
			StepIdx:    0,
			OrgID:      p.OrgID,
		}, 0)
		if err != nil {
			// Keep seeding the rest; the missing pairs surface on relaunch.
			l.log.Error("seed first step", "campaign_id", c.ID, "lead_id", id, "error", err)
			continue
		}
		enqueued++
	}

	l.events.Activity(ctx, &model.Activity{
		OrgID:       p.OrgID,
		ActionType:  "campaign_launched",
		Description: fmt.Sprintf("Campaign %q launched to %d leads", c.Name, len(leads)),
		Metadata:    map[string]any{"campaign_id": c.ID.String(), "total_leads": len(leads)},
	})
	l.notifier.OrgAdmins(ctx, p.OrgID, model.Notification{
		Title:       "Campaign launched",
		Description: fmt.Sprintf("%q is now sending to %d leads.", c.Name, len(leads)),
		Type:        "success",
		Category:    "campaign_updates",
	})

	l.log.Info("campaign launched",
		"campaign_id", c.ID, "leads", len(leads), "seeded", enqueued)
	return nil
}

// resolveLeads prefers the explicit lead list. Launch requests that omit
// it fall back to every not-yet-contacted lead in the org.
func (l *Launcher) resolveLeads(ctx context.Context, p queue.CampaignLaunchPayload) ([]model.Lead, error) {
	if len(p.LeadIDs) > 0 {
		return l.store.ListLeadsByIDs(ctx, p.LeadIDs)
	}
	return l.store.ListNewLeads(ctx, p.OrgID)
}
