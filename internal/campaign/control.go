package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/store"
)

// Control moves campaigns between lifecycle states. It only flips row
// state; delayed step jobs already in the queue are never retracted and
// instead no-op at the processor's status gate. A resume therefore does
// not replay sends that were skipped while paused, it only lets future
// jobs through again.
type Control struct {
	store *store.Postgres
	log   *logger.Logger
}

func NewControl(st *store.Postgres) *Control {
	return &Control{store: st, log: logger.With("control")}
}

// Pause suspends an active campaign and its active recipients.
func (c *Control) Pause(ctx context.Context, campaignID uuid.UUID) error {
	if err := c.store.SetCampaignStatus(ctx, campaignID, "paused"); err != nil {
		return fmt.Errorf("pause campaign: %w", err)
	}
	n, err := c.store.TransitionRecipients(ctx, campaignID, "active", "paused")
	if err != nil {
		return fmt.Errorf("pause recipients: %w", err)
	}
	c.log.Info("campaign paused", "campaign_id", campaignID, "recipients", n)
	return nil
}

// Resume reactivates a paused campaign. Recipients whose next_send_at
// passed while paused pick up on their already-queued jobs.
func (c *Control) Resume(ctx context.Context, campaignID uuid.UUID) error {
	if err := c.store.SetCampaignStatus(ctx, campaignID, "active"); err != nil {
		return fmt.Errorf("resume campaign: %w", err)
	}
	n, err := c.store.TransitionRecipients(ctx, campaignID, "paused", "active")
	if err != nil {
		return fmt.Errorf("resume recipients: %w", err)
	}
	c.log.Info("campaign resumed", "campaign_id", campaignID, "recipients", n)
	return nil
}

// Stop cancels a campaign permanently. Terminal recipient states
// (replied, unsubscribed, completed) are left untouched.
func (c *Control) Stop(ctx context.Context, campaignID uuid.UUID) error {
	if err := c.store.SetCampaignStatus(ctx, campaignID, "cancelled"); err != nil {
		return fmt.Errorf("stop campaign: %w", err)
	}
	var total int64
	for _, from := range []string{"active", "paused"} {
		n, err := c.store.TransitionRecipients(ctx, campaignID, from, "cancelled")
		if err != nil {
			return fmt.Errorf("cancel %s recipients: %w", from, err)
		}
		total += n
	}
	c.log.Info("campaign stopped", "campaign_id", campaignID, "recipients", total)
	return nil
}
