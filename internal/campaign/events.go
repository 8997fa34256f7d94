package campaign

import (
	"context"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/store"
)

// Events records email events and keeps the per-recipient engagement
// projection and counters in step with them. Recording is best-effort:
// an event that fails to persist is logged and dropped rather than
// failing the send or the tracking hit that produced it.
type Events struct {
	store *store.Postgres
	log   *logger.Logger
}

func NewEvents(st *store.Postgres) *Events {
	return &Events{store: st, log: logger.With("events")}
}

// Record appends the event, folds it into the engagement projection and
// bumps the derived counters.
func (e *Events) Record(ctx context.Context, ev *model.EmailEvent) {
	// Pixel fires prove delivery. Providers without delivery webhooks
	// never emit one, so the first open backfills it.
	if ev.Type == model.EventOpen {
		e.ensureDelivery(ctx, ev)
	}

	if err := e.store.InsertEvent(ctx, ev); err != nil {
		e.log.Warn("insert event", "type", ev.Type, "campaign_id", ev.CampaignID, "error", err)
		return
	}
	if err := e.store.ProjectEngagement(ctx, ev); err != nil {
		e.log.Warn("project engagement", "type", ev.Type, "campaign_id", ev.CampaignID, "error", err)
	}

	switch ev.Type {
	case model.EventOpen:
		if err := e.store.IncrementRecipientCounter(ctx, ev.CampaignID, ev.LeadID, "opens"); err != nil {
			e.log.Warn("increment opens", "campaign_id", ev.CampaignID, "error", err)
		}
	case model.EventClick:
		if err := e.store.IncrementRecipientCounter(ctx, ev.CampaignID, ev.LeadID, "clicks"); err != nil {
			e.log.Warn("increment clicks", "campaign_id", ev.CampaignID, "error", err)
		}
		if err := e.store.IncrementCampaignCounter(ctx, ev.CampaignID, "click_count"); err != nil {
			e.log.Warn("increment campaign clicks", "campaign_id", ev.CampaignID, "error", err)
		}
	case model.EventUnsubscribe:
		if err := e.store.MarkRecipientUnsubscribed(ctx, ev.CampaignID, ev.LeadID); err != nil {
			e.log.Warn("mark unsubscribed", "campaign_id", ev.CampaignID, "error", err)
		}
	}
}

func (e *Events) ensureDelivery(ctx context.Context, open *model.EmailEvent) {
	probe := &model.EmailEvent{CampaignID: open.CampaignID, LeadID: open.LeadID, Type: model.EventDelivery}
	has, err := e.store.HasEvent(ctx, probe)
	if err != nil {
		e.log.Warn("check delivery event", "campaign_id", open.CampaignID, "error", err)
		return
	}
	if has {
		return
	}
	synthetic := &model.EmailEvent{
		CampaignID: open.CampaignID,
		LeadID:     open.LeadID,
		StepNumber: open.StepNumber,
		Type:       model.EventDelivery,
		Metadata:   map[string]any{"inferred_from": "open"},
	}
	if err := e.store.InsertEvent(ctx, synthetic); err != nil {
		e.log.Warn("insert inferred delivery", "campaign_id", open.CampaignID, "error", err)
		return
	}
	if err := e.store.ProjectEngagement(ctx, synthetic); err != nil {
		e.log.Warn("project inferred delivery", "campaign_id", open.CampaignID, "error", err)
	}
}

// Activity appends a human-readable trail entry, best-effort.
func (e *Events) Activity(ctx context.Context, a *model.Activity) {
	if err := e.store.InsertActivity(ctx, a); err != nil {
		e.log.Warn("insert activity", "action", a.ActionType, "error", err)
	}
}
