package campaign

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/leadflow/outreach/internal/model"
	"github.com/leadflow/outreach/internal/pkg/distlock"
	"github.com/leadflow/outreach/internal/pkg/logger"
	"github.com/leadflow/outreach/internal/plan"
	"github.com/leadflow/outreach/internal/queue"
	"github.com/leadflow/outreach/internal/schedule"
	"github.com/leadflow/outreach/internal/store"
	"github.com/leadflow/outreach/internal/template"
	"github.com/leadflow/outreach/internal/tracking"
	"github.com/leadflow/outreach/internal/transport"
)

const sendLockTTL = 2 * time.Minute

// StepOutcome is the terminal state of one step invocation.
type StepOutcome string

const (
	// OutcomeSent: the step went out and the next one is scheduled.
	OutcomeSent StepOutcome = "sent"
	// OutcomeCompleted: the sequence is exhausted for this recipient.
	OutcomeCompleted StepOutcome = "completed"
	// OutcomeSkipped: a status gate stopped the send (replied,
	// unsubscribed, paused, dead subscription).
	OutcomeSkipped StepOutcome = "skipped"
	// OutcomeDuplicate: another invocation already handled this step.
	OutcomeDuplicate StepOutcome = "duplicate"
)

// SenderResolver yields the delivery transport for a sending account.
// *transport.Registry is the production implementation.
type SenderResolver interface {
	ForAccount(account *model.EmailAccount) (transport.Sender, error)
}

// Processor runs one sequence step for one recipient. Delivery is
// at-least-once, so every invocation re-derives its decision from
// current row state: status gate, step bound check, send, conditional
// advance, schedule next. Cancellation is best-effort; jobs enqueued
// before a pause or stop still fire and no-op at the status gate here.
type Processor struct {
	store     *store.Postgres
	queue     *queue.Queue
	events    *Events
	registry  SenderResolver
	pool      *transport.Pool
	scheduler *schedule.Scheduler
	gate      *plan.Gate
	rdb       *redis.Client
	baseURL   string
	log       *logger.Logger
}

func NewProcessor(st *store.Postgres, q *queue.Queue, ev *Events, reg SenderResolver,
	pool *transport.Pool, sched *schedule.Scheduler, gate *plan.Gate,
	rdb *redis.Client, baseURL string) *Processor {
	return &Processor{
		store:     st,
		queue:     q,
		events:    ev,
		registry:  reg,
		pool:      pool,
		scheduler: sched,
		gate:      gate,
		rdb:       rdb,
		baseURL:   baseURL,
		log:       logger.With("processor"),
	}
}

// Handle processes one campaign.email.process job.
func (pr *Processor) Handle(ctx context.Context, job queue.Job) error {
	p, err := queue.Decode[queue.EmailProcessPayload](job)
	if err != nil {
		return queue.Permanent(err)
	}
	outcome, err := pr.process(ctx, p)
	if err != nil {
		return err
	}
	pr.log.Info("step processed",
		"campaign_id", p.CampaignID, "lead_id", p.LeadID, "step", p.StepIdx, "outcome", string(outcome))
	return nil
}

func (pr *Processor) process(ctx context.Context, p queue.EmailProcessPayload) (StepOutcome, error) {
	c, err := pr.store.GetCampaign(ctx, p.CampaignID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", queue.Permanent(fmt.Errorf("campaign %s not found", p.CampaignID))
	}
	if err != nil {
		return "", fmt.Errorf("load campaign: %w", err)
	}
	if c.Status != "active" {
		return OutcomeSkipped, nil
	}

	canSend, err := pr.gate.CanSend(ctx, p.OrgID)
	if err != nil {
		return "", fmt.Errorf("check subscription: %w", err)
	}
	if !canSend {
		pr.log.Warn("send blocked by dead subscription", "org_id", p.OrgID, "campaign_id", c.ID)
		return OutcomeSkipped, nil
	}

	lock := distlock.ForRecipient(pr.rdb, pr.store.DB(), p.CampaignID, p.LeadID, sendLockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire send lock: %w", err)
	}
	if !acquired {
		return "", fmt.Errorf("send lock held for %s/%s", p.CampaignID, p.LeadID)
	}
	defer lock.Release(ctx)

	// Row state is read under the lock so the gate and the bound check
	// see what the previous holder left behind.
	r, err := pr.store.GetRecipient(ctx, p.CampaignID, p.LeadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", queue.Permanent(fmt.Errorf("recipient %s/%s not enrolled", p.CampaignID, p.LeadID))
	}
	if err != nil {
		return "", fmt.Errorf("load recipient: %w", err)
	}
	if r.Status != model.StatusActive {
		return OutcomeSkipped, nil
	}
	if r.CurrentStep > p.StepIdx {
		return OutcomeDuplicate, nil
	}

	step := c.StepAt(p.StepIdx)
	if step == nil {
		if err := pr.store.CompleteRecipient(ctx, p.CampaignID, p.LeadID); err != nil {
			return "", fmt.Errorf("complete recipient: %w", err)
		}
		return OutcomeCompleted, nil
	}

	lead, err := pr.store.GetLead(ctx, p.LeadID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", queue.Permanent(fmt.Errorf("lead %s not found", p.LeadID))
	}
	if err != nil {
		return "", fmt.Errorf("load lead: %w", err)
	}

	account, sender, err := pr.selectSender(ctx, c)
	if err != nil {
		return "", err
	}

	msg := pr.render(c, lead, step, p.StepIdx, account)
	result, err := sender.Send(ctx, msg)
	if err != nil {
		pr.events.Activity(ctx, &model.Activity{
			OrgID:       p.OrgID,
			LeadID:      uuidNull(p.LeadID),
			ActionType:  "email_failed",
			Description: fmt.Sprintf("Step %d of %q failed", p.StepIdx+1, c.Name),
			Metadata:    map[string]any{"campaign_id": c.ID.String(), "step": p.StepIdx, "error": err.Error()},
		})
		return "", fmt.Errorf("send step %d: %w", p.StepIdx, err)
	}

	pr.events.Record(ctx, &model.EmailEvent{
		CampaignID: c.ID,
		LeadID:     p.LeadID,
		StepNumber: p.StepIdx,
		Type:       model.EventSent,
		MessageID:  result.MessageID,
		Metadata:   map[string]any{"provider": result.Provider, "account": account.Email},
	})
	if err := pr.store.IncrementCampaignCounter(ctx, c.ID, "sent_count"); err != nil {
		pr.log.Warn("increment sent count", "campaign_id", c.ID, "error", err)
	}
	pr.events.Activity(ctx, &model.Activity{
		OrgID:       p.OrgID,
		LeadID:      uuidNull(p.LeadID),
		ActionType:  "email_sent",
		Description: fmt.Sprintf("Step %d of %q sent", p.StepIdx+1, c.Name),
		Metadata:    map[string]any{"campaign_id": c.ID.String(), "step": p.StepIdx},
	})

	return pr.advance(ctx, p, c, lead)
}

// advance moves the recipient past the step just sent and schedules the
// next one, or completes the pair when the sequence is exhausted.
func (pr *Processor) advance(ctx context.Context, p queue.EmailProcessPayload,
	c *model.Campaign, lead *model.Lead) (StepOutcome, error) {

	next := c.StepAt(p.StepIdx + 1)
	if next == nil {
		if _, err := pr.store.AdvanceRecipient(ctx, p.CampaignID, p.LeadID, p.StepIdx, sql.NullTime{}); err != nil {
			return "", fmt.Errorf("advance recipient: %w", err)
		}
		if err := pr.store.CompleteRecipient(ctx, p.CampaignID, p.LeadID); err != nil {
			return "", fmt.Errorf("complete recipient: %w", err)
		}
		return OutcomeCompleted, nil
	}

	target := pr.nextSendTime(ctx, p.OrgID, c, lead, next)
	advanced, err := pr.store.AdvanceRecipient(ctx, p.CampaignID, p.LeadID, p.StepIdx,
		sql.NullTime{Time: target, Valid: true})
	if err != nil {
		return "", fmt.Errorf("advance recipient: %w", err)
	}
	if !advanced {
		// Lost a race after we already sent; the winner scheduled the
		// next step, so do not schedule a second copy.
		pr.log.Warn("advance guard rejected after send",
			"campaign_id", p.CampaignID, "lead_id", p.LeadID, "step", p.StepIdx)
		return OutcomeDuplicate, nil
	}

	err = pr.queue.Enqueue(ctx, queue.TypeEmailProcess, queue.EmailProcessPayload{
		CampaignID: p.CampaignID,
		LeadID:     p.LeadID,
		StepIdx:    p.StepIdx + 1,
		OrgID:      p.OrgID,
	}, pr.scheduler.DelayUntil(target))
	if err != nil {
		return "", fmt.Errorf("schedule next step: %w", err)
	}
	return OutcomeSent, nil
}

// nextSendTime applies the smart scheduler when the campaign wants it and
// the plan still has quota; otherwise the naive wait applies.
func (pr *Processor) nextSendTime(ctx context.Context, orgID uuid.UUID,
	c *model.Campaign, lead *model.Lead, next *model.Step) time.Time {

	earliest := time.Now().UTC().Add(time.Duration(next.WaitDays) * 24 * time.Hour)
	if !c.SmartSendingEnabled {
		return earliest
	}

	ok, err := pr.gate.CanSmartSend(ctx, orgID)
	if err != nil {
		pr.log.Warn("smart send gate", "org_id", orgID, "error", err)
		return earliest
	}
	if !ok {
		return earliest
	}
	if err := pr.store.IncrementSmartSends(ctx, orgID); err != nil {
		pr.log.Warn("count smart send", "org_id", orgID, "error", err)
	}
	return pr.scheduler.OptimalSendTime(earliest, lead)
}

// selectSender resolves the sending account per campaign policy: the
// rotation pool, then the explicitly chosen account, then the org's
// oldest active account.
func (pr *Processor) selectSender(ctx context.Context, c *model.Campaign) (*model.EmailAccount, transport.Sender, error) {
	var (
		account *model.EmailAccount
		err     error
	)
	switch {
	case c.UseRotation:
		nodes, lerr := pr.store.ListRotationNodes(ctx)
		if lerr != nil {
			return nil, nil, fmt.Errorf("list rotation nodes: %w", lerr)
		}
		account, err = pr.pool.Next(ctx, nodes)
		if err != nil {
			return nil, nil, fmt.Errorf("pick rotation node: %w", err)
		}
	case c.SenderID.Valid:
		account, err = pr.store.GetAccount(ctx, c.SenderID.UUID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, queue.Permanent(fmt.Errorf("sender account %s not found", c.SenderID.UUID))
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load sender account: %w", err)
		}
	default:
		account, err = pr.store.FirstActiveAccount(ctx, c.OrgID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, queue.Permanent(fmt.Errorf("org %s has no active sending account", c.OrgID))
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load fallback account: %w", err)
		}
	}

	sender, err := pr.registry.ForAccount(account)
	if err != nil {
		return nil, nil, queue.Permanent(fmt.Errorf("build sender: %w", err))
	}
	return account, sender, nil
}

// render produces the final message: merge fields, HTML conversion, the
// unsubscribe footer, then tracking injection.
func (pr *Processor) render(c *model.Campaign, lead *model.Lead, step *model.Step,
	stepIdx int, account *model.EmailAccount) *transport.Message {

	fields := lead.MergeFields()
	token := tracking.Token{CampaignID: c.ID, LeadID: lead.ID, Step: stepIdx}.Encode()

	html := template.ToHTML(template.Merge(step.Body, fields))
	html += template.UnsubscribeFooter(pr.baseURL, token)
	html = template.InjectTracking(html, pr.baseURL, token)

	return &transport.Message{
		To:         lead.Email,
		FromEmail:  account.Email,
		FromName:   account.FromName,
		Subject:    template.Merge(step.Subject, fields),
		HTML:       html,
		CampaignID: c.ID.String(),
		LeadID:     lead.ID.String(),
	}
}

func uuidNull(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: true}
}
